// Package chunker splits documents into bounded, overlapping text segments
// for embedding.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidSize is returned when maxSize or overlap are out of range.
var ErrInvalidSize = errors.New("chunker: invalid size")

// Document is an immutable source text. A re-fetch produces a new Document.
type Document struct {
	ID        string
	SourceURI string
	RawText   string
}

// NewDocument builds a Document whose ID is the hex SHA-256 of raw.
func NewDocument(sourceURI, raw string) Document {
	sum := sha256.Sum256([]byte(raw))
	return Document{
		ID:        hex.EncodeToString(sum[:]),
		SourceURI: sourceURI,
		RawText:   raw,
	}
}

// Chunk is one segment of a Document. Start and End are byte offsets into
// Document.RawText and Text == RawText[Start:End].
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Start      int
	End        int
}

// Splitter cuts text into chunks of at most MaxSize runes. Adjacent chunks
// share exactly Overlap runes.
type Splitter struct {
	maxSize int
	overlap int
}

// NewSplitter validates 0 <= overlap < maxSize.
func NewSplitter(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidSize, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidSize, maxSize, overlap)
	}
	return &Splitter{maxSize: maxSize, overlap: overlap}, nil
}

func (s *Splitter) MaxSize() int { return s.maxSize }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns a lazy sequence of chunks. Each iteration starts over from
// the beginning of the document and yields the same chunks.
func (s *Splitter) Split(doc Document) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if doc.RawText == "" {
			return
		}
		runes, offsets := decode(doc.RawText)
		n := len(runes)

		emit := func(index, from, to int) bool {
			return yield(Chunk{
				DocumentID: doc.ID,
				Index:      index,
				Text:       doc.RawText[offsets[from]:offsets[to]],
				Start:      offsets[from],
				End:        offsets[to],
			})
		}

		start := 0
		for index := 0; ; index++ {
			if n-start <= s.maxSize {
				emit(index, start, n)
				return
			}
			cut := s.cut(runes, start)
			if !emit(index, start, cut) {
				return
			}
			start = cut - s.overlap
		}
	}
}

// Collect materializes Split.
func (s *Splitter) Collect(doc Document) []Chunk {
	return slices.Collect(s.Split(doc))
}

// cut picks the exclusive end of the chunk starting at start. Candidates lie
// in (start+overlap, start+maxSize] so the next chunk always advances.
func (s *Splitter) cut(runes []rune, start int) int {
	lo := start + s.overlap + 1
	hi := start + s.maxSize

	for _, boundary := range []func([]rune, int) bool{
		isParagraphEnd, isLineEnd, isSentenceEnd, isSpaceEnd,
	} {
		for i := hi; i >= lo; i-- {
			if boundary(runes, i) {
				return i
			}
		}
	}
	return hi
}

// The boundary predicates report whether a cut before runes[i] falls right
// after the named boundary.

func isParagraphEnd(runes []rune, i int) bool {
	return i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n'
}

func isLineEnd(runes []rune, i int) bool {
	return i >= 1 && runes[i-1] == '\n'
}

func isSentenceEnd(runes []rune, i int) bool {
	if i < 2 || !unicode.IsSpace(runes[i-1]) {
		return false
	}
	switch runes[i-2] {
	case '.', '!', '?':
		return true
	}
	return false
}

func isSpaceEnd(runes []rune, i int) bool {
	return i >= 1 && unicode.IsSpace(runes[i-1])
}

// decode returns the runes of text and the byte offset of each rune, plus a
// final entry equal to len(text). Invalid bytes count as one rune each so
// that slicing by offsets always reproduces the original bytes.
func decode(text string) ([]rune, []int) {
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		runes = append(runes, r)
		offsets = append(offsets, i)
		i += size
	}
	offsets = append(offsets, len(text))
	return runes, offsets
}

// Reconstruct joins chunks in order, dropping the leading overlap runes of
// every chunk after the first. For chunks produced by a Splitter with the
// same overlap the result equals the source text.
func Reconstruct(chunks []Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}
		b.WriteString(dropRunes(c.Text, overlap))
	}
	return b.String()
}

func dropRunes(text string, n int) string {
	i := 0
	for ; n > 0 && i < len(text); n-- {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return text[i:]
}

// RuneLen counts runes the way the Splitter does.
func RuneLen(text string) int {
	return utf8.RuneCountInString(text)
}
