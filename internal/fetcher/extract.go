package fetcher

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// extractParagraphs returns the normalized text of every <p> element that
// has no class attribute. Paragraphs that normalize to nothing are dropped.
func extractParagraphs(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("class"); ok {
			return
		}
		if line := Normalize(s.Text()); line != "" {
			out = append(out, line)
		}
	})
	return out, nil
}

// Normalize collapses whitespace runs to one space, drops every character
// outside [a-zA-Z0-9 .,:;] and trims the result.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
		case allowed(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(".,:;", r)
}
