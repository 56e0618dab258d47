package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manifest records what produced a corpus file. It lives next to the
// corpus as <corpus>.manifest.json.
type Manifest struct {
	SourcesHash string    `json:"sources_hash"`
	Sources     []string  `json:"sources"`
	FetchedAt   time.Time `json:"fetched_at"`
	Paragraphs  int       `json:"paragraphs"`
}

// ManifestPath returns the sidecar path for a corpus file.
func ManifestPath(corpus string) string {
	return corpus + ".manifest.json"
}

// SourcesHash identifies an ordered list of source URIs.
func SourcesHash(uris []string) string {
	sum := sha256.Sum256([]byte(strings.Join(uris, "\n")))
	return hex.EncodeToString(sum[:])
}

// ReadManifest loads the manifest for corpus. A missing manifest returns
// (nil, nil).
func ReadManifest(corpus string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(corpus))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(corpus string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(ManifestPath(corpus), func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it over path only after a successful fsync. On any failure the
// previous content of path is left untouched.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
