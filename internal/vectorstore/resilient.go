package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// chromem stores each collection in a directory named by the first 8 hex
// characters of the SHA-256 of its name.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

const quarantineDir = ".quarantine"

// openPersistentDB loads a chromem DB from path. A collection directory that
// holds documents but no metadata file (left behind by an interrupted write)
// is moved to path/.quarantine and the load is retried once.
func openPersistentDB(ctx context.Context, path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		logger.Debug(ctx, "chromem db loaded", zap.String("path", path))
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(ctx, path, logger)
	if findErr != nil {
		logger.Error(ctx, "scanning for corrupt collections failed", zap.Error(findErr))
		return nil, err
	}
	if len(corrupt) == 0 {
		return nil, err
	}

	target := filepath.Join(path, quarantineDir)
	if mkErr := os.MkdirAll(target, 0o755); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	for _, dir := range corrupt {
		src := filepath.Join(path, dir)
		dst := filepath.Join(target, dir)
		logger.Warn(ctx, "quarantining corrupt collection",
			zap.String("dir", dir),
			zap.String("to", dst))
		if mvErr := os.Rename(src, dst); mvErr != nil {
			logger.Error(ctx, "quarantine failed", zap.String("dir", dir), zap.Error(mvErr))
			QuarantineOperations.WithLabelValues("error").Inc()
			continue
		}
		QuarantineOperations.WithLabelValues("success").Inc()
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading after quarantine: %w", err)
	}
	logger.Info(ctx, "chromem db loaded after quarantine",
		zap.String("path", path),
		zap.Int("quarantined", len(corrupt)))
	return db, nil
}

// findCorruptCollections lists collection directories with documents but no
// metadata file. Empty directories and hidden entries are ignored.
func findCorruptCollections(ctx context.Context, path string, logger *logging.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		files, readErr := os.ReadDir(dir)
		if readErr != nil {
			logger.Warn(ctx, "reading collection directory failed",
				zap.String("dir", entry.Name()),
				zap.Error(readErr))
			continue
		}

		hasMetadata, hasDocuments := false, false
		for _, f := range files {
			name := f.Name()
			switch {
			case f.IsDir():
			case strings.HasPrefix(name, "00000000.gob"):
				hasMetadata = true
			case strings.Contains(name, ".gob"):
				hasDocuments = true
			}
		}
		if hasDocuments && !hasMetadata {
			corrupt = append(corrupt, entry.Name())
		}
	}
	return corrupt, nil
}
