package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
)

var documentExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".csv":  true,
}

// IngestFolder walks dir and ingests every text document it finds. The
// document ID is the file path, so ingesting the same folder twice leaves the
// store size unchanged.
func (s *Semantic) IngestFolder(ctx context.Context, dir string) (int, error) {
	count := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !documentExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		if err := s.IngestFile(ctx, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, goerr.Wrap(err, "failed to ingest folder", goerr.V("dir", dir))
	}
	return count, nil
}

// IngestFile ingests a single document. The file path is its ID.
func (s *Semantic) IngestFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read document", goerr.V("path", path))
	}
	if err := s.Ingest(ctx, model.Document{
		ID:   path,
		Name: filepath.Base(path),
		Text: string(data),
	}); err != nil {
		return err
	}
	logging.From(ctx).Debug("document ingested", "path", path, "bytes", len(data))
	return nil
}
