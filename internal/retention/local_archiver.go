package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired records as JSONL files to a local
// directory, one file per batch:
//
//	{basePath}/records/2026-02-20T15-04-05.000000000Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is empty,
// it defaults to "~/.sentinel/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = filepath.Join(os.TempDir(), "sentinel", "archive")
		} else {
			basePath = filepath.Join(home, ".sentinel", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveRecords(_ context.Context, records []models.Record) (string, error) {
	dir := filepath.Join(a.basePath, "records")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	var gw *gzip.Writer
	enc := json.NewEncoder(f)
	if a.compress {
		gw = gzip.NewWriter(f)
		enc = json.NewEncoder(gw)
	}

	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return "", fmt.Errorf("encode record %s: %w", r.ID, err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			f.Close()
			return "", fmt.Errorf("flush archive: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(records)).
		Msg("Archived records to local file")

	return fpath, nil
}

func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	// Verify we can write to the base path
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
