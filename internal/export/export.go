// Package export writes the saved reel library to a file.
package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/reelnote/internal/category"
	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/reel"
)

// Source yields records matching a query. reel.Store satisfies it.
type Source interface {
	Query(q reel.Query) iter.Seq[reel.Record]
}

// Input contains parameters for Export.
type Input struct {
	Path   string // optional, default: <exports dir>/reels[-<category>]-<timestamp>.<ext>
	Format Format // default: jsonl
	Query  reel.Query
}

// Output contains the result of Export.
type Output struct {
	Path       string `json:"path"`
	Format     Format `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the records in src matching input.Query to a file.
// The file is written to a temp path and renamed into place, so an existing
// file at the destination survives a failed export.
func Export(ctx context.Context, src Source, exportsDir string, input Input) (*Output, error) {
	now := time.Now()

	format := input.Format
	if format == "" {
		format = FormatJSONL
	}
	if !format.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown export format %q", format))
	}

	exportPath := input.Path
	if exportPath == "" {
		exportPath = defaultPath(exportsDir, input.Query, format, now)
	}
	if err := ValidatePath(exportPath, format); err != nil {
		return nil, err
	}

	var records []reel.Record
	for r := range src.Query(input.Query) {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("export")
		}
		records = append(records, r)
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	err := writeAtomic(exportPath, func(f *os.File) error {
		return format.write(f, records, now)
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		Path:       exportPath,
		Format:     format,
		Count:      len(records),
		ExportedAt: now.Unix(),
	}, nil
}

// writeAtomic writes via a temp file beside path and renames it into place.
func writeAtomic(path string, write func(f *os.File) error) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"

	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := write(file); err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}

	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path must not be a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultPath builds <dir>/reels[-<category>]-<timestamp>.<ext>.
func defaultPath(dir string, q reel.Query, format Format, now time.Time) string {
	parts := []string{"reels"}
	if q.Search == "" && q.Category != "" && q.Category != category.All {
		parts = append(parts, SanitizeForFilename(q.Category))
	}
	parts = append(parts, now.Format("2006-01-02T150405"))
	return filepath.Join(dir, strings.Join(parts, "-")+format.Ext())
}
