package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

type FileWriter struct {
	path string
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write replaces the file atomically so readers never see a partial report.
func (w *FileWriter) Write(ctx context.Context, report domain.AuditReport) error {
	data, err := Marshal(report)
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("path", w.path).Str("run_id", report.RunID).Msg("report written")
	return nil
}
