package export

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes each export into Dir. Content is written to a temporary file
// and renamed into place so readers never see a partial export.
type FileSink struct {
	Dir    string
	Logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("export dir is required")
	}
	return &FileSink{Dir: dir, Logger: logger}, nil
}

func (s *FileSink) Emit(ctx context.Context, content string, suggestedName string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("file sink: %v", err)
	}
	name, err := cleanName(suggestedName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return unavailable("create export dir: %v", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return unavailable("create temp file: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return unavailable("write export: %v", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("close export: %v", err)
	}
	dest := filepath.Join(s.Dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("rename export: %v", err)
	}

	if s.Logger != nil {
		s.Logger.Info("export written", "path", dest, "bytes", len(content))
	}
	return nil
}
