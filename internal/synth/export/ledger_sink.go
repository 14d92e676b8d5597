package export

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ledgerSchema = `CREATE TABLE IF NOT EXISTS dataset_exports (
	export_id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	name TEXT NOT NULL,
	line_count INTEGER NOT NULL,
	byte_size BIGINT NOT NULL,
	content_sha256 TEXT NOT NULL,
	content TEXT NOT NULL
)`

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LedgerSink stores each export as a row in the dataset_exports table.
type LedgerSink struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewLedgerSink(db Execer, logger *slog.Logger) (*LedgerSink, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &LedgerSink{db: db, logger: logger, now: time.Now, newID: uuid.NewString}, nil
}

// EnsureSchema creates the dataset_exports table when missing.
func (s *LedgerSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ledgerSchema)
	return err
}

func (s *LedgerSink) Emit(ctx context.Context, content string, suggestedName string) error {
	name, err := cleanName(suggestedName)
	if err != nil {
		return err
	}
	id := s.newID()
	lineCount := 0
	if content != "" {
		lineCount = strings.Count(content, "\n") + 1
	}
	sum := Checksum(content)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dataset_exports (
			export_id,
			created_at,
			name,
			line_count,
			byte_size,
			content_sha256,
			content
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id,
		s.now().UTC(),
		name,
		lineCount,
		int64(len(content)),
		sum,
		content,
	)
	if err != nil {
		return unavailable("insert dataset export: %v", err)
	}
	if s.logger != nil {
		s.logger.Info("export recorded", "export_id", id, "name", name, "lines", lineCount, "sha256", sum)
	}
	return nil
}
