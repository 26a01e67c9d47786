package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/castellan/castellan/internal/db"

	"github.com/castellan/castellan/internal/castellan/types"
)

// DecisionLog mirrors every access decision into the decisions table.
type DecisionLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDecisionLog(db *sql.DB, writer *dbpkg.Worker) *DecisionLog {
	return &DecisionLog{db: db, writer: writer}
}

func (l *DecisionLog) Record(ctx context.Context, d types.Decision) error {
	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}

	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO decisions(
  request_id, credential_id, reader_id, resource_id,
  holder_id, holder_name, status, reason, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			d.RequestID, d.CredentialID, d.ReaderID, d.ResourceID,
			d.HolderID, d.HolderName, string(d.Status), d.Reason,
			d.Time.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Record insert: %w", err)
		}
		return nil
	})
}
