// Package logging provides file-based decision audit sinks: a CSV log laid
// out as logs/YYYY/MM/YYYY-MM-DD.csv with one line per decision, and a
// cron-driven retention job that deletes old day files.
package logging

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/castellan/castellan/internal/castellan/types"
)

// CSVLog appends decisions to per-day CSV files. Columns:
// year, month, day, weekday, time, credential id, reader id, resource id,
// holder id, holder name, status, reason.
type CSVLog struct {
	dir string

	mu sync.Mutex
}

func NewCSVLog(dir string) *CSVLog {
	return &CSVLog{dir: dir}
}

func (l *CSVLog) Record(_ context.Context, d types.Decision) error {
	year, month, day := d.Time.Date()
	dir := filepath.Join(l.dir, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", int(month)))
	name := fmt.Sprintf("%04d-%02d-%02d.csv", year, int(month), day)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		d.Time.Format("2006"),
		d.Time.Format("Jan"),
		d.Time.Format("02"),
		d.Time.Format("Mon"),
		d.Time.Format("15:04:05"),
		d.CredentialID,
		d.ReaderID,
		d.ResourceID,
		d.HolderID,
		d.HolderName,
		string(d.Status),
		d.Reason,
	}); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush log line: %w", err)
	}
	return nil
}
