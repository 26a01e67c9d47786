package logging

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention deletes decision CSV day files older than the retention period.
// It runs nightly at 00:30; a retention of 0 days disables it entirely.
type Retention struct {
	dir    string
	days   int
	logger *log.Logger
	cron   *cron.Cron
}

func NewRetention(dir string, days int, logger *log.Logger) *Retention {
	return &Retention{dir: dir, days: days, logger: logger}
}

func (r *Retention) Start() {
	if r.days <= 0 {
		r.logger.Printf("csv retention disabled (retention=0)")
		return
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc("30 0 * * *", func() {
		deleted, err := r.Prune(time.Now())
		if err != nil {
			r.logger.Printf("csv retention error: %v", err)
			return
		}
		if deleted > 0 {
			r.logger.Printf("csv retention: deleted %d day files", deleted)
		}
	})
	if err != nil {
		r.logger.Printf("csv retention schedule error: %v", err)
		return
	}
	r.cron.Start()
	r.logger.Printf("csv retention started (retention=%dd, nightly at 00:30)", r.days)
}

func (r *Retention) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Prune removes day files whose date is more than the retention period
// before now. Exported so tests can drive it directly.
func (r *Retention) Prune(now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -r.days)
	deleted := 0

	err := filepath.WalkDir(r.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // nothing logged yet
			}
			return err
		}
		if entry.IsDir() || filepath.Ext(path) != ".csv" {
			return nil
		}
		day, perr := time.Parse("2006-01-02", entry.Name()[:len(entry.Name())-len(".csv")])
		if perr != nil {
			return nil // not a day file; leave it alone
		}
		if day.Before(cutoff) {
			if rerr := os.Remove(path); rerr != nil {
				return fmt.Errorf("remove %s: %w", path, rerr)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
