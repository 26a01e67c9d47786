package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/castellan/castellan/internal/castellan/cache"
)

// DefaultLockWindow is how long a reader stays locked after a grant,
// covering the physical door-open/relock cycle.
const DefaultLockWindow = 2 * time.Second

// LockScheduler owns the ACTIVE -> LOCKED -> ACTIVE cycle of every reader.
// A single background goroutine tracks pending releases keyed by resource
// id, so a burst of grants never fans out into a goroutine per timer.
//
// Re-arming an already-locked reader is ignored: the release fires at the
// deadline of the first lock, never later.
type LockScheduler struct {
	cache  *cache.Cache
	window time.Duration
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]time.Time // resource id -> release deadline

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLockScheduler(c *cache.Cache, window time.Duration, logger *log.Logger) *LockScheduler {
	if window <= 0 {
		window = DefaultLockWindow
	}
	return &LockScheduler{
		cache:   c,
		window:  window,
		logger:  logger,
		pending: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the release loop. Call Stop (or cancel ctx) to shut down.
func (s *LockScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish. Pending
// releases are abandoned; a cache reload resets all readers to active
// anyway.
func (s *LockScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Lock marks the resource's reader locked and schedules its reactivation
// one window from now. Re-arming while the reader is already locked is
// ignored. A pending deadline found while the reader is still active is
// stale -- a cache clear and reload reset the reader underneath us -- and
// is replaced, so a lock taken after a reload always gets a full window.
func (s *LockScheduler) Lock(resourceID string) {
	wasActive := s.cache.IsReaderActive(resourceID)
	s.cache.LockReader(resourceID)

	s.mu.Lock()
	if _, armed := s.pending[resourceID]; !armed || wasActive {
		s.pending[resourceID] = time.Now().Add(s.window)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops any pending release for the resource without touching the
// reader state. Used when a resource disappears from the cache.
func (s *LockScheduler) Cancel(resourceID string) {
	s.mu.Lock()
	delete(s.pending, resourceID)
	s.mu.Unlock()
}

func (s *LockScheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		next, armed := s.nearestDeadline()
		if armed {
			timer.Reset(time.Until(next))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			// Deadlines changed; recompute.
		case <-timer.C:
			s.release(time.Now())
			continue
		}

		if armed && !timer.Stop() {
			// Timer fired while we were handling a wake; drain and
			// release on the next pass rather than dropping it.
			select {
			case <-timer.C:
			default:
			}
			s.release(time.Now())
		}
	}
}

func (s *LockScheduler) nearestDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, deadline := range s.pending {
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	return next, !next.IsZero()
}

// release reactivates every reader whose deadline has passed.
func (s *LockScheduler) release(now time.Time) {
	s.mu.Lock()
	var due []string
	for id, deadline := range s.pending {
		if !deadline.After(now) {
			due = append(due, id)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		s.cache.UnlockReader(id)
	}
}
