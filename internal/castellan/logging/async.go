package logging

import (
	"context"
	"fmt"
	"log"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

const asyncQueueSize = 1024

// AsyncLog decouples audit persistence from the decision path. Record only
// enqueues; a background goroutine drains the queue into the wrapped sink,
// so a slow SQLite commit or file write never holds a door decision open.
// Close flushes everything still queued before returning.
type AsyncLog struct {
	sink   store.DecisionLog
	logger *log.Logger
	queue  chan types.Decision
	done   chan struct{}
}

func NewAsync(sink store.DecisionLog, logger *log.Logger) *AsyncLog {
	l := &AsyncLog{
		sink:   sink,
		logger: logger,
		queue:  make(chan types.Decision, asyncQueueSize),
		done:   make(chan struct{}),
	}
	go l.loop()
	return l
}

// Record enqueues the decision and returns immediately. When the queue is
// full the decision is dropped with an error; stalling the caller here
// would put the sink's backlog on the decision path.
func (l *AsyncLog) Record(_ context.Context, d types.Decision) error {
	select {
	case l.queue <- d:
		return nil
	default:
		return fmt.Errorf("audit queue full, dropping decision %s", d.RequestID)
	}
}

// Close stops accepting records, drains the queue into the sink and waits
// for the drain to finish. Record must not be called after Close.
func (l *AsyncLog) Close() {
	close(l.queue)
	<-l.done
}

func (l *AsyncLog) loop() {
	defer close(l.done)
	for d := range l.queue {
		if err := l.sink.Record(context.Background(), d); err != nil {
			l.logger.Printf("audit write failed (request %s): %v", d.RequestID, err)
		}
	}
}
