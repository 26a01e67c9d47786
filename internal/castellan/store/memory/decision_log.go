package memory

import (
	"context"
	"sync"

	"github.com/castellan/castellan/internal/castellan/types"
)

// DecisionLog is an in-memory append-only audit trail for tests and dev.
type DecisionLog struct {
	mu        sync.Mutex
	decisions []types.Decision
	failErr   error
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{}
}

// SetErr makes Record fail with err; the decision path must swallow it.
func (l *DecisionLog) SetErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *DecisionLog) Record(_ context.Context, d types.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.decisions = append(l.decisions, d)
	return nil
}

// Decisions returns a copy of everything recorded. Test helper.
func (l *DecisionLog) Decisions() []types.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Decision, len(l.decisions))
	copy(out, l.decisions)
	return out
}
