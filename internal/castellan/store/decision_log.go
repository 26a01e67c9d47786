package store

import (
	"context"

	"github.com/castellan/castellan/internal/castellan/types"
)

// DecisionLog is the append-only audit sink for access decisions. The
// decision path treats it as fire-and-forget: a failed write is logged and
// never changes the decision returned to the reader.
type DecisionLog interface {
	Record(ctx context.Context, d types.Decision) error
}
