package logging

import (
	"context"
	"errors"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

type multiLog []store.DecisionLog

// Multi fans a decision out to several sinks while presenting the engine
// with the single log collaborator it expects. Every sink sees every
// decision even when an earlier one fails.
func Multi(sinks ...store.DecisionLog) store.DecisionLog {
	return multiLog(sinks)
}

func (m multiLog) Record(ctx context.Context, d types.Decision) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
