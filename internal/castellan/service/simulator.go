package service

import (
	"context"
	"log"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/castellan/castellan/internal/castellan/cache"
)

// Simulator generates random badge-in traffic against the decision engine:
// a random usable credential presented at a random resource's reader, paced
// at a fixed request rate. Dev tool for watching the engine and the lock
// cycle behave under concurrent-ish load.
type Simulator struct {
	decisions *DecisionService
	cache     *cache.Cache
	limiter   *rate.Limiter
	logger    *log.Logger
}

func NewSimulator(d *DecisionService, c *cache.Cache, reqPerSec float64, logger *log.Logger) *Simulator {
	if reqPerSec <= 0 {
		reqPerSec = 1
	}
	return &Simulator{
		decisions: d,
		cache:     c,
		limiter:   rate.NewLimiter(rate.Limit(reqPerSec), 1),
		logger:    logger,
	}
}

// Run issues requests until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Printf("simulator started (%.1f req/s)", float64(s.limiter.Limit()))
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Printf("simulator stopped: %v", err)
			return
		}

		credIDs := s.cache.ActiveCredentialIDs(time.Now())
		resIDs := s.cache.ResourceIDs()
		if len(credIDs) == 0 || len(resIDs) == 0 {
			continue
		}

		credID := credIDs[rand.IntN(len(credIDs))]
		resID := resIDs[rand.IntN(len(resIDs))]

		readerID := ""
		if res, ok := s.cache.Resource(resID); ok {
			readerID = res.ReaderID
		}

		d := s.decisions.Decide(ctx, credID, readerID, resID)
		s.logger.Printf("sim: %s @ %s -> %s (%s)", credID, resID, d.Status, d.Reason)
	}
}
