package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/castellan/internal/castellan/cache"
	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

// DecisionService answers "can this credential use this resource via this
// reader, right now". Denial is the safe default: every failure mode on
// this path resolves to a DENY with a reason, never an error.
type DecisionService struct {
	cache  *cache.Cache
	locks  *LockScheduler
	audit  store.DecisionLog
	logger *log.Logger

	now func() time.Time
}

func NewDecisionService(c *cache.Cache, locks *LockScheduler, audit store.DecisionLog, logger *log.Logger) *DecisionService {
	return &DecisionService{
		cache:  c,
		locks:  locks,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Decide evaluates one access request and records the outcome in the audit
// log -- exactly once, on every branch.
func (s *DecisionService) Decide(ctx context.Context, credentialID, readerID, resourceID string) types.Decision {
	d := types.Decision{
		RequestID:    uuid.NewString(),
		CredentialID: credentialID,
		ReaderID:     readerID,
		ResourceID:   resourceID,
		Time:         s.now(),
	}

	s.evaluate(&d)
	s.emit(ctx, d)
	return d
}

func (s *DecisionService) evaluate(d *types.Decision) {
	// The lock check runs before credential validation so a rapid
	// double-read cannot probe credential validity while the door is
	// mid-cycle. A resource the cache has never seen has no lock entry;
	// that falls through here and is reported as "resource not found"
	// below, not as a locked reader.
	if active, known := s.cache.ReaderState(d.ResourceID); known && !active {
		d.Status = types.StatusDenied
		d.Reason = types.ReasonReaderLocked
		return
	}

	if !s.validateCredential(d.CredentialID, d.Time) {
		d.Status = types.StatusDenied
		d.Reason = types.ReasonInvalidCredential
		return
	}

	cred, ok := s.cache.Credential(d.CredentialID)
	if !ok {
		d.Status = types.StatusDenied
		d.Reason = types.ReasonCredentialNotFound
		return
	}
	res, ok := s.cache.Resource(d.ResourceID)
	if !ok {
		d.Status = types.StatusDenied
		d.Reason = types.ReasonResourceNotFound
		return
	}

	// Holder info is best-effort audit enrichment only.
	if holder, ok := s.cache.Holder(cred.HolderID); ok {
		d.HolderID = holder.ID
		d.HolderName = holder.FullName()
	}

	if !res.Controlled() {
		d.Status = types.StatusGranted
		d.Reason = types.ReasonAccessGranted
		return
	}

	if !s.permitted(cred, d.ResourceID, d.Time) {
		d.Status = types.StatusDenied
		d.Reason = types.ReasonInsufficientRights
		return
	}

	d.Status = types.StatusGranted
	d.Reason = types.ReasonAccessGranted

	// Hold the reader shut for the cool-down window; the scheduler
	// reactivates it asynchronously.
	s.locks.Lock(d.ResourceID)
}

// validateCredential reports whether the credential exists, is active and
// has not expired.
func (s *DecisionService) validateCredential(credentialID string, now time.Time) bool {
	cred, ok := s.cache.Credential(credentialID)
	return ok && cred.UsableAt(now)
}

// permitted walks the authorization graph first-match-wins: profiles in the
// credential's insertion order, groups in each profile's insertion order.
// A (profile, group) pair with no rule grants unconditionally; a pair whose
// rule rejects does not stop the search, other paths to the same resource
// are still tried. Dangling profile or group references are skipped, not
// fatal.
func (s *DecisionService) permitted(cred *types.Credential, resourceID string, now time.Time) bool {
	for _, profileName := range cred.ProfileNames {
		profile, ok := s.cache.Profile(profileName)
		if !ok {
			continue
		}
		for _, groupName := range profile.GroupNames {
			group, ok := s.cache.ResourceGroup(groupName)
			if !ok {
				continue
			}
			if !group.Contains(resourceID) {
				continue
			}
			rule, ok := s.cache.Rule(profileName, groupName)
			if !ok {
				return true // no restriction defined for this pair
			}
			if rule.Allows(now) {
				return true
			}
		}
	}
	return false
}

// emit hands the decision to the audit sink. A failed write is logged and
// swallowed; the caller already has their answer.
func (s *DecisionService) emit(ctx context.Context, d types.Decision) {
	if err := s.audit.Record(ctx, d); err != nil {
		s.logger.Printf("decision audit write failed (request %s): %v", d.RequestID, err)
	}
}
