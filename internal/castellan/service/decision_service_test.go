package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/castellan/castellan/internal/castellan/cache"
	"github.com/castellan/castellan/internal/castellan/logging"
	"github.com/castellan/castellan/internal/castellan/service"
	"github.com/castellan/castellan/internal/castellan/store/memory"
	"github.com/castellan/castellan/internal/castellan/types"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fixtureStore builds the standard test graph:
//
//	BX76Z541 (active) -> P1 -> G1 -> RES001 (controlled)
//	RES002 uncontrolled, RES003 controlled but in no group
//	BADGE_OFF inactive, BADGE_OLD expired
func fixtureStore() *memory.EntityStore {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	es := memory.NewEntityStore()
	es.Credentials = []*types.Credential{
		{ID: "BX76Z541", HolderID: "U1001", Active: true, ProfileNames: []string{"P1"}},
		{ID: "BADGE_OFF", HolderID: "U1002", Active: false},
		{ID: "BADGE_OLD", HolderID: "U1002", Active: true, ExpirationDate: &past},
	}
	es.Resources = []*types.Resource{
		{ID: "RES001", ReaderID: "BR001", Name: "Main Entrance", Type: types.ResourceDoor, State: types.StateControlled},
		{ID: "RES002", ReaderID: "BR002", Name: "Cafeteria", Type: types.ResourceDoor, State: types.StateUncontrolled},
		{ID: "RES003", ReaderID: "BR003", Name: "Server Room", Type: types.ResourceDoor, State: types.StateControlled},
	}
	es.Holders = []*types.Holder{
		{ID: "U1001", FirstName: "Maya", LastName: "Okonkwo", Type: types.HolderEmployee},
	}
	es.Profiles = []*types.Profile{
		{Name: "P1", GroupNames: []string{"G1"}},
	}
	es.Groups = []*types.ResourceGroup{
		{Name: "G1", SecurityLevel: 1, ResourceIDs: []string{"RES001"}},
	}
	return es
}

// newTestEnv wires a decision service over the fixture graph with the given
// lock window. The scheduler runs until the test finishes.
func newTestEnv(t *testing.T, es *memory.EntityStore, window time.Duration) (*service.DecisionService, *cache.Cache, *memory.DecisionLog) {
	t.Helper()

	c := cache.New(testLogger())
	if err := c.Load(context.Background(), es); err != nil {
		t.Fatalf("load cache: %v", err)
	}

	locks := service.NewLockScheduler(c, window, testLogger())
	locks.Start(context.Background())
	t.Cleanup(locks.Stop)

	audit := memory.NewDecisionLog()
	return service.NewDecisionService(c, locks, audit, testLogger()), c, audit
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// ── End-to-end: grant, then reader locked ────────────────────────────────────

func TestDecide_GrantThenReaderLocked(t *testing.T) {
	svc, _, _ := newTestEnv(t, fixtureStore(), time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if d.Status != types.StatusGranted || d.Reason != types.ReasonAccessGranted {
		t.Fatalf("expected GRANTED/access granted, got %s/%q", d.Status, d.Reason)
	}

	// Immediate repeat must hit the closed door, not the graph.
	d = svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonReaderLocked {
		t.Fatalf("expected DENIED/reader locked, got %s/%q", d.Status, d.Reason)
	}
}

func TestDecide_ReaderReactivatesAfterWindow(t *testing.T) {
	svc, c, _ := newTestEnv(t, fixtureStore(), 40*time.Millisecond)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Fatalf("setup grant failed: %s/%q", d.Status, d.Reason)
	}
	if c.IsReaderActive("RES001") {
		t.Fatal("reader should be locked right after a grant")
	}

	if !waitFor(t, time.Second, func() bool { return c.IsReaderActive("RES001") }) {
		t.Fatal("reader never reactivated")
	}

	d = svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("expected grant after lock window, got %s/%q", d.Status, d.Reason)
	}
}

// ── Credential validation ────────────────────────────────────────────────────

func TestDecide_InvalidCredentials(t *testing.T) {
	svc, _, _ := newTestEnv(t, fixtureStore(), time.Minute)

	cases := []struct {
		name string
		id   string
	}{
		{"inactive", "BADGE_OFF"},
		{"expired", "BADGE_OLD"},
		{"unknown", "INVALID001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := svc.Decide(context.Background(), tc.id, "BR001", "RES001")
			if d.Status != types.StatusDenied || d.Reason != types.ReasonInvalidCredential {
				t.Errorf("expected DENIED/invalid credential, got %s/%q", d.Status, d.Reason)
			}
		})
	}
}

// ── Resource existence ───────────────────────────────────────────────────────

// An unknown resource has no lock-state entry; the engine must report it as
// not found, never as a locked reader.
func TestDecide_UnknownResource(t *testing.T) {
	svc, _, _ := newTestEnv(t, fixtureStore(), time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR999", "NOPE")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonResourceNotFound {
		t.Errorf("expected DENIED/resource not found, got %s/%q", d.Status, d.Reason)
	}
}

// ── Uncontrolled resources ───────────────────────────────────────────────────

func TestDecide_UncontrolledBypassesGraph(t *testing.T) {
	es := fixtureStore()
	// A valid credential with no profiles at all.
	es.Credentials = append(es.Credentials,
		&types.Credential{ID: "NOPROFILES", Active: true})
	svc, c, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "NOPROFILES", "BR002", "RES002")
	if !d.Granted() {
		t.Fatalf("uncontrolled resource must grant, got %s/%q", d.Status, d.Reason)
	}

	// No cool-down for uncontrolled resources; the reader stays active.
	if !c.IsReaderActive("RES002") {
		t.Error("uncontrolled grant must not lock the reader")
	}
}

func TestDecide_UncontrolledStillDeniedWhenReaderLocked(t *testing.T) {
	svc, c, _ := newTestEnv(t, fixtureStore(), time.Minute)

	c.LockReader("RES002")
	d := svc.Decide(context.Background(), "BX76Z541", "BR002", "RES002")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonReaderLocked {
		t.Errorf("expected DENIED/reader locked, got %s/%q", d.Status, d.Reason)
	}
}

// ── Graph walk ───────────────────────────────────────────────────────────────

func TestDecide_NoPathToResource(t *testing.T) {
	svc, _, _ := newTestEnv(t, fixtureStore(), time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR003", "RES003")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonInsufficientRights {
		t.Errorf("expected DENIED/insufficient access rights, got %s/%q", d.Status, d.Reason)
	}
}

func TestDecide_CredentialWithNoProfilesDeniedOnControlled(t *testing.T) {
	es := fixtureStore()
	es.Credentials = append(es.Credentials,
		&types.Credential{ID: "NOPROFILES", Active: true})
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "NOPROFILES", "BR001", "RES001")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonInsufficientRights {
		t.Errorf("expected DENIED/insufficient access rights, got %s/%q", d.Status, d.Reason)
	}
}

func TestDecide_RestrictiveRuleDeniesPath(t *testing.T) {
	es := fixtureStore()
	tomorrow := (int(time.Now().Weekday()) + 1) % 7
	es.Rules = []*types.Rule{
		{ID: "R1", ProfileName: "P1", GroupName: "G1", AllowedDaysOfWeek: []int{tomorrow}},
	}
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if d.Status != types.StatusDenied || d.Reason != types.ReasonInsufficientRights {
		t.Errorf("expected rule to deny, got %s/%q", d.Status, d.Reason)
	}
}

// A rejecting rule on one path must not stop the search: a second
// (profile, group) path to the same resource still grants.
func TestDecide_RuleRejectionKeepsSearching(t *testing.T) {
	es := fixtureStore()
	tomorrow := (int(time.Now().Weekday()) + 1) % 7
	es.Rules = []*types.Rule{
		{ID: "R1", ProfileName: "P1", GroupName: "G1", AllowedDaysOfWeek: []int{tomorrow}},
	}
	es.Credentials[0].ProfileNames = []string{"P1", "P2"}
	es.Profiles = append(es.Profiles, &types.Profile{Name: "P2", GroupNames: []string{"G2"}})
	es.Groups = append(es.Groups, &types.ResourceGroup{Name: "G2", SecurityLevel: 1, ResourceIDs: []string{"RES001"}})
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("second path should grant, got %s/%q", d.Status, d.Reason)
	}
}

func TestDecide_RuleAllowingTodayGrants(t *testing.T) {
	es := fixtureStore()
	today := int(time.Now().Weekday())
	es.Rules = []*types.Rule{
		{ID: "R1", ProfileName: "P1", GroupName: "G1", AllowedDaysOfWeek: []int{today}},
	}
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("rule allowing today should grant, got %s/%q", d.Status, d.Reason)
	}
}

// A profile name pointing at a profile the cache no longer has is skipped,
// not fatal.
func TestDecide_DanglingProfileReferenceSkipped(t *testing.T) {
	es := fixtureStore()
	es.Credentials[0].ProfileNames = []string{"GONE", "P1"}
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("dangling reference must not block valid paths, got %s/%q", d.Status, d.Reason)
	}
}

// ── Audit trail ──────────────────────────────────────────────────────────────

func TestDecide_EveryBranchRecordsExactlyOnce(t *testing.T) {
	svc, c, audit := newTestEnv(t, fixtureStore(), time.Minute)

	c.LockReader("RES003")

	requests := []struct{ cred, reader, res string }{
		{"BX76Z541", "BR001", "RES001"}, // granted
		{"BX76Z541", "BR001", "RES001"}, // reader locked
		{"BADGE_OFF", "BR001", "RES001"},
		{"INVALID001", "BR001", "RES001"},
		{"BX76Z541", "BR999", "NOPE"}, // resource not found
		{"BX76Z541", "BR002", "RES002"},
		{"BX76Z541", "BR003", "RES003"}, // reader locked (manual)
	}
	for _, r := range requests {
		svc.Decide(context.Background(), r.cred, r.reader, r.res)
	}

	got := audit.Decisions()
	if len(got) != len(requests) {
		t.Fatalf("expected %d audit records, got %d", len(requests), len(got))
	}
	for i, rec := range got {
		if rec.CredentialID != requests[i].cred {
			t.Errorf("record %d credential = %q, want %q", i, rec.CredentialID, requests[i].cred)
		}
		if rec.RequestID == "" {
			t.Errorf("record %d has no request id", i)
		}
		if rec.Time.IsZero() {
			t.Errorf("record %d has no timestamp", i)
		}
	}
}

func TestDecide_HolderInfoEnrichesAudit(t *testing.T) {
	svc, _, audit := newTestEnv(t, fixtureStore(), time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if d.HolderID != "U1001" || d.HolderName != "Maya Okonkwo" {
		t.Errorf("holder info missing: %q %q", d.HolderID, d.HolderName)
	}

	recs := audit.Decisions()
	if len(recs) != 1 || recs[0].HolderName != "Maya Okonkwo" {
		t.Error("holder info missing from audit record")
	}
}

func TestDecide_MissingHolderDoesNotBlock(t *testing.T) {
	es := fixtureStore()
	es.Holders = nil
	svc, _, _ := newTestEnv(t, es, time.Minute)

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("missing holder must not affect the decision, got %s/%q", d.Status, d.Reason)
	}
	if d.HolderID != "" {
		t.Errorf("expected empty holder id, got %q", d.HolderID)
	}
}

// stalledSink blocks every write until release is closed.
type stalledSink struct {
	inner   *memory.DecisionLog
	release chan struct{}
}

func (s *stalledSink) Record(ctx context.Context, d types.Decision) error {
	<-s.release
	return s.inner.Record(ctx, d)
}

// Decisions must not wait for audit persistence: with the audit wired
// through the async log, a stuck sink stalls the drain goroutine, not the
// callers.
func TestDecide_DoesNotWaitOnAuditSink(t *testing.T) {
	c := cache.New(testLogger())
	if err := c.Load(context.Background(), fixtureStore()); err != nil {
		t.Fatalf("load cache: %v", err)
	}
	locks := service.NewLockScheduler(c, time.Minute, testLogger())
	locks.Start(context.Background())
	t.Cleanup(locks.Stop)

	sink := &stalledSink{inner: memory.NewDecisionLog(), release: make(chan struct{})}
	audit := logging.NewAsync(sink, testLogger())
	svc := service.NewDecisionService(c, locks, audit, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
		svc.Decide(context.Background(), "BADGE_OFF", "BR001", "RES001")
		svc.Decide(context.Background(), "BX76Z541", "BR999", "NOPE")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Decide blocked on a stuck audit sink")
	}

	close(sink.release)
	audit.Close()
	if got := len(sink.inner.Decisions()); got != 3 {
		t.Errorf("audit saw %d decisions after drain, want 3", got)
	}
}

func TestDecide_AuditFailureDoesNotChangeDecision(t *testing.T) {
	svc, _, audit := newTestEnv(t, fixtureStore(), time.Minute)
	audit.SetErr(errors.New("disk full"))

	d := svc.Decide(context.Background(), "BX76Z541", "BR001", "RES001")
	if !d.Granted() {
		t.Errorf("audit failure must not change the decision, got %s/%q", d.Status, d.Reason)
	}
}
