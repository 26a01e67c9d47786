package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/store/sqlite"
	"github.com/castellan/castellan/internal/castellan/types"
	dbpkg "github.com/castellan/castellan/internal/db"
)

// openTestDB opens a migrated throwaway database under t.TempDir.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := dbpkg.Open(context.Background(), dbpkg.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestWriter(t *testing.T, db *sql.DB) *dbpkg.Worker {
	t.Helper()
	w := dbpkg.NewWorker(db)
	t.Cleanup(w.Close)
	return w
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func seedGraph(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `INSERT INTO holders VALUES ('U1001','Maya','Okonkwo','EMPLOYEE');`)
	mustExec(t, db, `INSERT INTO credentials VALUES ('BX76Z541','U1001','2024-01-15',NULL,'2025-06-01',1);`)
	mustExec(t, db, `INSERT INTO credentials VALUES ('BADGE_OLD','U1001','2020-01-01','2021-01-01',NULL,1);`)
	mustExec(t, db, `INSERT INTO resources VALUES ('RES001','BR001','Main Entrance','Lobby','HQ',1,'DOOR','CONTROLLED');`)
	mustExec(t, db, `INSERT INTO resources VALUES ('RES002','BR002','Cafeteria',NULL,NULL,NULL,'DOOR','UNCONTROLLED');`)
	mustExec(t, db, `INSERT INTO profiles VALUES ('P1','Staff');`)
	mustExec(t, db, `INSERT INTO profiles VALUES ('P2',NULL);`)
	mustExec(t, db, `INSERT INTO resource_groups VALUES ('G1',2,'Ground floor');`)
	mustExec(t, db, `INSERT INTO resource_group_members VALUES ('G1','RES001');`)
	mustExec(t, db, `INSERT INTO profile_resource_groups VALUES ('P1','G1');`)
	mustExec(t, db, `INSERT INTO credential_profiles VALUES ('BX76Z541','P2');`)
	mustExec(t, db, `INSERT INTO credential_profiles VALUES ('BX76Z541','P1');`)
	mustExec(t, db, `INSERT INTO access_rules VALUES ('R1','P1','G1','1,2,3,4,5','09:00:00','17:30:00',NULL,10,NULL,0);`)
}

func TestEntityStore_LoadAllCredentials(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewEntityStore(db)

	creds, err := st.LoadAllCredentials(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}

	c := creds[0]
	if c.ID != "BX76Z541" || c.HolderID != "U1001" || !c.Active {
		t.Errorf("unexpected credential: %+v", c)
	}
	if got := c.CreatedDate.Format("2006-01-02"); got != "2024-01-15" {
		t.Errorf("CreatedDate = %s", got)
	}
	if c.ExpirationDate != nil {
		t.Error("NULL expiration_date should map to nil")
	}
	if c.LastUpdateDate == nil || c.LastUpdateDate.Format("2006-01-02") != "2025-06-01" {
		t.Errorf("LastUpdateDate = %v", c.LastUpdateDate)
	}
	// Assignment order follows edge-table rowid, not name order.
	if want := []string{"P2", "P1"}; !slices.Equal(c.ProfileNames, want) {
		t.Errorf("ProfileNames = %v, want %v", c.ProfileNames, want)
	}

	old := creds[1]
	if old.ExpirationDate == nil || old.ExpirationDate.Format("2006-01-02") != "2021-01-01" {
		t.Errorf("ExpirationDate = %v", old.ExpirationDate)
	}
}

func TestEntityStore_LoadAllResources(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewEntityStore(db)

	resources, err := st.LoadAllResources(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}

	r := resources[0]
	if r.ReaderID != "BR001" || r.Location != "Lobby" || r.Building != "HQ" {
		t.Errorf("unexpected resource: %+v", r)
	}
	if r.Floor == nil || *r.Floor != 1 {
		t.Errorf("Floor = %v, want 1", r.Floor)
	}
	if !r.Controlled() {
		t.Error("RES001 should be controlled")
	}

	r2 := resources[1]
	if r2.Floor != nil || r2.Location != "" {
		t.Errorf("NULL columns should map to zero values: %+v", r2)
	}
	if r2.Controlled() {
		t.Error("RES002 should be uncontrolled")
	}
}

func TestEntityStore_LoadAllProfilesAndGroups(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewEntityStore(db)

	profiles, err := st.LoadAllProfiles(context.Background())
	if err != nil {
		t.Fatalf("load profiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "P1" || !slices.Equal(profiles[0].GroupNames, []string{"G1"}) {
		t.Errorf("unexpected profile: %+v", profiles[0])
	}
	if len(profiles[1].GroupNames) != 0 {
		t.Errorf("P2 should have no groups: %v", profiles[1].GroupNames)
	}

	groups, err := st.LoadAllResourceGroups(context.Background())
	if err != nil {
		t.Fatalf("load groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.SecurityLevel != 2 || !g.Contains("RES001") {
		t.Errorf("unexpected group: %+v", g)
	}
}

func TestEntityStore_LoadAllRules(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewEntityStore(db)

	rules, err := st.LoadAllRules(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	r := rules[0]
	if r.ProfileName != "P1" || r.GroupName != "G1" {
		t.Errorf("unexpected rule: %+v", r)
	}
	if want := []int{1, 2, 3, 4, 5}; !slices.Equal(r.AllowedDaysOfWeek, want) {
		t.Errorf("AllowedDaysOfWeek = %v, want %v", r.AllowedDaysOfWeek, want)
	}
	if r.StartTime == nil || r.StartTime.String() != "09:00:00" {
		t.Errorf("StartTime = %v", r.StartTime)
	}
	if r.EndTime == nil || r.EndTime.String() != "17:30:00" {
		t.Errorf("EndTime = %v", r.EndTime)
	}
	if r.MaxAccessPerDay != nil {
		t.Error("NULL max_per_day should map to nil")
	}
	if r.MaxAccessPerWeek == nil || *r.MaxAccessPerWeek != 10 {
		t.Errorf("MaxAccessPerWeek = %v, want 10", r.MaxAccessPerWeek)
	}
	if r.RequiresPrecedence {
		t.Error("RequiresPrecedence should be false")
	}
}

func TestEntityStore_RejectsBadDayList(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	mustExec(t, db, `INSERT INTO access_rules VALUES ('R2','P2','G1','1,7',NULL,NULL,NULL,NULL,NULL,0);`)
	st := sqlite.NewEntityStore(db)

	if _, err := st.LoadAllRules(context.Background()); err == nil {
		t.Error("expected error for day outside 0..6")
	}
}

func TestPermissionStore_ApplyCommits(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewPermissionStore(db, newTestWriter(t, db))

	err := st.Apply(context.Background(), func(tx store.PermissionTx) error {
		if err := tx.InsertResourceGroup(&types.ResourceGroup{Name: "auto_group_RES002", SecurityLevel: 1}); err != nil {
			return err
		}
		return tx.AddResourceToGroup("RES002", "auto_group_RES002")
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM resource_group_members WHERE group_name = 'auto_group_RES002';`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("membership rows = %d, want 1", n)
	}
}

func TestPermissionStore_ApplyRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewPermissionStore(db, newTestWriter(t, db))

	boom := errors.New("abort")
	err := st.Apply(context.Background(), func(tx store.PermissionTx) error {
		if err := tx.InsertResourceGroup(&types.ResourceGroup{Name: "auto_group_RES002", SecurityLevel: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("apply: got %v, want abort error", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM resource_groups WHERE group_name = 'auto_group_RES002';`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Error("rolled-back insert is visible")
	}
}

func TestPermissionStore_Counts(t *testing.T) {
	db := openTestDB(t)
	seedGraph(t, db)
	st := sqlite.NewPermissionStore(db, newTestWriter(t, db))

	err := st.Apply(context.Background(), func(tx store.PermissionTx) error {
		for _, c := range []struct {
			name string
			got  func() (int, error)
			want int
		}{
			{"group resources", func() (int, error) { return tx.GroupResourceCount("G1") }, 1},
			{"profile groups", func() (int, error) { return tx.ProfileGroupCount("P1") }, 1},
			{"profile credentials", func() (int, error) { return tx.ProfileCredentialCount("P1") }, 1},
			{"unknown group", func() (int, error) { return tx.GroupResourceCount("NOPE") }, 0},
		} {
			n, err := c.got()
			if err != nil {
				return err
			}
			if n != c.want {
				t.Errorf("%s = %d, want %d", c.name, n, c.want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestDecisionLog_Record(t *testing.T) {
	db := openTestDB(t)
	l := sqlite.NewDecisionLog(db, newTestWriter(t, db))

	at := time.Date(2026, time.March, 4, 9, 15, 30, 0, time.UTC)
	d := types.Decision{
		RequestID:    "req-1",
		CredentialID: "BX76Z541",
		ReaderID:     "BR001",
		ResourceID:   "RES001",
		Time:         at,
		HolderID:     "U1001",
		HolderName:   "Maya Okonkwo",
		Status:       types.StatusDenied,
		Reason:       types.ReasonReaderLocked,
	}
	if err := l.Record(context.Background(), d); err != nil {
		t.Fatalf("record: %v", err)
	}

	var (
		status string
		reason string
		at2    int64
	)
	if err := db.QueryRow(`SELECT status, reason, decided_at_ms FROM decisions WHERE request_id = 'req-1';`).
		Scan(&status, &reason, &at2); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "DENIED" || reason != types.ReasonReaderLocked {
		t.Errorf("stored %s/%q", status, reason)
	}
	if at2 != at.UnixMilli() {
		t.Errorf("decided_at_ms = %d, want %d", at2, at.UnixMilli())
	}
}

func TestDecisionLog_FillsMissingTimestamp(t *testing.T) {
	db := openTestDB(t)
	l := sqlite.NewDecisionLog(db, newTestWriter(t, db))

	before := time.Now().UTC().UnixMilli()
	err := l.Record(context.Background(), types.Decision{
		RequestID:    "req-2",
		CredentialID: "BX76Z541",
		ResourceID:   "RES001",
		Status:       types.StatusGranted,
		Reason:       types.ReasonAccessGranted,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var at int64
	if err := db.QueryRow(`SELECT decided_at_ms FROM decisions WHERE request_id = 'req-2';`).Scan(&at); err != nil {
		t.Fatalf("query: %v", err)
	}
	if at < before || at > time.Now().UTC().UnixMilli() {
		t.Errorf("decided_at_ms = %d outside test window", at)
	}
}
