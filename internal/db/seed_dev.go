package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedDev loads a small starter dataset for dev environments: a handful of
// holders and credentials, a few resources, and the P1/G1/RES001 chain used
// by the interactive walkthrough. All inserts are idempotent so re-running
// against an existing dev database is safe.
func SeedDev(ctx context.Context, db *sql.DB) error {
	today := time.Now().UTC().Format("2006-01-02")
	nextYear := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	lastYear := time.Now().UTC().AddDate(-1, 0, 0).Format("2006-01-02")

	stmts := []struct {
		name string
		sql  string
		args []any
	}{
		{"holder U1001", `
INSERT OR IGNORE INTO holders(holder_id, first_name, last_name, holder_type)
VALUES ('U1001', 'Maya', 'Okonkwo', 'EMPLOYEE');`, nil},
		{"holder U1002", `
INSERT OR IGNORE INTO holders(holder_id, first_name, last_name, holder_type)
VALUES ('U1002', 'Tomas', 'Lindqvist', 'CONTRACTOR');`, nil},

		{"credential BX76Z541", `
INSERT OR IGNORE INTO credentials(credential_id, holder_id, created_date, expiration_date, active)
VALUES ('BX76Z541', 'U1001', ?, ?, 1);`, []any{today, nextYear}},
		{"credential BX11A002", `
INSERT OR IGNORE INTO credentials(credential_id, holder_id, created_date, expiration_date, active)
VALUES ('BX11A002', 'U1002', ?, ?, 1);`, []any{today, lastYear}}, // expired on purpose

		{"resource RES001", `
INSERT OR IGNORE INTO resources(resource_id, reader_id, name, location, building, floor, resource_type, state)
VALUES ('RES001', 'BR001', 'Main Entrance', 'Lobby', 'HQ', 1, 'DOOR', 'CONTROLLED');`, nil},
		{"resource RES002", `
INSERT OR IGNORE INTO resources(resource_id, reader_id, name, location, building, floor, resource_type, state)
VALUES ('RES002', 'BR002', 'Cafeteria', 'East Wing', 'HQ', 1, 'DOOR', 'UNCONTROLLED');`, nil},
		{"resource RES003", `
INSERT OR IGNORE INTO resources(resource_id, reader_id, name, location, building, floor, resource_type, state)
VALUES ('RES003', 'BR003', 'Server Room', 'North Wing', 'HQ', 2, 'DOOR', 'CONTROLLED');`, nil},

		{"profile P1", `
INSERT OR IGNORE INTO profiles(profile_name, description)
VALUES ('P1', 'General staff access');`, nil},
		{"group G1", `
INSERT OR IGNORE INTO resource_groups(group_name, security_level, description)
VALUES ('G1', 1, 'Ground-floor doors');`, nil},

		{"edge G1->RES001", `
INSERT OR IGNORE INTO resource_group_members(group_name, resource_id)
VALUES ('G1', 'RES001');`, nil},
		{"edge P1->G1", `
INSERT OR IGNORE INTO profile_resource_groups(profile_name, group_name)
VALUES ('P1', 'G1');`, nil},
		{"edge BX76Z541->P1", `
INSERT OR IGNORE INTO credential_profiles(credential_id, profile_name)
VALUES ('BX76Z541', 'P1');`, nil},
	}

	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.sql, s.args...); err != nil {
			return fmt.Errorf("seed %s: %w", s.name, err)
		}
	}

	return nil
}
