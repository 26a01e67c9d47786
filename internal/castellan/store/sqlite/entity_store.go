// Package sqlite implements the castellan store interfaces on SQLite via
// modernc.org/sqlite. Reads go straight to the connection; writes are
// funneled through the shared db.Worker so the single-writer discipline
// holds across stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/castellan/castellan/internal/castellan/types"
)

const dateLayout = "2006-01-02"

type EntityStore struct {
	db *sql.DB
}

func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db}
}

func (s *EntityStore) LoadAllCredentials(ctx context.Context) ([]*types.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT credential_id, holder_id, created_date, expiration_date, last_update_date, active
FROM credentials ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllCredentials query: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.Credential)
	var out []*types.Credential
	for rows.Next() {
		var (
			c          types.Credential
			holderID   sql.NullString
			created    string
			expiration sql.NullString
			updated    sql.NullString
			active     int
		)
		if err := rows.Scan(&c.ID, &holderID, &created, &expiration, &updated, &active); err != nil {
			return nil, fmt.Errorf("LoadAllCredentials scan: %w", err)
		}
		c.HolderID = holderID.String
		c.Active = active == 1
		if c.CreatedDate, err = time.Parse(dateLayout, created); err != nil {
			return nil, fmt.Errorf("LoadAllCredentials created_date %q: %w", created, err)
		}
		if c.ExpirationDate, err = parseOptionalDate(expiration); err != nil {
			return nil, fmt.Errorf("LoadAllCredentials expiration_date: %w", err)
		}
		if c.LastUpdateDate, err = parseOptionalDate(updated); err != nil {
			return nil, fmt.Errorf("LoadAllCredentials last_update_date: %w", err)
		}
		byID[c.ID] = &c
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadAllCredentials rows: %w", err)
	}

	// Profile assignments in insertion order; the walk order matters.
	prows, err := s.db.QueryContext(ctx, `
SELECT credential_id, profile_name FROM credential_profiles ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllCredentials profiles query: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var credID, profile string
		if err := prows.Scan(&credID, &profile); err != nil {
			return nil, fmt.Errorf("LoadAllCredentials profiles scan: %w", err)
		}
		if c, ok := byID[credID]; ok {
			c.AddProfile(profile)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("LoadAllCredentials profiles rows: %w", err)
	}

	return out, nil
}

func (s *EntityStore) LoadAllResources(ctx context.Context) ([]*types.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT resource_id, reader_id, name, location, building, floor, resource_type, state
FROM resources ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllResources query: %w", err)
	}
	defer rows.Close()

	var out []*types.Resource
	for rows.Next() {
		var (
			r        types.Resource
			location sql.NullString
			building sql.NullString
			floor    sql.NullInt64
			rtype    string
			state    string
		)
		if err := rows.Scan(&r.ID, &r.ReaderID, &r.Name, &location, &building, &floor, &rtype, &state); err != nil {
			return nil, fmt.Errorf("LoadAllResources scan: %w", err)
		}
		r.Location = location.String
		r.Building = building.String
		if floor.Valid {
			f := int(floor.Int64)
			r.Floor = &f
		}
		r.Type = types.ResourceType(rtype)
		r.State = types.ResourceState(state)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *EntityStore) LoadAllHolders(ctx context.Context) ([]*types.Holder, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT holder_id, first_name, last_name, holder_type FROM holders ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllHolders query: %w", err)
	}
	defer rows.Close()

	var out []*types.Holder
	for rows.Next() {
		var h types.Holder
		var htype string
		if err := rows.Scan(&h.ID, &h.FirstName, &h.LastName, &htype); err != nil {
			return nil, fmt.Errorf("LoadAllHolders scan: %w", err)
		}
		h.Type = types.HolderType(htype)
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *EntityStore) LoadAllProfiles(ctx context.Context) ([]*types.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT profile_name, description FROM profiles ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllProfiles query: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*types.Profile)
	var out []*types.Profile
	for rows.Next() {
		var p types.Profile
		var desc sql.NullString
		if err := rows.Scan(&p.Name, &desc); err != nil {
			return nil, fmt.Errorf("LoadAllProfiles scan: %w", err)
		}
		p.Description = desc.String
		byName[p.Name] = &p
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grows, err := s.db.QueryContext(ctx, `
SELECT profile_name, group_name FROM profile_resource_groups ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllProfiles groups query: %w", err)
	}
	defer grows.Close()
	for grows.Next() {
		var profile, group string
		if err := grows.Scan(&profile, &group); err != nil {
			return nil, fmt.Errorf("LoadAllProfiles groups scan: %w", err)
		}
		if p, ok := byName[profile]; ok {
			p.AddGroup(group)
		}
	}
	return out, grows.Err()
}

func (s *EntityStore) LoadAllResourceGroups(ctx context.Context) ([]*types.ResourceGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT group_name, security_level, description FROM resource_groups ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllResourceGroups query: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*types.ResourceGroup)
	var out []*types.ResourceGroup
	for rows.Next() {
		var g types.ResourceGroup
		var desc sql.NullString
		if err := rows.Scan(&g.Name, &g.SecurityLevel, &desc); err != nil {
			return nil, fmt.Errorf("LoadAllResourceGroups scan: %w", err)
		}
		g.Description = desc.String
		byName[g.Name] = &g
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx, `
SELECT group_name, resource_id FROM resource_group_members ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllResourceGroups members query: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var group, resource string
		if err := mrows.Scan(&group, &resource); err != nil {
			return nil, fmt.Errorf("LoadAllResourceGroups members scan: %w", err)
		}
		if g, ok := byName[group]; ok {
			g.AddResource(resource)
		}
	}
	return out, mrows.Err()
}

func (s *EntityStore) LoadAllRules(ctx context.Context) ([]*types.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT rule_id, profile_name, group_name, allowed_days, start_time, end_time,
       max_per_day, max_per_week, max_per_month, requires_precedence
FROM access_rules ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("LoadAllRules query: %w", err)
	}
	defer rows.Close()

	var out []*types.Rule
	for rows.Next() {
		var (
			r          types.Rule
			days       sql.NullString
			start, end sql.NullString
			perDay     sql.NullInt64
			perWeek    sql.NullInt64
			perMonth   sql.NullInt64
			precedence int
		)
		if err := rows.Scan(&r.ID, &r.ProfileName, &r.GroupName, &days, &start, &end,
			&perDay, &perWeek, &perMonth, &precedence); err != nil {
			return nil, fmt.Errorf("LoadAllRules scan: %w", err)
		}
		if r.AllowedDaysOfWeek, err = parseDays(days.String); err != nil {
			return nil, fmt.Errorf("LoadAllRules rule %s: %w", r.ID, err)
		}
		if r.StartTime, err = parseOptionalTime(start); err != nil {
			return nil, fmt.Errorf("LoadAllRules rule %s start: %w", r.ID, err)
		}
		if r.EndTime, err = parseOptionalTime(end); err != nil {
			return nil, fmt.Errorf("LoadAllRules rule %s end: %w", r.ID, err)
		}
		r.MaxAccessPerDay = optionalInt(perDay)
		r.MaxAccessPerWeek = optionalInt(perWeek)
		r.MaxAccessPerMonth = optionalInt(perMonth)
		r.RequiresPrecedence = precedence == 1
		out = append(out, &r)
	}
	return out, rows.Err()
}

func parseOptionalDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseOptionalTime(v sql.NullString) (*types.TimeOfDay, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := types.ParseTimeOfDay(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDays(csv string) ([]int, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 || d > 6 {
			return nil, fmt.Errorf("bad day %q", p)
		}
		out = append(out, d)
	}
	return out, nil
}

func optionalInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
