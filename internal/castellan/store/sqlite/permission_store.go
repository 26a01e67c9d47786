package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	dbpkg "github.com/castellan/castellan/internal/db"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

// PermissionStore runs each Apply call as one transaction on the shared
// write worker. The mutation engine's all-or-nothing discipline comes from
// here: fn returning an error rolls the whole transaction back.
type PermissionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPermissionStore(db *sql.DB, writer *dbpkg.Worker) *PermissionStore {
	return &PermissionStore{db: db, writer: writer}
}

func (s *PermissionStore) Apply(ctx context.Context, fn func(tx store.PermissionTx) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(&permissionTx{ctx: ctx, tx: tx})
	})
}

type permissionTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *permissionTx) InsertResourceGroup(g *types.ResourceGroup) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT OR IGNORE INTO resource_groups(group_name, security_level, description)
VALUES (?, ?, ?);`, g.Name, g.SecurityLevel, g.Description)
	if err != nil {
		return fmt.Errorf("insert resource group %s: %w", g.Name, err)
	}
	return nil
}

func (t *permissionTx) InsertProfile(p *types.Profile) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT OR IGNORE INTO profiles(profile_name, description)
VALUES (?, ?);`, p.Name, p.Description)
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.Name, err)
	}
	return nil
}

func (t *permissionTx) AddResourceToGroup(resourceID, groupName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT OR IGNORE INTO resource_group_members(group_name, resource_id)
VALUES (?, ?);`, groupName, resourceID)
	if err != nil {
		return fmt.Errorf("add resource %s to group %s: %w", resourceID, groupName, err)
	}
	return nil
}

func (t *permissionTx) AddGroupToProfile(groupName, profileName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT OR IGNORE INTO profile_resource_groups(profile_name, group_name)
VALUES (?, ?);`, profileName, groupName)
	if err != nil {
		return fmt.Errorf("add group %s to profile %s: %w", groupName, profileName, err)
	}
	return nil
}

func (t *permissionTx) AddProfileToCredential(profileName, credentialID string) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT OR IGNORE INTO credential_profiles(credential_id, profile_name)
VALUES (?, ?);`, credentialID, profileName)
	if err != nil {
		return fmt.Errorf("add profile %s to credential %s: %w", profileName, credentialID, err)
	}
	return nil
}

func (t *permissionTx) RemoveResourceFromGroup(resourceID, groupName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM resource_group_members WHERE group_name = ? AND resource_id = ?;`,
		groupName, resourceID)
	if err != nil {
		return fmt.Errorf("remove resource %s from group %s: %w", resourceID, groupName, err)
	}
	return nil
}

func (t *permissionTx) RemoveGroupFromProfile(groupName, profileName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM profile_resource_groups WHERE profile_name = ? AND group_name = ?;`,
		profileName, groupName)
	if err != nil {
		return fmt.Errorf("remove group %s from profile %s: %w", groupName, profileName, err)
	}
	return nil
}

func (t *permissionTx) RemoveProfileFromCredential(profileName, credentialID string) error {
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM credential_profiles WHERE credential_id = ? AND profile_name = ?;`,
		credentialID, profileName)
	if err != nil {
		return fmt.Errorf("remove profile %s from credential %s: %w", profileName, credentialID, err)
	}
	return nil
}

func (t *permissionTx) DeleteResourceGroup(groupName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM resource_groups WHERE group_name = ?;`, groupName)
	if err != nil {
		return fmt.Errorf("delete resource group %s: %w", groupName, err)
	}
	return nil
}

func (t *permissionTx) DeleteProfile(profileName string) error {
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM profiles WHERE profile_name = ?;`, profileName)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", profileName, err)
	}
	return nil
}

func (t *permissionTx) GroupResourceCount(groupName string) (int, error) {
	return t.count(`SELECT COUNT(*) FROM resource_group_members WHERE group_name = ?;`, groupName)
}

func (t *permissionTx) ProfileGroupCount(profileName string) (int, error) {
	return t.count(`SELECT COUNT(*) FROM profile_resource_groups WHERE profile_name = ?;`, profileName)
}

func (t *permissionTx) ProfileCredentialCount(profileName string) (int, error) {
	return t.count(`SELECT COUNT(*) FROM credential_profiles WHERE profile_name = ?;`, profileName)
}

func (t *permissionTx) count(query string, arg string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(t.ctx, query, arg).Scan(&n); err != nil {
		name := query[strings.Index(query, "FROM ")+5:]
		name = name[:strings.IndexByte(name, ' ')]
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}
