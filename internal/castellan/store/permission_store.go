package store

import (
	"context"

	"github.com/castellan/castellan/internal/castellan/types"
)

// PermissionTx exposes the per-edge primitives one grant or revoke is built
// from. All inserts are insert-or-ignore; re-adding an existing edge is not
// an error. Implementations run every call of one Apply invocation inside a
// single transaction.
type PermissionTx interface {
	InsertResourceGroup(group *types.ResourceGroup) error
	InsertProfile(profile *types.Profile) error

	AddResourceToGroup(resourceID, groupName string) error
	AddGroupToProfile(groupName, profileName string) error
	AddProfileToCredential(profileName, credentialID string) error

	RemoveResourceFromGroup(resourceID, groupName string) error
	RemoveGroupFromProfile(groupName, profileName string) error
	RemoveProfileFromCredential(profileName, credentialID string) error

	DeleteResourceGroup(groupName string) error
	DeleteProfile(profileName string) error

	// Orphan checks used by revoke's garbage collection.
	GroupResourceCount(groupName string) (int, error)
	ProfileGroupCount(profileName string) (int, error)
	ProfileCredentialCount(profileName string) (int, error)
}

// PermissionStore executes graph edits transactionally: fn either fully
// applies or, if it returns an error, leaves no trace.
type PermissionStore interface {
	Apply(ctx context.Context, fn func(tx PermissionTx) error) error
}
