package store

import (
	"context"

	"github.com/castellan/castellan/internal/castellan/types"
)

// EntityStore is the bulk-load source for the authorization cache. Each
// method returns entities in a stable order; membership lists inside the
// returned entities preserve insertion order, which the decision walk
// depends on.
type EntityStore interface {
	LoadAllCredentials(ctx context.Context) ([]*types.Credential, error)
	LoadAllResources(ctx context.Context) ([]*types.Resource, error)
	LoadAllHolders(ctx context.Context) ([]*types.Holder, error)
	LoadAllProfiles(ctx context.Context) ([]*types.Profile, error)
	LoadAllResourceGroups(ctx context.Context) ([]*types.ResourceGroup, error)
	LoadAllRules(ctx context.Context) ([]*types.Rule, error)
}
