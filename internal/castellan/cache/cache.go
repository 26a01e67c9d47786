// Package cache holds the in-memory authorization graph the decision and
// mutation engines operate on: a full entity snapshot loaded once from the
// entity store, plus per-resource reader lock state that lives only in
// memory and resets to active on every (re)load.
package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

// ruleKey identifies the rule attached to a (profile, group) pair.
type ruleKey struct {
	Profile string
	Group   string
}

// Cache is safe for concurrent use. Each entity kind lives in its own
// guarded map, so frequent decision reads do not serialize behind
// occasional mutation or lock-toggle writes.
//
// Entities are swapped whole on mutation (clone, edit, put) so a reader
// that already holds a pointer sees either the old or the new membership
// list, never a half-edited one.
type Cache struct {
	logger *log.Logger

	credentials *cmap[string, *types.Credential]
	resources   *cmap[string, *types.Resource]
	holders     *cmap[string, *types.Holder]
	profiles    *cmap[string, *types.Profile]
	groups      *cmap[string, *types.ResourceGroup]
	rules       *cmap[ruleKey, *types.Rule]

	// readerActive has an entry for every resource known to the cache,
	// true = active. Resources without an entry are unknown.
	readerActive *cmap[string, bool]

	mu          sync.Mutex // guards initialized
	initialized bool
}

func New(logger *log.Logger) *Cache {
	return &Cache{
		logger:       logger,
		credentials:  newCmap[string, *types.Credential](),
		resources:    newCmap[string, *types.Resource](),
		holders:      newCmap[string, *types.Holder](),
		profiles:     newCmap[string, *types.Profile](),
		groups:       newCmap[string, *types.ResourceGroup](),
		rules:        newCmap[ruleKey, *types.Rule](),
		readerActive: newCmap[string, bool](),
	}
}

// Load populates the cache from the entity store in one pass and marks
// every reader active. Calling Load on an already-initialized cache is a
// no-op success; call Clear first to force a reload.
func (c *Cache) Load(ctx context.Context, src store.EntityStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	credentials, err := src.LoadAllCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	resources, err := src.LoadAllResources(ctx)
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	holders, err := src.LoadAllHolders(ctx)
	if err != nil {
		return fmt.Errorf("load holders: %w", err)
	}
	profiles, err := src.LoadAllProfiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	groups, err := src.LoadAllResourceGroups(ctx)
	if err != nil {
		return fmt.Errorf("load resource groups: %w", err)
	}
	rules, err := src.LoadAllRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	for _, cr := range credentials {
		c.credentials.put(cr.ID, cr)
	}
	for _, r := range resources {
		c.resources.put(r.ID, r)
		c.readerActive.put(r.ID, true)
	}
	for _, h := range holders {
		c.holders.put(h.ID, h)
	}
	for _, p := range profiles {
		c.profiles.put(p.Name, p)
	}
	for _, g := range groups {
		c.groups.put(g.Name, g)
	}
	for _, r := range rules {
		c.rules.put(ruleKey{r.ProfileName, r.GroupName}, r)
	}

	c.initialized = true
	c.logger.Printf("cache loaded: %d credentials, %d resources, %d holders, %d profiles, %d groups, %d rules",
		len(credentials), len(resources), len(holders), len(profiles), len(groups), len(rules))
	return nil
}

// Clear empties every map and marks the cache uninitialized. Outstanding
// lock timers for the cleared resources become no-ops.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials.clear()
	c.resources.clear()
	c.holders.clear()
	c.profiles.clear()
	c.groups.clear()
	c.rules.clear()
	c.readerActive.clear()
	c.initialized = false
}

func (c *Cache) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Cache) Credential(id string) (*types.Credential, bool) { return c.credentials.get(id) }
func (c *Cache) Resource(id string) (*types.Resource, bool) { return c.resources.get(id) }
func (c *Cache) Holder(id string) (*types.Holder, bool) { return c.holders.get(id) }
func (c *Cache) Profile(name string) (*types.Profile, bool) { return c.profiles.get(name) }

func (c *Cache) ResourceGroup(name string) (*types.ResourceGroup, bool) {
	return c.groups.get(name)
}

func (c *Cache) Rule(profileName, groupName string) (*types.Rule, bool) {
	return c.rules.get(ruleKey{profileName, groupName})
}

// ReaderState returns the lock state and whether the resource is known to
// the cache at all. The decision engine uses the known flag to report an
// unknown resource as "resource not found" rather than "reader locked".
func (c *Cache) ReaderState(resourceID string) (active, known bool) {
	return c.readerActive.get(resourceID)
}

// IsReaderActive reports whether the resource's reader is currently
// accepting requests. Unknown resources are not active.
func (c *Cache) IsReaderActive(resourceID string) bool {
	active, known := c.readerActive.get(resourceID)
	return known && active
}

// LockReader marks the reader unavailable. Locking a resource the cache
// does not know is a silent no-op; the scheduler may race a cache clear.
func (c *Cache) LockReader(resourceID string) {
	c.readerActive.putIfPresent(resourceID, false)
}

// UnlockReader marks the reader available again. No-op for unknown ids.
func (c *Cache) UnlockReader(resourceID string) {
	c.readerActive.putIfPresent(resourceID, true)
}

// PutCredential, PutProfile, PutResourceGroup and the deletes below are the
// mutation engine's commit path: it applies the exact edge set the store
// transaction committed.

func (c *Cache) PutCredential(cr *types.Credential) { c.credentials.put(cr.ID, cr) }
func (c *Cache) PutProfile(p *types.Profile) { c.profiles.put(p.Name, p) }
func (c *Cache) PutResourceGroup(g *types.ResourceGroup) { c.groups.put(g.Name, g) }

func (c *Cache) DeleteProfile(name string) { c.profiles.delete(name) }
func (c *Cache) DeleteResourceGroup(name string) { c.groups.delete(name) }

// ProfileInUse reports whether any credential other than exceptID still
// references the profile. Used by revoke's garbage collection.
func (c *Cache) ProfileInUse(profileName, exceptID string) bool {
	for id, cr := range c.credentials.snapshot() {
		if id == exceptID {
			continue
		}
		for _, n := range cr.ProfileNames {
			if n == profileName {
				return true
			}
		}
	}
	return false
}

// ActiveCredentialIDs returns the ids of all currently usable credentials.
// Used by the traffic simulator to pick a random presenter.
func (c *Cache) ActiveCredentialIDs(now time.Time) []string {
	var out []string
	for id, cr := range c.credentials.snapshot() {
		if cr.UsableAt(now) {
			out = append(out, id)
		}
	}
	return out
}

// ResourceIDs returns every resource id known to the cache.
func (c *Cache) ResourceIDs() []string {
	return c.resources.keys()
}
