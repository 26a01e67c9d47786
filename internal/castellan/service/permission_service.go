package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/castellan/castellan/internal/castellan/cache"
	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

var (
	ErrResourceNotFound     = errors.New("resource does not exist")
	ErrInvalidCredential    = errors.New("credential is invalid or deactivated")
	ErrPermissionNotPresent = errors.New("permission not present")
)

// Auto-created node name prefixes. Revoke's garbage collection keys on
// these, so they are part of the graph's observable shape.
const (
	autoGroupPrefix   = "auto_group_"
	autoProfilePrefix = "auto_profile_"
)

// AutoGroupName returns the dedicated group name for a single resource.
// Repeated grants for the same resource reuse the same group.
func AutoGroupName(resourceID string) string {
	return autoGroupPrefix + resourceID
}

// AutoProfileName returns the dedicated profile name for a credential that
// has no profile yet.
func AutoProfileName(credentialID string) string {
	return autoProfilePrefix + credentialID
}

// PermissionService grants and revokes single credential-to-resource
// permission edges. Each operation is one store transaction; the in-memory
// cache is updated with the same edge set only after the store commit
// succeeds, so a failed transaction leaves both sides untouched.
type PermissionService struct {
	cache  *cache.Cache
	store  store.PermissionStore
	logger *log.Logger

	now func() time.Time
}

func NewPermissionService(c *cache.Cache, st store.PermissionStore, logger *log.Logger) *PermissionService {
	return &PermissionService{cache: c, store: st, logger: logger, now: time.Now}
}

// Grant gives the credential access to the resource, creating a dedicated
// auto group (and, if the credential has no profile, a dedicated auto
// profile) as needed. Granting an already-reachable resource is a no-op
// success.
func (s *PermissionService) Grant(ctx context.Context, credentialID, resourceID string) error {
	if _, ok := s.cache.Resource(resourceID); !ok {
		return fmt.Errorf("grant %s to %s: %w", resourceID, credentialID, ErrResourceNotFound)
	}
	cred, ok := s.cache.Credential(credentialID)
	if !ok || !cred.UsableAt(s.now()) {
		return fmt.Errorf("grant %s to %s: %w", resourceID, credentialID, ErrInvalidCredential)
	}

	if len(s.pathsTo(cred, resourceID)) > 0 {
		return nil // already reachable
	}

	groupName := AutoGroupName(resourceID)
	profileName := AutoProfileName(credentialID)
	if len(cred.ProfileNames) > 0 {
		profileName = cred.ProfileNames[0]
	}

	group := s.groupForCommit(groupName, resourceID)
	profile := s.profileForCommit(profileName, credentialID)

	err := s.store.Apply(ctx, func(tx store.PermissionTx) error {
		if err := tx.InsertResourceGroup(group); err != nil {
			return err
		}
		if err := tx.InsertProfile(profile); err != nil {
			return err
		}
		if err := tx.AddResourceToGroup(resourceID, groupName); err != nil {
			return err
		}
		if err := tx.AddGroupToProfile(groupName, profileName); err != nil {
			return err
		}
		return tx.AddProfileToCredential(profileName, credentialID)
	})
	if err != nil {
		return fmt.Errorf("grant %s to %s: %w", resourceID, credentialID, err)
	}

	// Store committed; apply the same edges to the cache, bottom-up so a
	// concurrent walk that sees the new credential->profile edge finds
	// the rest of the chain already in place.
	group.AddResource(resourceID)
	s.cache.PutResourceGroup(group)
	profile.AddGroup(groupName)
	s.cache.PutProfile(profile)
	c := cred.Clone()
	c.AddProfile(profileName)
	s.cache.PutCredential(c)

	return nil
}

// Revoke removes the credential's access to the resource through every
// (profile, group) path that currently reaches it. Dedicated auto groups
// are unlinked and garbage-collected once empty; shared groups only lose
// the resource membership edge, so other credentials keep their access.
func (s *PermissionService) Revoke(ctx context.Context, credentialID, resourceID string) error {
	cred, ok := s.cache.Credential(credentialID)
	if !ok {
		return fmt.Errorf("revoke %s from %s: %w", resourceID, credentialID, ErrPermissionNotPresent)
	}
	paths := s.pathsTo(cred, resourceID)
	if len(paths) == 0 {
		return fmt.Errorf("revoke %s from %s: %w", resourceID, credentialID, ErrPermissionNotPresent)
	}

	autoGroup := AutoGroupName(resourceID)

	err := s.store.Apply(ctx, func(tx store.PermissionTx) error {
		for _, p := range paths {
			if p.group != autoGroup {
				// Shared group: drop only the resource membership.
				if err := tx.RemoveResourceFromGroup(resourceID, p.group); err != nil {
					return err
				}
				continue
			}

			if err := tx.RemoveGroupFromProfile(p.group, p.profile); err != nil {
				return err
			}
			if err := tx.RemoveResourceFromGroup(resourceID, p.group); err != nil {
				return err
			}
			n, err := tx.GroupResourceCount(p.group)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := tx.DeleteResourceGroup(p.group); err != nil {
					return err
				}
			}
			n, err = tx.ProfileGroupCount(p.profile)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := tx.RemoveProfileFromCredential(p.profile, credentialID); err != nil {
					return err
				}
				n, err = tx.ProfileCredentialCount(p.profile)
				if err != nil {
					return err
				}
				if n == 0 {
					if err := tx.DeleteProfile(p.profile); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke %s from %s: %w", resourceID, credentialID, err)
	}

	s.commitRevoke(credentialID, resourceID, paths, autoGroup)
	return nil
}

// AccessibleResources lists every resource id the credential can currently
// reach through the graph, ignoring rule restrictions.
func (s *PermissionService) AccessibleResources(credentialID string) []string {
	cred, ok := s.cache.Credential(credentialID)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
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
			for _, id := range group.ResourceIDs {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	return out
}

type path struct {
	profile string
	group   string
}

// pathsTo enumerates every (profile, group) pair through which cred
// reaches resourceID. Same walk as the decision engine, without rule
// evaluation.
func (s *PermissionService) pathsTo(cred *types.Credential, resourceID string) []path {
	var out []path
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
			if group.Contains(resourceID) {
				out = append(out, path{profile: profileName, group: groupName})
			}
		}
	}
	return out
}

// groupForCommit returns a clone of the existing group or a fresh
// auto-group node ready to receive the resource.
func (s *PermissionService) groupForCommit(groupName, resourceID string) *types.ResourceGroup {
	if g, ok := s.cache.ResourceGroup(groupName); ok {
		return g.Clone()
	}
	return &types.ResourceGroup{
		Name:          groupName,
		SecurityLevel: 1,
		Description:   "Auto-created resource group for resource " + resourceID,
	}
}

func (s *PermissionService) profileForCommit(profileName, credentialID string) *types.Profile {
	if p, ok := s.cache.Profile(profileName); ok {
		return p.Clone()
	}
	return &types.Profile{
		Name:        profileName,
		Description: "Auto-created profile for credential " + credentialID,
	}
}

// commitRevoke mirrors the committed deletions into the cache, top-down:
// the credential->profile edge goes first so a concurrent walk never finds
// a profile whose chain below is already gone.
func (s *PermissionService) commitRevoke(credentialID, resourceID string, paths []path, autoGroup string) {
	for _, p := range paths {
		if p.group != autoGroup {
			if g, ok := s.cache.ResourceGroup(p.group); ok {
				cp := g.Clone()
				cp.RemoveResource(resourceID)
				s.cache.PutResourceGroup(cp)
			}
			continue
		}

		profileEmpty := false
		if prof, ok := s.cache.Profile(p.profile); ok {
			cp := prof.Clone()
			cp.RemoveGroup(p.group)
			profileEmpty = len(cp.GroupNames) == 0
			s.cache.PutProfile(cp)
		}

		if profileEmpty {
			if cred, ok := s.cache.Credential(credentialID); ok {
				cp := cred.Clone()
				cp.RemoveProfile(p.profile)
				s.cache.PutCredential(cp)
			}
			if !s.cache.ProfileInUse(p.profile, credentialID) {
				s.cache.DeleteProfile(p.profile)
			}
		}

		if g, ok := s.cache.ResourceGroup(p.group); ok {
			cp := g.Clone()
			cp.RemoveResource(resourceID)
			if len(cp.ResourceIDs) == 0 {
				s.cache.DeleteResourceGroup(p.group)
			} else {
				s.cache.PutResourceGroup(cp)
			}
		}
	}
}
