package memory

import (
	"context"
	"sync"

	"github.com/castellan/castellan/internal/castellan/store"
	"github.com/castellan/castellan/internal/castellan/types"
)

type edgeSet map[string]map[string]bool

func (e edgeSet) add(a, b string) {
	if e[a] == nil {
		e[a] = make(map[string]bool)
	}
	e[a][b] = true
}

func (e edgeSet) remove(a, b string) {
	delete(e[a], b)
}

func (e edgeSet) count(a string) int {
	return len(e[a])
}

func (e edgeSet) clone() edgeSet {
	out := make(edgeSet, len(e))
	for a, set := range e {
		cp := make(map[string]bool, len(set))
		for b := range set {
			cp[b] = true
		}
		out[a] = cp
	}
	return out
}

// PermissionStore applies each Apply call to a staged copy of its tables
// and swaps the copy in only when fn succeeds, matching the sqlite
// implementation's transaction semantics.
type PermissionStore struct {
	mu sync.Mutex

	groups   map[string]*types.ResourceGroup
	profiles map[string]*types.Profile

	groupMembers  edgeSet // group -> resource ids
	profileGroups edgeSet // profile -> group names
	profileCreds  edgeSet // profile -> credential ids

	failNext error
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		groups:        make(map[string]*types.ResourceGroup),
		profiles:      make(map[string]*types.Profile),
		groupMembers:  make(edgeSet),
		profileGroups: make(edgeSet),
		profileCreds:  make(edgeSet),
	}
}

// Seed installs the starting graph edges mirroring a cache fixture.
func (s *PermissionStore) Seed(profiles []*types.Profile, groups []*types.ResourceGroup, credentials []*types.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.profiles[p.Name] = p
		for _, g := range p.GroupNames {
			s.profileGroups.add(p.Name, g)
		}
	}
	for _, g := range groups {
		s.groups[g.Name] = g
		for _, r := range g.ResourceIDs {
			s.groupMembers.add(g.Name, r)
		}
	}
	for _, c := range credentials {
		for _, p := range c.ProfileNames {
			s.profileCreds.add(p, c.ID)
		}
	}
}

// FailNext makes the next Apply call fail with err after fn has run,
// exercising the caller's rollback path.
func (s *PermissionStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// HasGroup reports whether the group node exists. Test helper.
func (s *PermissionStore) HasGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[name]
	return ok
}

// HasProfile reports whether the profile node exists. Test helper.
func (s *PermissionStore) HasProfile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.profiles[name]
	return ok
}

func (s *PermissionStore) Apply(_ context.Context, fn func(tx store.PermissionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &permissionTx{
		groups:        make(map[string]*types.ResourceGroup, len(s.groups)),
		profiles:      make(map[string]*types.Profile, len(s.profiles)),
		groupMembers:  s.groupMembers.clone(),
		profileGroups: s.profileGroups.clone(),
		profileCreds:  s.profileCreds.clone(),
	}
	for k, v := range s.groups {
		staged.groups[k] = v
	}
	for k, v := range s.profiles {
		staged.profiles[k] = v
	}

	if err := fn(staged); err != nil {
		return err
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	s.groups = staged.groups
	s.profiles = staged.profiles
	s.groupMembers = staged.groupMembers
	s.profileGroups = staged.profileGroups
	s.profileCreds = staged.profileCreds
	return nil
}

type permissionTx struct {
	groups   map[string]*types.ResourceGroup
	profiles map[string]*types.Profile

	groupMembers  edgeSet
	profileGroups edgeSet
	profileCreds  edgeSet
}

func (t *permissionTx) InsertResourceGroup(g *types.ResourceGroup) error {
	if _, ok := t.groups[g.Name]; !ok {
		t.groups[g.Name] = g
	}
	return nil
}

func (t *permissionTx) InsertProfile(p *types.Profile) error {
	if _, ok := t.profiles[p.Name]; !ok {
		t.profiles[p.Name] = p
	}
	return nil
}

func (t *permissionTx) AddResourceToGroup(resourceID, groupName string) error {
	t.groupMembers.add(groupName, resourceID)
	return nil
}

func (t *permissionTx) AddGroupToProfile(groupName, profileName string) error {
	t.profileGroups.add(profileName, groupName)
	return nil
}

func (t *permissionTx) AddProfileToCredential(profileName, credentialID string) error {
	t.profileCreds.add(profileName, credentialID)
	return nil
}

func (t *permissionTx) RemoveResourceFromGroup(resourceID, groupName string) error {
	t.groupMembers.remove(groupName, resourceID)
	return nil
}

func (t *permissionTx) RemoveGroupFromProfile(groupName, profileName string) error {
	t.profileGroups.remove(profileName, groupName)
	return nil
}

func (t *permissionTx) RemoveProfileFromCredential(profileName, credentialID string) error {
	t.profileCreds.remove(profileName, credentialID)
	return nil
}

func (t *permissionTx) DeleteResourceGroup(groupName string) error {
	delete(t.groups, groupName)
	delete(t.groupMembers, groupName)
	return nil
}

func (t *permissionTx) DeleteProfile(profileName string) error {
	delete(t.profiles, profileName)
	delete(t.profileGroups, profileName)
	return nil
}

func (t *permissionTx) GroupResourceCount(groupName string) (int, error) {
	return t.groupMembers.count(groupName), nil
}

func (t *permissionTx) ProfileGroupCount(profileName string) (int, error) {
	return t.profileGroups.count(profileName), nil
}

func (t *permissionTx) ProfileCredentialCount(profileName string) (int, error) {
	return t.profileCreds.count(profileName), nil
}
