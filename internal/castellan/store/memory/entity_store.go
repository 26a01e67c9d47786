// Package memory provides in-memory implementations of the castellan store
// interfaces for tests and dev environments.
package memory

import (
	"context"
	"sync"

	"github.com/castellan/castellan/internal/castellan/types"
)

// EntityStore serves a fixed snapshot. Populate the slices before handing
// it to the cache; SetLoadErr simulates an unreachable snapshot source.
type EntityStore struct {
	mu sync.Mutex

	Credentials []*types.Credential
	Resources   []*types.Resource
	Holders     []*types.Holder
	Profiles    []*types.Profile
	Groups      []*types.ResourceGroup
	Rules       []*types.Rule

	loadErr error
}

func NewEntityStore() *EntityStore {
	return &EntityStore{}
}

// SetLoadErr makes every LoadAll call fail with err until reset with nil.
func (s *EntityStore) SetLoadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func (s *EntityStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

func (s *EntityStore) LoadAllCredentials(_ context.Context) ([]*types.Credential, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Credentials, nil
}

func (s *EntityStore) LoadAllResources(_ context.Context) ([]*types.Resource, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Resources, nil
}

func (s *EntityStore) LoadAllHolders(_ context.Context) ([]*types.Holder, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Holders, nil
}

func (s *EntityStore) LoadAllProfiles(_ context.Context) ([]*types.Profile, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Profiles, nil
}

func (s *EntityStore) LoadAllResourceGroups(_ context.Context) ([]*types.ResourceGroup, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Groups, nil
}

func (s *EntityStore) LoadAllRules(_ context.Context) ([]*types.Rule, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Rules, nil
}
