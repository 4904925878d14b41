// Package store provides account-status lookups for the policy gate.
package store

import (
	"context"
	"strings"
	"sync"

	"authgate/internal/policy/models"
)

// InMemoryStore keeps accounts in process. Used in development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.Account
	byEmail map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*models.Account),
		byEmail: make(map[string]string),
	}
}

// Save inserts or replaces an account.
func (s *InMemoryStore) Save(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byID[account.ID]; ok {
		delete(s.byEmail, normalizeEmail(prev.Email))
	}
	stored := *account
	s.byID[account.ID] = &stored
	if account.Email != "" {
		s.byEmail[normalizeEmail(account.Email)] = account.ID
	}
	return nil
}

// FindAccountByIDOrEmail looks up by userID when set, otherwise by email.
func (s *InMemoryStore) FindAccountByIDOrEmail(_ context.Context, userID, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID == "" {
		id, ok := s.byEmail[normalizeEmail(email)]
		if !ok {
			return nil, nil
		}
		userID = id
	}
	account, ok := s.byID[userID]
	if !ok {
		return nil, nil
	}
	out := *account
	return &out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
