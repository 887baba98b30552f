// Package memstore is a process-lifetime credential store. Nothing is written
// to disk and nothing is encrypted; it exists so the daemon has a store to run
// against.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/Paranoid-AF/passbridge/autofill"
)

// ErrNotFound is returned when an id does not resolve to a stored login.
var ErrNotFound = errors.New("memstore: credential not found")

// Store holds credentials in memory, keyed by a generated uuid.
type Store struct {
	mu    sync.RWMutex
	creds map[string]autofill.Credential
	order []string // insertion order, for stable listings
}

// New creates an empty store.
func New() *Store {
	return &Store{creds: make(map[string]autofill.Credential)}
}

// SaveCredentials inserts c under a new id and returns the stored copy.
// Any id already set on c is ignored.
func (s *Store) SaveCredentials(_ context.Context, c autofill.Credential) (*autofill.Credential, error) {
	c.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ID] = c
	s.order = append(s.order, c.ID)
	return &c, nil
}

// GetCredentials returns every login whose domain shares a registrable domain
// (eTLD+1) with rawURL, in insertion order.
func (s *Store) GetCredentials(_ context.Context, rawURL string) ([]autofill.Credential, error) {
	site := siteOf(rawURL)
	if site == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []autofill.Credential
	for _, id := range s.order {
		c, ok := s.creds[id]
		if !ok {
			continue
		}
		if siteOf(c.Domain) == site {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetCredentialsWithID returns the login stored under id, or nil if there is none.
func (s *Store) GetCredentialsWithID(_ context.Context, id string) (*autofill.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// UpdateCredentials replaces the login with c.ID and returns the stored copy.
func (s *Store) UpdateCredentials(_ context.Context, c autofill.Credential) (*autofill.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[c.ID]; !ok {
		return nil, ErrNotFound
	}
	s.creds[c.ID] = c
	return &c, nil
}

// DeleteCredentials removes the login with id. Deleting a missing id is not an error.
func (s *Store) DeleteCredentials(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[id]; !ok {
		return nil
	}
	delete(s.creds, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored logins.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// siteOf reduces a URL or bare host to its registrable domain.
func siteOf(raw string) string {
	host := autofill.Host(raw)
	if host == "" {
		return ""
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// IP addresses, localhost and bare public suffixes match only themselves.
		return host
	}
	return site
}
