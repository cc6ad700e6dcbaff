// Package trust maps token issuers to the key material used to verify them.
package trust

import (
	"sort"
	"sync/atomic"
)

// Store holds the issuer to key-location mapping. Readers never lock; the
// mapping is only ever swapped as a whole.
type Store struct {
	entries atomic.Pointer[map[string]string]
}

// NewStore copies entries into a new store.
func NewStore(entries map[string]string) *Store {
	s := &Store{}
	s.Replace(entries)
	return s
}

// Lookup returns the key-location descriptor for issuer.
func (s *Store) Lookup(issuer string) (string, bool) {
	entries := s.entries.Load()
	if entries == nil {
		return "", false
	}
	descriptor, ok := (*entries)[issuer]
	return descriptor, ok
}

// Replace atomically swaps the whole mapping. entries is copied.
func (s *Store) Replace(entries map[string]string) {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	s.entries.Store(&m)
}

// Issuers lists the trusted issuers, sorted.
func (s *Store) Issuers() []string {
	entries := s.entries.Load()
	if entries == nil {
		return nil
	}
	out := make([]string, 0, len(*entries))
	for k := range *entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
