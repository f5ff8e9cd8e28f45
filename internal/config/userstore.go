package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UserStore resolves a username/domain pair to its configured NT hash.
// It satisfies ntlm.CredentialLookup structurally, so this package need
// not import ntlm to provide it.
type UserStore struct {
	byKey map[string][16]byte
}

// NewUserStore builds a UserStore from the configured account table,
// rejecting any entry whose nt_hash isn't a valid 16-byte hex string.
func NewUserStore(users []UserConfig) (*UserStore, error) {
	store := &UserStore{byKey: make(map[string][16]byte, len(users))}
	for _, u := range users {
		raw, err := hex.DecodeString(u.NTHash)
		if err != nil || len(raw) != 16 {
			return nil, fmt.Errorf("user %q: nt_hash must be 32 hex characters", u.Username)
		}
		var hash [16]byte
		copy(hash[:], raw)
		store.byKey[userKey(u.Username, u.Domain)] = hash
	}
	return store, nil
}

// NTHash looks up username's NT hash, first scoped to domain and then
// falling back to a domain-less entry, matching how SESSION_SETUP_ANDX
// may arrive with or without a domain qualifier.
func (s *UserStore) NTHash(username, domain string) ([16]byte, bool) {
	if hash, ok := s.byKey[userKey(username, domain)]; ok {
		return hash, true
	}
	hash, ok := s.byKey[userKey(username, "")]
	return hash, ok
}

func userKey(username, domain string) string {
	return strings.ToUpper(domain) + "\\" + strings.ToUpper(username)
}
