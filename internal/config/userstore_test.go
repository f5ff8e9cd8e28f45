package config

import "testing"

func TestNewUserStoreRejectsMalformedHash(t *testing.T) {
	_, err := NewUserStore([]UserConfig{{Username: "alice", NTHash: "not-hex"}})
	if err == nil {
		t.Fatal("expected error for malformed nt_hash")
	}
}

func TestUserStoreNTHashScopesToDomainThenFallsBack(t *testing.T) {
	store, err := NewUserStore([]UserConfig{
		{Username: "alice", Domain: "CORP", NTHash: "00000000000000000000000000000001"},
		{Username: "bob", NTHash: "00000000000000000000000000000002"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.NTHash("alice", "CORP"); !ok {
		t.Error("expected alice@CORP to resolve")
	}
	if _, ok := store.NTHash("alice", "OTHER"); ok {
		t.Error("alice scoped to CORP should not resolve under OTHER")
	}
	if _, ok := store.NTHash("bob", "ANYTHING"); !ok {
		t.Error("expected domain-less bob to resolve regardless of requested domain")
	}
	if _, ok := store.NTHash("carol", ""); ok {
		t.Error("unknown user should not resolve")
	}
}
