// Package share implements the share lookup and per-connection access
// resolution algorithm: case-insensitive share name lookup, host
// allow/deny, and user valid/invalid/read/write list resolution with
// write-overrides-read.
package share

import (
	"path/filepath"
	"strings"

	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/config"
)

// Resolver answers TREE_CONNECT_ANDX access decisions against a static
// share catalog loaded from configuration.
type Resolver struct {
	byName map[string]*config.ShareConfig
}

// NewResolver indexes shares by lower-cased name for case-insensitive
// lookup.
func NewResolver(shares []config.ShareConfig) *Resolver {
	r := &Resolver{byName: make(map[string]*config.ShareConfig, len(shares))}
	for i := range shares {
		s := &shares[i]
		r.byName[strings.ToLower(s.Name)] = s
	}
	return r
}

// Resolve implements spec.md §4.5's four-step algorithm: share lookup,
// host check, user check, and the returned writeable flag.
func (r *Resolver) Resolve(peerHost, user, shareName string) (*config.ShareConfig, bool, error) {
	share, ok := r.byName[strings.ToLower(shareName)]
	if !ok {
		return nil, false, cifserr.NotFound("share not found", nil).With("share", shareName)
	}
	if !share.Available {
		return nil, false, cifserr.NotFound("share not available", nil).With("share", shareName)
	}

	if !hostAllowed(peerHost, share.AllowHosts, share.DenyHosts) {
		return nil, false, cifserr.Permission("host denied by share host rules", nil).With("share", shareName).With("host", peerHost)
	}

	writeable := share.Writeable

	if share.GuestOk {
		return share, writeable, nil
	}

	if matchesAny(user, share.InvalidUsers) {
		return nil, false, cifserr.Permission("user is in invalid_users", nil).With("share", shareName).With("user", user)
	}

	if matchesAny(user, share.ReadList) {
		writeable = false
	}
	if matchesAny(user, share.WriteList) {
		writeable = true
	}

	if len(share.ValidUsers) > 0 && !matchesAny(user, share.ValidUsers) {
		return nil, false, cifserr.Permission("user is not in valid_users", nil).With("share", shareName).With("user", user)
	}

	return share, writeable, nil
}

// hostAllowed implements the §4.5 step 2 allow/deny truth table.
func hostAllowed(peerHost string, allow, deny []string) bool {
	if len(allow) == 0 && len(deny) == 0 {
		return true
	}
	if matchesAny(peerHost, allow) {
		return true
	}
	if matchesAny(peerHost, deny) {
		return false
	}
	// empty allow, non-empty deny, peer not in deny: allow.
	return len(allow) == 0
}

// matchesAny reports whether value case-insensitively matches any
// pattern in list. Patterns may use shell-style wildcards (e.g.
// "192.168.1.*"), matching the same filepath.Match convention the
// directory-enumeration engine uses for name patterns.
func matchesAny(value string, list []string) bool {
	lowered := strings.ToLower(value)
	for _, pattern := range list {
		p := strings.ToLower(pattern)
		if p == lowered {
			return true
		}
		if matched, err := filepath.Match(p, lowered); err == nil && matched {
			return true
		}
	}
	return false
}
