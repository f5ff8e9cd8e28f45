package secdesc

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"sync"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// Krb5IDMap is an IDMapOracle that resolves SIDs against Kerberos
// principal names instead of raw Unix ids: a SID carries a principal's
// RID the same way LocalIDMap's does, and ResolvePrincipal maps a
// principal's short name to a Unix id via the local passwd/group
// database, which is how a keytab-authenticated SESSION_SETUP_ANDX ties
// a principal back to a Unix identity. SIDToID itself does no
// principal lookup.
//
// It wraps a LocalIDMap for the RID arithmetic and keeps the keytab and
// krb5.conf only for the authentication provider to consult; the idmap
// codec itself never needs to decrypt anything.
type Krb5IDMap struct {
	local    *LocalIDMap
	mu       sync.RWMutex
	keytab   *keytab.Keytab
	krb5Conf *krb5config.Config
	realm    string
}

// NewKrb5IDMap builds a Krb5IDMap over machine SID a.b.c, loading the
// keytab and krb5.conf the Kerberos authentication path also uses.
func NewKrb5IDMap(a, b, c uint32, keytabPath, krb5ConfPath, realm string) (*Krb5IDMap, error) {
	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, cifserr.Resource("load kerberos keytab", err).With("path", keytabPath)
	}

	krbCfg, err := krb5config.Load(krb5ConfPath)
	if err != nil {
		return nil, cifserr.Resource("load krb5.conf", err).With("path", krb5ConfPath)
	}

	return &Krb5IDMap{
		local:    NewLocalIDMap(a, b, c),
		keytab:   kt,
		krb5Conf: krbCfg,
		realm:    realm,
	}, nil
}

// IDToSID implements IDMapOracle by delegating to the underlying
// machine-SID RID arithmetic; Kerberos principals do not change how a
// Unix id is rendered as a SID.
func (m *Krb5IDMap) IDToSID(id uint32, kind IDKind) (*SID, error) {
	return m.local.IDToSID(id, kind)
}

// SIDToID implements IDMapOracle with the machine-domain RID
// arithmetic only; a SID outside the machine domain returns NotFound,
// since a principal name, not a SID, is what ResolvePrincipal needs to
// reach the local passwd/group database.
func (m *Krb5IDMap) SIDToID(sid *SID, kind IDKind) (uint32, error) {
	if id, err := m.local.SIDToID(sid, kind); err == nil {
		return id, nil
	}
	return 0, cifserr.NotFound("sid is outside this server's machine domain and kerberos fallback requires a principal name, not a sid", nil).With("sid", sid.String())
}

// ResolvePrincipal maps a Kerberos principal's short name (the part
// before "@REALM") to a Unix id via the local passwd/group database,
// and returns the SID the mapper would assign that id. This is the
// entry point SESSION_SETUP_ANDX's Kerberos path uses after
// authentication succeeds, since a principal name alone carries no
// Unix identity.
func (m *Krb5IDMap) ResolvePrincipal(principalName string, kind IDKind) (uint32, *SID, error) {
	if kind == KindGroup {
		g, err := user.LookupGroup(principalName)
		if err != nil {
			return 0, nil, cifserr.NotFound("kerberos principal has no local group", err).With("principal", principalName)
		}
		gid, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return 0, nil, cifserr.Protocol("local group id is not numeric", err).With("gid", g.Gid)
		}
		sid, _ := m.local.IDToSID(uint32(gid), KindGroup)
		return uint32(gid), sid, nil
	}

	u, err := user.Lookup(principalName)
	if err != nil {
		return 0, nil, cifserr.NotFound("kerberos principal has no local account", err).With("principal", principalName)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, nil, cifserr.Protocol("local user id is not numeric", err).With("uid", u.Uid)
	}
	sid, _ := m.local.IDToSID(uint32(uid), KindUser)
	return uint32(uid), sid, nil
}

// Realm returns the configured Kerberos realm, used by the
// authentication path to qualify bare principal names.
func (m *Krb5IDMap) Realm() string {
	return m.realm
}

// Keytab returns the loaded keytab for the authentication provider.
func (m *Krb5IDMap) Keytab() *keytab.Keytab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keytab
}

// ReloadKeytab re-reads the keytab file, allowing rotation without a
// server restart.
func (m *Krb5IDMap) ReloadKeytab(path string) error {
	kt, err := loadKeytab(path)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", path, err)
	}
	m.mu.Lock()
	m.keytab = kt
	m.mu.Unlock()
	return nil
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}
