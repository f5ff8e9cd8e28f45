package ntlm

import (
	"sync"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// CredentialLookup resolves a username/domain pair to the account's NT
// hash. It is the only place user credentials are touched; everything
// else in this package works from the hash onward.
type CredentialLookup interface {
	NTHash(username, domain string) ([16]byte, bool)
}

// CryptoOracle is the dispatcher's view of NTLM authentication: verify a
// client's SESSION_SETUP_ANDX AUTHENTICATE blob against a prior
// CHALLENGE, and sign subsequent messages on the negotiated session.
// The dispatcher's Conn (C8) holds the concrete *Oracle, not this
// interface.
type CryptoOracle interface {
	// Challenge builds a Type 2 message and records its server
	// challenge under connID for the matching VerifyNTLM call.
	Challenge(connID, netbiosName, domain string) ([]byte, error)

	// VerifyNTLM validates a Type 3 message against the CHALLENGE
	// previously issued for connID. On success it returns the resolved
	// username, domain, and the signing key derived for the session.
	VerifyNTLM(connID string, authenticateMessage []byte) (username, domain string, signingKey [16]byte, err error)

	// Sign computes the NTLMSSP_MESSAGE_SIGNATURE for message under the
	// signing key established for sessionID at the given sequence number.
	Sign(sessionID string, seqNum uint32, message []byte) [8]byte
}

// Oracle is the in-process CryptoOracle implementation. It holds no
// network or disk state of its own: challenges and signing keys live in
// memory for the lifetime of the connection/session they belong to.
type Oracle struct {
	netbiosName string
	domain      string
	lookup      CredentialLookup

	mu      sync.Mutex
	pending map[string][8]byte   // connID -> server challenge
	signing map[string][16]byte // sessionID -> signing key
}

// NewOracle builds an Oracle that answers CHALLENGE/AUTHENTICATE for the
// given server identity, resolving credentials through lookup.
func NewOracle(netbiosName, domain string, lookup CredentialLookup) *Oracle {
	return &Oracle{
		netbiosName: netbiosName,
		domain:      domain,
		lookup:      lookup,
		pending:     make(map[string][8]byte),
		signing:     make(map[string][16]byte),
	}
}

// Challenge implements CryptoOracle.
func (o *Oracle) Challenge(connID, netbiosName, domain string) ([]byte, error) {
	if netbiosName == "" {
		netbiosName = o.netbiosName
	}
	if domain == "" {
		domain = o.domain
	}
	msg, serverChallenge := BuildChallenge(netbiosName, domain)

	o.mu.Lock()
	o.pending[connID] = serverChallenge
	o.mu.Unlock()

	return msg, nil
}

// VerifyNTLM implements CryptoOracle.
func (o *Oracle) VerifyNTLM(connID string, authenticateMessage []byte) (string, string, [16]byte, error) {
	var signingKey [16]byte

	o.mu.Lock()
	serverChallenge, ok := o.pending[connID]
	o.mu.Unlock()
	if !ok {
		return "", "", signingKey, cifserr.Protocol("no challenge pending for connection", nil).With("conn_id", connID)
	}

	auth, err := ParseAuthenticate(authenticateMessage)
	if err != nil {
		return "", "", signingKey, cifserr.Protocol("malformed authenticate message", err)
	}
	if auth.IsAnonymous {
		o.mu.Lock()
		delete(o.pending, connID)
		o.mu.Unlock()
		return "", "", signingKey, nil
	}

	ntHash, found := o.lookup.NTHash(auth.Username, auth.Domain)
	if !found {
		return "", "", signingKey, cifserr.Permission("unknown account", nil).With("username", auth.Username)
	}

	sessionBaseKey, err := ValidateNTLMv2Response(ntHash, auth.Username, auth.Domain, serverChallenge, auth.NtChallengeResponse)
	if err != nil {
		return "", "", signingKey, cifserr.Permission("ntlmv2 response mismatch", err).With("username", auth.Username)
	}

	signingKey = DeriveSigningKey(sessionBaseKey, auth.NegotiateFlags, auth.EncryptedRandomSessionKey)

	o.mu.Lock()
	delete(o.pending, connID)
	o.mu.Unlock()

	return auth.Username, auth.Domain, signingKey, nil
}

// BindSession records the signing key established during VerifyNTLM
// under the session ID the dispatcher assigns once SESSION_SETUP_ANDX
// completes, so later Sign calls can look it up by session rather than
// by connection.
func (o *Oracle) BindSession(sessionID string, signingKey [16]byte) {
	o.mu.Lock()
	o.signing[sessionID] = signingKey
	o.mu.Unlock()
}

// Sign implements CryptoOracle. It returns a zero checksum if sessionID
// has no signing key bound, which callers treat as "signing off."
func (o *Oracle) Sign(sessionID string, seqNum uint32, message []byte) [8]byte {
	o.mu.Lock()
	key, ok := o.signing[sessionID]
	o.mu.Unlock()
	if !ok {
		return [8]byte{}
	}
	return signingChecksum(key, seqNum, message)
}
