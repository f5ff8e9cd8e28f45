package dispatch

import (
	"strings"

	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/logger"
)

func init() {
	register(CmdSessionSetupAndX, &command{name: "SESSION_SETUP_ANDX", handler: handleSessionSetupAndX})
	register(CmdLogoffAndX, &command{name: "LOGOFF_ANDX", handler: handleLogoffAndX, needsUID: true})
}

// handleSessionSetupAndX implements the extended-security NTLM
// exchange: a Type 2 challenge on the first leg (OWFLen fields carry a
// zero-length blob and the security blob in Bytes is the client's Type
// 1/Type 3 NTLMSSP token), and session creation once VerifyNTLM
// succeeds. Anonymous/guest fallback follows MapToGuest policy.
func handleSessionSetupAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 12 {
		return nil, cifserr.Protocol("SESSION_SETUP_ANDX word count too short", nil)
	}

	secBlobLen := int(req.body.Words[7])
	if secBlobLen > len(req.body.Bytes) {
		return nil, cifserr.Protocol("SESSION_SETUP_ANDX security blob overruns buffer", nil)
	}
	secBlob := req.body.Bytes[:secBlobLen]

	connID := c.id

	switch {
	case len(secBlob) == 0:
		// First leg: issue a challenge. The client resends
		// SESSION_SETUP_ANDX carrying the NTLM Type 3 message.
		challenge, err := c.oracle.Challenge(connID, c.srv.Config.Global.NetBIOSName, c.srv.Config.Global.Workgroup)
		if err != nil {
			return nil, cifserr.Protocol("failed to build NTLM challenge", err)
		}
		words := []uint16{CmdAndXNone, 0, 0, uint16(len(challenge))}
		return &wire.Body{Words: words, Bytes: challenge}, nil

	default:
		username, domain, signingKey, err := c.oracle.VerifyNTLM(connID, secBlob)
		isGuest := false
		if err != nil {
			switch c.srv.Config.Global.MapToGuest {
			case "bad-user", "bad-password":
				isGuest = true
				username = c.srv.Config.Global.GuestAccount
			default:
				return nil, cifserr.Permission("NTLM authentication failed", err)
			}
		}

		sess, serr := c.Sessions.CreateSession(c.peer, isGuest, username, domain)
		if serr != nil {
			return nil, serr
		}
		if !isGuest {
			c.oracle.BindSession(c.sessionSigningID(sess.UID), signingKey)
		}
		c.signingEnabled = strings.EqualFold(c.srv.Config.Global.ServerSigning, "mandatory")

		logger.InfoCtx(c.ctx, "session established",
			logger.SessionID(sess.UID), logger.Username(username), logger.Domain(domain))

		words := []uint16{CmdAndXNone, 0, boolWord(isGuest)}
		native := wire.EncodeString("Unix", req.hdr.IsUnicode())
		lanman := wire.EncodeString("CIFSD", req.hdr.IsUnicode())
		bytes := append(append([]byte{}, native...), lanman...)
		return &wire.Body{Words: words, Bytes: bytes}, nil
	}
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// handleLogoffAndX drains in-flight requests on the session, closes
// every handle it still owns, and removes it from the registry.
func handleLogoffAndX(c *Conn, req *request) (*wire.Body, error) {
	sess, ok := c.Sessions.GetSession(req.hdr.UID)
	if !ok {
		return nil, cifserr.NotFound("unknown session", nil).With("uid", req.hdr.UID)
	}

	uid := sess.UID
	err := c.Sessions.Logoff(sess, func(*session.Session) { c.closeAllHandles(uid) })
	if err != nil {
		return nil, err
	}

	return &wire.Body{Words: []uint16{CmdAndXNone, 0}, Bytes: nil}, nil
}
