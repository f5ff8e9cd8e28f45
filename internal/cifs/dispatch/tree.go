package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/metrics"
)

func init() {
	register(CmdTreeConnectAndX, &command{name: "TREE_CONNECT_ANDX", handler: handleTreeConnectAndX, needsUID: true})
	register(CmdTreeDisconnect, &command{name: "TREE_DISCONNECT", handler: handleTreeDisconnect, needsUID: true, needsTID: true})
}

// handleTreeConnectAndX resolves \\server\share out of the request's
// data bytes, runs it through the share resolver's access checks, and
// allocates a TID bound to the writability the resolver computed.
func handleTreeConnectAndX(c *Conn, req *request) (*wire.Body, error) {
	sess, _ := c.Sessions.GetSession(req.hdr.UID)

	// Data bytes: Password (ByteCount-length-prefixed via PasswordLength
	// word), then Path (OEM/Unicode string), then Service (OEM string).
	if len(req.body.Words) < 4 {
		return nil, cifserr.Protocol("TREE_CONNECT_ANDX word count too short", nil)
	}
	pwLen := int(req.body.Words[3])
	rest := req.body.Bytes
	if pwLen > len(rest) {
		return nil, cifserr.Protocol("TREE_CONNECT_ANDX password length overruns buffer", nil)
	}
	rest = rest[pwLen:]

	unicode := req.hdr.IsUnicode()
	if unicode && pwLen%2 == 1 {
		rest = rest[1:] // word-align the path string after an odd password field
	}
	fullPath, consumed := wire.DecodeString(rest, unicode)
	rest = rest[consumed:]
	service, _ := wire.DecodeString(rest, false)

	shareName := lastComponent(fullPath)

	sc, writable, err := c.srv.Shares.Resolve(c.peerHost(), sess.Username, shareName)
	if err != nil {
		return nil, err
	}

	tree := c.Sessions.ConnectTree(sess, sc.Name, writable)
	if metrics.IsEnabled() {
		metrics.RecordTreeConnected()
	}

	words := []uint16{CmdAndXNone, 0, 0}
	respService := "A:"
	if service == "IPC" {
		respService = "IPC"
	}
	data := append([]byte{}, wire.EncodeString(respService, false)...)
	data = append(data, wire.EncodeString("", unicode)...) // native file system, left empty

	hdrCopy := *req.hdr
	hdrCopy.TID = tree.TID
	*req.hdr = hdrCopy

	return &wire.Body{Words: words, Bytes: data}, nil
}

// lastComponent extracts the share name from a \\server\share wire
// path.
func lastComponent(p string) string {
	last := 0
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '\\' || p[i] == '/' {
			last = i + 1
			break
		}
	}
	return p[last:]
}

func handleTreeDisconnect(c *Conn, req *request) (*wire.Body, error) {
	sess, _ := c.Sessions.GetSession(req.hdr.UID)
	if _, ok := session.LookupTree(sess, req.hdr.TID); !ok {
		return nil, cifserr.NotFound("unknown tree", nil).With("tid", req.hdr.TID)
	}
	session.DisconnectTree(sess, req.hdr.TID)
	if metrics.IsEnabled() {
		metrics.RecordTreeDisconnected()
	}
	return &wire.Body{}, nil
}
