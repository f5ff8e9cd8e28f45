package dispatch

import (
	"context"
	"net"
	"testing"

	"github.com/opencifsd/cifsd/internal/cifs/secdesc"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/ntlm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- pure-function unit tests -------------------------------------------

func TestStatusFromErrorMapsEveryKind(t *testing.T) {
	cases := []struct {
		err  error
		want uint32
	}{
		{cifserr.NotFound("nf", nil), StatusObjectNameNotFound},
		{cifserr.Exists("exists", nil), StatusObjectNameCollision},
		{cifserr.Permission("perm", nil), StatusAccessDenied},
		{cifserr.Resource("res", nil), StatusTooManyOpenedFiles},
		{cifserr.Protocol("proto", nil), StatusInvalidParameter},
		{cifserr.Transient("transient", nil), StatusFileLockConflict},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFromError(tc.err))
	}
	assert.Equal(t, StatusInternalError, StatusFromError(plainError{}))
}

func TestAndXNextStopsOnNonAndXBody(t *testing.T) {
	_, _, isAndX := andxNext(&wire.Body{Words: []uint16{1}}, &wire.Body{Words: []uint16{1}})
	assert.False(t, isAndX)
}

func TestAndXNextReportsTerminator(t *testing.T) {
	cmd, _, isAndX := andxNext(
		&wire.Body{Words: []uint16{uint16(CmdAndXNone), 0}},
		&wire.Body{Words: []uint16{0, 0}},
	)
	require.True(t, isAndX)
	assert.Equal(t, CmdAndXNone, cmd)
}

func TestAndXNextReportsNextCommandAndOffset(t *testing.T) {
	cmd, offset, isAndX := andxNext(
		&wire.Body{Words: []uint16{uint16(CmdReadAndX), 99}},
		&wire.Body{Words: []uint16{0, 0}},
	)
	require.True(t, isAndX)
	assert.Equal(t, CmdReadAndX, cmd)
	assert.Equal(t, 99, offset)
}

func TestParseDialectsStopsAtFirstNonBufferFormatByte(t *testing.T) {
	data := append([]byte{0x02}, append([]byte("NT LM 0.12\x00"), 0x02)...)
	data = append(data, []byte("LANMAN1.0\x00")...)
	data = append(data, 0x03)
	data = append(data, []byte("LANMAN2.1\x00")...)
	got := parseDialects(data)
	assert.Equal(t, []string{"NT LM 0.12", "LANMAN1.0"}, got)
}

func TestLastComponentExtractsShareName(t *testing.T) {
	assert.Equal(t, "public", lastComponent(`\\server\public`))
	assert.Equal(t, "public", lastComponent(`public`))
}

func TestDecodeLockRangeReadsLittleEndianFields(t *testing.T) {
	b := make([]byte, 10)
	b[2], b[3], b[4], b[5] = 0x10, 0, 0, 0 // offset = 16
	b[6], b[7], b[8], b[9] = 0x04, 0, 0, 0 // length = 4
	start, length := decodeLockRange(b)
	assert.Equal(t, int64(16), start)
	assert.Equal(t, int64(4), length)
}

func TestCommandTableRegistersCoreCommands(t *testing.T) {
	for _, cmd := range []uint8{
		CmdNegotiate, CmdSessionSetupAndX, CmdTreeConnectAndX, CmdTreeDisconnect,
		CmdLogoffAndX, CmdNTCreateAndX, CmdOpenAndX, CmdReadAndX, CmdWriteAndX,
		CmdClose, CmdFlush, CmdLockingAndX, CmdTransaction, CmdTransaction2,
		CmdFindClose2, CmdCreateDirectory, CmdDeleteDirectory, CmdDelete, CmdRename,
		CmdCheckDirectory, CmdSetInformation, CmdQueryInformation, CmdEcho,
		CmdProcessExit,
	} {
		_, ok := dispatchTable[cmd]
		assert.Truef(t, ok, "command 0x%02X missing from dispatch table", cmd)
	}
}

// --- end-to-end harness ---------------------------------------------------

type fixedCredLookup struct {
	username, domain string
	hash             [16]byte
	ok               bool
}

func (f fixedCredLookup) NTHash(username, domain string) ([16]byte, bool) {
	if username == f.username && domain == f.domain {
		return f.hash, f.ok
	}
	return [16]byte{}, false
}

func newTestConn(t *testing.T, root string, writable bool) *Conn {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			NetBIOSName:   "CIFSD",
			Workgroup:     "WORKGROUP",
			ServerSigning: "disable",
			MapToGuest:    "bad-user",
			GuestAccount:  "guest",
		},
		Shares: []config.ShareConfig{
			{Name: "public", Path: root, Available: true, Writeable: writable, GuestOk: true},
		},
	}
	srv := NewServer(cfg, secdesc.NewLocalIDMap(1, 2, 3), nil)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = serverConn.Close() })

	c := NewConn(context.Background(), srv, serverConn, fixedCredLookup{})
	return c
}

func mustMessage(t *testing.T, hdr *wire.Header, body *wire.Body) []byte {
	t.Helper()
	return append(hdr.Encode(), body.Encode()...)
}

// anonymousType3 builds the minimal 64-byte NTLM Type 3 message that
// ParseAuthenticate accepts as an anonymous logon: signature, message
// type, six zeroed length/offset pairs, and the Anonymous flag.
func anonymousType3() []byte {
	buf := make([]byte, 64)
	copy(buf[0:8], ntlm.Signature)
	buf[8] = 3 // message type
	const flagAnonymous = 0x00000800
	buf[60] = byte(flagAnonymous)
	buf[61] = byte(flagAnonymous >> 8)
	buf[62] = byte(flagAnonymous >> 16)
	buf[63] = byte(flagAnonymous >> 24)
	return buf
}

func negotiate(t *testing.T, c *Conn) {
	t.Helper()
	body := &wire.Body{Bytes: append([]byte{0x02}, []byte("NT LM 0.12\x00")...)}
	hdr := &wire.Header{Command: CmdNegotiate, Flags2: wire.Flags2Unicode}
	resp, err := c.handleMessage(mustMessage(t, hdr, body))
	require.NoError(t, err)
	rhdr, err := wire.ParseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rhdr.Status)
}

func sessionSetup(t *testing.T, c *Conn) uint16 {
	t.Helper()
	// Leg 1: empty security blob, server challenges.
	leg1Words := make([]uint16, 12)
	leg1 := &wire.Body{Words: leg1Words}
	hdr1 := &wire.Header{Command: CmdSessionSetupAndX, Flags2: wire.Flags2Unicode}
	resp1, err := c.handleMessage(mustMessage(t, hdr1, leg1))
	require.NoError(t, err)
	rhdr1, err := wire.ParseHeader(resp1)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr1.Status)

	// Leg 2: anonymous Type 3, falls back to guest per MapToGuest policy.
	blob := anonymousType3()
	leg2Words := make([]uint16, 12)
	leg2Words[7] = uint16(len(blob))
	leg2 := &wire.Body{Words: leg2Words, Bytes: blob}
	hdr2 := &wire.Header{Command: CmdSessionSetupAndX, Flags2: wire.Flags2Unicode}
	resp2, err := c.handleMessage(mustMessage(t, hdr2, leg2))
	require.NoError(t, err)
	rhdr2, err := wire.ParseHeader(resp2)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr2.Status)
	return rhdr2.UID
}

func treeConnect(t *testing.T, c *Conn, uid uint16, shareName string) uint16 {
	t.Helper()
	words := make([]uint16, 4)
	words[3] = 0 // PasswordLength
	data := append([]byte{}, wire.EncodeString(`\\CIFSD\`+shareName, false)...)
	data = append(data, wire.EncodeString("?????", false)...)
	body := &wire.Body{Words: words, Bytes: data}
	hdr := &wire.Header{Command: CmdTreeConnectAndX, UID: uid}
	resp, err := c.handleMessage(mustMessage(t, hdr, body))
	require.NoError(t, err)
	rhdr, err := wire.ParseHeader(resp)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr.Status)
	return rhdr.TID
}

// TestFullSessionLifecycleCreateWriteReadClose exercises the core
// happy-path chain a real client drives: NEGOTIATE, SESSION_SETUP_ANDX,
// TREE_CONNECT_ANDX, NT_CREATE_ANDX, WRITE_ANDX, READ_ANDX round trip,
// CLOSE, and finally a second CLOSE failing on the invalidated handle.
func TestFullSessionLifecycleCreateWriteReadClose(t *testing.T) {
	root := t.TempDir()
	c := newTestConn(t, root, true)

	negotiate(t, c)
	uid := sessionSetup(t, c)
	tid := treeConnect(t, c, uid, "public")

	// NT_CREATE_ANDX: create a new file.
	createWords := make([]uint16, 24)
	createWords[14] = uint16(dispositionCreate)
	createBody := &wire.Body{Words: createWords, Bytes: wire.EncodeString("file.txt", false)}
	createHdr := &wire.Header{Command: CmdNTCreateAndX, UID: uid, TID: tid}
	resp, err := c.handleMessage(mustMessage(t, createHdr, createBody))
	require.NoError(t, err)
	rhdr, err := wire.ParseHeader(resp)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr.Status)
	createRespBody, _, err := wire.ParseBody(resp[wire.HeaderSize:])
	require.NoError(t, err)
	fid := createRespBody.Words[2]

	// WRITE_ANDX.
	payload := []byte("hello cifs")
	writeWords := make([]uint16, 12)
	writeWords[2] = fid
	writeWords[10] = uint16(len(payload))
	writeBody := &wire.Body{Words: writeWords, Bytes: payload}
	writeHdr := &wire.Header{Command: CmdWriteAndX, UID: uid, TID: tid}
	resp, err = c.handleMessage(mustMessage(t, writeHdr, writeBody))
	require.NoError(t, err)
	rhdr, err = wire.ParseHeader(resp)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr.Status)

	// READ_ANDX.
	readWords := make([]uint16, 6)
	readWords[2] = fid
	readWords[5] = uint16(len(payload))
	readBody := &wire.Body{Words: readWords}
	readHdr := &wire.Header{Command: CmdReadAndX, UID: uid, TID: tid}
	resp, err = c.handleMessage(mustMessage(t, readHdr, readBody))
	require.NoError(t, err)
	rhdr, err = wire.ParseHeader(resp)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr.Status)
	readRespBody, _, err := wire.ParseBody(resp[wire.HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, payload, readRespBody.Bytes)

	// CLOSE.
	closeBody := &wire.Body{Words: []uint16{fid}}
	closeHdr := &wire.Header{Command: CmdClose, UID: uid, TID: tid}
	resp, err = c.handleMessage(mustMessage(t, closeHdr, closeBody))
	require.NoError(t, err)
	rhdr, err = wire.ParseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rhdr.Status)

	// A second CLOSE on the same FID now fails: the handle is gone.
	resp, err = c.handleMessage(mustMessage(t, closeHdr, closeBody))
	require.NoError(t, err)
	rhdr, err = wire.ParseHeader(resp)
	require.NoError(t, err)
	assert.NotEqual(t, StatusSuccess, rhdr.Status)
}

// TestLogoffClosesEveryHandleTheSessionOwned checks the testable
// property that LOGOFF_ANDX invalidates every FID the logging-off
// session still has open, not just the ones explicitly closed.
func TestLogoffClosesEveryHandleTheSessionOwned(t *testing.T) {
	root := t.TempDir()
	c := newTestConn(t, root, true)

	negotiate(t, c)
	uid := sessionSetup(t, c)
	tid := treeConnect(t, c, uid, "public")

	createWords := make([]uint16, 24)
	createWords[14] = uint16(dispositionCreate)
	createBody := &wire.Body{Words: createWords, Bytes: wire.EncodeString("abandoned.txt", false)}
	createHdr := &wire.Header{Command: CmdNTCreateAndX, UID: uid, TID: tid}
	resp, err := c.handleMessage(mustMessage(t, createHdr, createBody))
	require.NoError(t, err)
	createRespBody, _, err := wire.ParseBody(resp[wire.HeaderSize:])
	require.NoError(t, err)
	fid := createRespBody.Words[2]

	logoffBody := &wire.Body{Words: make([]uint16, 2)}
	logoffHdr := &wire.Header{Command: CmdLogoffAndX, UID: uid}
	resp, err = c.handleMessage(mustMessage(t, logoffHdr, logoffBody))
	require.NoError(t, err)
	rhdr, err := wire.ParseHeader(resp)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rhdr.Status)

	_, _, err = c.lookupOpenFile(fid)
	assert.Error(t, err, "FID should have been closed by LOGOFF")
}

// TestNTCreateOnReadOnlyTreeIsDenied exercises the share-writeability
// gate NT_CREATE_ANDX and (per the OPEN_ANDX fix) OPEN_ANDX both apply.
func TestNTCreateOnReadOnlyTreeIsDenied(t *testing.T) {
	root := t.TempDir()
	c := newTestConn(t, root, false)

	negotiate(t, c)
	uid := sessionSetup(t, c)
	tid := treeConnect(t, c, uid, "public")

	createWords := make([]uint16, 24)
	createWords[14] = uint16(dispositionCreate)
	createBody := &wire.Body{Words: createWords, Bytes: wire.EncodeString("nope.txt", false)}
	createHdr := &wire.Header{Command: CmdNTCreateAndX, UID: uid, TID: tid}
	resp, err := c.handleMessage(mustMessage(t, createHdr, createBody))
	require.NoError(t, err)
	rhdr, err := wire.ParseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusAccessDenied, rhdr.Status)
}

// TestNTCancelOnUnknownMIDIsANoOp checks that cancelling a MID the
// server never saw produces no response and no panic.
func TestNTCancelOnUnknownMIDIsANoOp(t *testing.T) {
	root := t.TempDir()
	c := newTestConn(t, root, true)

	hdr := &wire.Header{Command: CmdNTCancel, MID: 0xBEEF}
	resp, err := c.handleMessage(mustMessage(t, hdr, &wire.Body{}))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

type plainError struct{}

func (plainError) Error() string { return "boom" }
