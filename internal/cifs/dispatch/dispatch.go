package dispatch

import (
	"io"
	"time"

	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/logger"
	"github.com/opencifsd/cifsd/internal/metrics"
)

// request is one command's worth of decoded input within an AndX
// chain: the shared connection header plus this command's own body.
type request struct {
	hdr  *wire.Header
	body *wire.Body
	cmd  uint8
}

// Serve runs the connection's receive loop until the peer disconnects.
// Every framed NetBIOS message is decoded, dispatched through its AndX
// chain, and the response written back before the next read.
func (c *Conn) Serve() error {
	defer c.teardown()

	for {
		msg, err := wire.ReadNetBIOSMessage(c.raw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		resp, err := c.handleMessage(msg)
		if err != nil {
			logger.WarnCtx(c.ctx, "dropping malformed message", logger.Err(err))
			continue
		}
		if resp == nil {
			// Cancelled or otherwise suppressed: per NT_CANCEL semantics
			// the server sends nothing at all.
			continue
		}

		framed, err := wire.EncodeNetBIOSMessage(resp)
		if err != nil {
			return err
		}
		if _, err := c.raw.Write(framed); err != nil {
			return err
		}
	}
}

// teardown runs when the receive loop exits, closing every FID this
// connection's sessions still own; the session and tree registry goes
// away with the Conn itself.
func (c *Conn) teardown() {
	c.handlesMu.Lock()
	uids := make([]uint16, 0, len(c.byUID))
	for uid := range c.byUID {
		uids = append(uids, uid)
	}
	c.handlesMu.Unlock()
	for _, uid := range uids {
		c.closeAllHandles(uid)
	}
	c.srv.unregisterConn(c)
	_ = c.raw.Close()
}

// handleMessage decodes the fixed header, verifies signing, walks the
// AndX chain, and re-signs the assembled response. It returns a nil
// response (no error) when the request resolved to NT_CANCEL or was
// suppressed by one.
func (c *Conn) handleMessage(msg []byte) ([]byte, error) {
	hdr, err := wire.ParseHeader(msg)
	if err != nil {
		return nil, err
	}

	if hdr.Command == CmdNTCancel {
		c.Cancel(hdr.MID)
		return nil, nil
	}

	if !c.verifySigning(hdr, msg) {
		return c.errorResponse(hdr, StatusAccessDenied), nil
	}

	_, done := c.trackInflight(hdr.MID)

	start := time.Now()
	out, status := c.runChain(hdr, msg)

	suppressed := done()
	if suppressed {
		return nil, nil
	}

	if metrics.IsEnabled() {
		metrics.RecordCommand(commandName(hdr.Command), statusLabel(status), time.Since(start))
	}

	c.signResponse(hdr, out)
	return out, nil
}

func statusLabel(status uint32) string {
	if status == StatusSuccess {
		return "success"
	}
	return "error"
}

// runChain walks the AndX command chain starting at the top-level
// command, dispatching each in turn and splicing their response bodies
// into one message. It stops at the first handler error, at
// CmdAndXNone, or when a command's body fails to parse.
func (c *Conn) runChain(hdr *wire.Header, msg []byte) ([]byte, uint32) {
	bodyBuf := msg[wire.HeaderSize:]
	cmd := hdr.Command
	offset := 0
	depth := 0
	finalStatus := StatusSuccess

	var chainBodies [][]byte

	for {
		body, _, err := wire.ParseBody(bodyBuf[offset:])
		if err != nil {
			finalStatus = StatusInvalidParameter
			break
		}

		cmdDef, ok := dispatchTable[cmd]
		if !ok {
			finalStatus = StatusNotSupported
			chainBodies = append(chainBodies, (&wire.Body{}).Encode())
			break
		}

		sess, hasSess := c.Sessions.GetSession(hdr.UID)
		if cmdDef.needsUID && !hasSess {
			finalStatus = StatusAccessDenied
			break
		}
		if cmdDef.needsTID {
			if !hasSess {
				finalStatus = StatusAccessDenied
				break
			}
			if _, ok := session.LookupTree(sess, hdr.TID); !ok {
				finalStatus = StatusAccessDenied
				break
			}
		}
		if hasSess {
			sess.BeginRequest()
		}

		respBody, herr := cmdDef.handler(c, &request{hdr: hdr, body: body, cmd: cmd})

		if hasSess {
			sess.EndRequest()
		}

		if herr != nil {
			finalStatus = StatusFromError(herr)
			chainBodies = append(chainBodies, (&wire.Body{}).Encode())
			break
		}

		chainBodies = append(chainBodies, respBody.Encode())

		nextCmd, nextOffset, isAndX := andxNext(respBody, body)
		if !isAndX || nextCmd == CmdAndXNone {
			break
		}
		depth++
		if depth > 16 {
			// A malicious or buggy chain could loop forever; 16 matches
			// the longest realistic AndX chain any real client sends.
			finalStatus = StatusInvalidParameter
			break
		}
		if nextOffset < wire.HeaderSize || nextOffset >= len(msg) {
			finalStatus = StatusInvalidParameter
			break
		}
		cmd = nextCmd
		offset = nextOffset - wire.HeaderSize
	}

	if metrics.IsEnabled() {
		metrics.RecordAndXChainDepth(depth + 1)
	}

	respHdr := &wire.Header{
		Command: hdr.Command,
		Status:  finalStatus,
		Flags:   hdr.Flags | wire.FlagResponse,
		Flags2:  hdr.Flags2,
		PIDHigh: hdr.PIDHigh,
		TID:     hdr.TID,
		PIDLow:  hdr.PIDLow,
		UID:     hdr.UID,
		MID:     hdr.MID,
	}
	out := respHdr.Encode()
	for _, b := range chainBodies {
		out = append(out, b...)
	}
	return out, finalStatus
}

// andxNext extracts the next command code and its absolute offset from
// an AndX-shaped response body's first two words, if the original
// request body was itself AndX-shaped (had at least 2 leading words
// before its command-specific parameters). Commands that never chain
// (e.g. ECHO) leave their response Words shorter than 2 and so never
// report an AndX successor.
func andxNext(resp *wire.Body, reqBody *wire.Body) (cmd uint8, offset int, isAndX bool) {
	if len(reqBody.Words) < 2 || len(resp.Words) < 2 {
		return 0, 0, false
	}
	nextCmd := uint8(resp.Words[0])
	if nextCmd == CmdAndXNone {
		return CmdAndXNone, 0, true
	}
	return nextCmd, int(resp.Words[1]), true
}

// errorResponse builds a bare response carrying only status, used when
// signing verification fails before any command routing happens.
func (c *Conn) errorResponse(hdr *wire.Header, status uint32) []byte {
	respHdr := &wire.Header{
		Command: hdr.Command,
		Status:  status,
		Flags:   hdr.Flags | wire.FlagResponse,
		Flags2:  hdr.Flags2,
		PIDHigh: hdr.PIDHigh,
		TID:     hdr.TID,
		PIDLow:  hdr.PIDLow,
		UID:     hdr.UID,
		MID:     hdr.MID,
	}
	out := respHdr.Encode()
	out = append(out, (&wire.Body{}).Encode()...)
	return out
}

// verifySigning checks the MAC on msg against the session's signing
// key, skipped for SESSION_SETUP_ANDX (no key exists yet) and for
// connections that never negotiated signing.
func (c *Conn) verifySigning(hdr *wire.Header, msg []byte) bool {
	if !c.signingEnabled || hdr.Command == CmdSessionSetupAndX {
		return true
	}
	if hdr.Flags2&wire.Flags2SecuritySignature == 0 {
		return true
	}

	var want [8]byte
	copy(want[:], msg[wire.HeaderSize-18:wire.HeaderSize-10])

	c.seqMu.Lock()
	seq := c.recvSeq
	c.recvSeq += 2
	c.seqMu.Unlock()

	zeroed := append([]byte(nil), msg...)
	copy(zeroed[wire.HeaderSize-18:wire.HeaderSize-10], make([]byte, 8))

	got := c.oracle.Sign(c.sessionSigningID(hdr.UID), seq, zeroed)
	return got == want
}

// signResponse stamps the signing MAC into a freshly assembled
// response, mirroring verifySigning's sequence-number bookkeeping.
func (c *Conn) signResponse(reqHdr *wire.Header, resp []byte) {
	if !c.signingEnabled {
		return
	}
	c.seqMu.Lock()
	seq := c.sendSeq
	c.sendSeq += 2
	c.seqMu.Unlock()

	zeroed := append([]byte(nil), resp...)
	copy(zeroed[wire.HeaderSize-18:wire.HeaderSize-10], make([]byte, 8))
	mac := c.oracle.Sign(c.sessionSigningID(reqHdr.UID), seq, zeroed)
	copy(resp[wire.HeaderSize-18:wire.HeaderSize-10], mac[:])
}

func (c *Conn) sessionSigningID(uid uint16) string {
	return c.id + ":" + itoa(uint64(uid))
}
