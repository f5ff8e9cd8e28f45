package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

func init() {
	register(CmdEcho, &command{name: "ECHO", handler: handleEcho})
	register(CmdProcessExit, &command{name: "PROCESS_EXIT", handler: handleProcessExit, needsUID: true})
	register(CmdTransaction, &command{name: "TRANSACTION", handler: handleTransaction, needsUID: true, needsTID: true})
	register(CmdNTTransact, &command{name: "NT_TRANSACT", handler: handleNTTransact, needsUID: true, needsTID: true})
}

// handleEcho reflects the request's data bytes back EchoCount times.
// Only the first reflection is ever placed in the wire response here,
// since this dispatcher answers one NetBIOS frame per request; repeat
// counts greater than one are a legacy affordance no modern client
// relies on.
func handleEcho(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 1 {
		return nil, cifserr.Protocol("ECHO word count too short", nil)
	}
	return &wire.Body{Words: []uint16{1}, Bytes: req.body.Bytes}, nil
}

// handleProcessExit is a legacy no-op: modern clients close handles
// explicitly and rely on LOGOFF/TREE_DISCONNECT for cleanup.
func handleProcessExit(c *Conn, req *request) (*wire.Body, error) {
	return &wire.Body{}, nil
}

// handleTransaction forwards a TRANSACTION request's named-pipe RPC
// payload to the pipe service when its Name parameter is \PIPE\srvsvc;
// every other pipe name fails with a Protocol error, which the
// dispatcher maps to INVALID_PARAMETER.
func handleTransaction(c *Conn, req *request) (*wire.Body, error) {
	data := req.body.Bytes
	name, _ := wire.DecodeString(data, req.hdr.IsUnicode())
	if name != `\PIPE\srvsvc` && name != `\PIPE\SRVSVC` {
		return nil, cifserr.Protocol("unsupported named pipe", nil).With("pipe", name)
	}
	resp, err := c.srv.Pipes.Call(data)
	if err != nil {
		return nil, err
	}
	words := make([]uint16, 10)
	words[5] = uint16(len(resp))
	return &wire.Body{Words: words, Bytes: resp}, nil
}

// handleNTTransact covers the NT_TRANSACT family (notify-change,
// create-with-ea, ioctl). None of these are required for the file
// operations this dispatcher targets.
func handleNTTransact(c *Conn, req *request) (*wire.Body, error) {
	return nil, cifserr.Protocol("NT_TRANSACT is not supported", nil)
}
