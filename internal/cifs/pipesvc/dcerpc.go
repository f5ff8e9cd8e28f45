// Package pipesvc answers the DCE/RPC calls SMB clients place over the
// \PIPE\srvsvc named pipe inside a TRANSACTION request, the mechanism
// Windows Explorer and `net view` use to enumerate a server's shares
// without a directory listing. Only the bind handshake and
// NetrShareEnum are implemented; NetrShareGetInfo is answered with the
// same share list, and every other opnum faults.
package pipesvc

import (
	"encoding/binary"
	"fmt"
)

// PDU types [C706 12.6.4.14]. Only the ones this service ever sees or
// sends are named.
const (
	pduRequest  uint8 = 0
	pduResponse uint8 = 2
	pduFault    uint8 = 3
	pduBind     uint8 = 11
	pduBindAck  uint8 = 12
)

const (
	flagFirstFrag uint8 = 0x01
	flagLastFrag  uint8 = 0x02
)

const headerSize = 16

// header is the 16-byte frame every DCE/RPC PDU begins with.
type header struct {
	versionMajor uint8
	versionMinor uint8
	packetType   uint8
	flags        uint8
	dataRep      [4]byte
	fragLength   uint16
	authLength   uint16
	callID       uint32
}

func parseHeader(data []byte) (*header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("pipesvc: short DCE/RPC header: %d bytes", len(data))
	}
	h := &header{
		versionMajor: data[0],
		versionMinor: data[1],
		packetType:   data[2],
		flags:        data[3],
		fragLength:   binary.LittleEndian.Uint16(data[8:10]),
		authLength:   binary.LittleEndian.Uint16(data[10:12]),
		callID:       binary.LittleEndian.Uint32(data[12:16]),
	}
	copy(h.dataRep[:], data[4:8])
	return h, nil
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	buf[0], buf[1], buf[2], buf[3] = h.versionMajor, h.versionMinor, h.packetType, h.flags
	copy(buf[4:8], h.dataRep[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.fragLength)
	binary.LittleEndian.PutUint16(buf[10:12], h.authLength)
	binary.LittleEndian.PutUint32(buf[12:16], h.callID)
	return buf
}

// syntaxID is a UUID plus interface version, used for both abstract and
// transfer syntaxes in a bind.
type syntaxID struct {
	uuid    [16]byte
	version uint32
}

// bindRequest is a parsed Bind PDU. Only the first presentation context
// is read; real clients never offer more than one for srvsvc.
type bindRequest struct {
	header       header
	maxXmitFrag  uint16
	maxRecvFrag  uint16
	assocGroupID uint32
	contextID    uint16
	abstract     syntaxID
	transfer     syntaxID
	hasContext   bool
}

func parseBindRequest(data []byte) (*bindRequest, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.packetType != pduBind {
		return nil, fmt.Errorf("pipesvc: not a bind PDU: type %d", hdr.packetType)
	}
	if len(data) < headerSize+9 {
		return nil, fmt.Errorf("pipesvc: bind PDU too short")
	}
	req := &bindRequest{
		header:       *hdr,
		maxXmitFrag:  binary.LittleEndian.Uint16(data[16:18]),
		maxRecvFrag:  binary.LittleEndian.Uint16(data[18:20]),
		assocGroupID: binary.LittleEndian.Uint32(data[20:24]),
	}
	numContexts := data[24]
	if numContexts > 0 && len(data) >= 72 {
		req.contextID = binary.LittleEndian.Uint16(data[28:30])
		copy(req.abstract.uuid[:], data[32:48])
		req.abstract.version = binary.LittleEndian.Uint32(data[48:52])
		copy(req.transfer.uuid[:], data[52:68])
		req.transfer.version = binary.LittleEndian.Uint32(data[68:72])
		req.hasContext = true
	}
	return req, nil
}

// bindAck answers a bind with acceptance of the one context offered.
type bindAck struct {
	maxXmitFrag  uint16
	maxRecvFrag  uint16
	assocGroupID uint32
	secAddr      string
	transfer     syntaxID
}

func (a *bindAck) encode(callID uint32) []byte {
	secAddrLen := len(a.secAddr) + 1
	afterSecAddr := 26 + secAddrLen
	pad := (4 - afterSecAddr%4) % 4
	bodySize := 8 + 2 + secAddrLen + pad + 4 + 24
	fragLen := headerSize + bodySize

	hdr := header{
		versionMajor: 5,
		packetType:   pduBindAck,
		flags:        flagFirstFrag | flagLastFrag,
		dataRep:      [4]byte{0x10, 0x00, 0x00, 0x00},
		fragLength:   uint16(fragLen),
		callID:       callID,
	}

	buf := make([]byte, fragLen)
	copy(buf[0:16], hdr.encode())
	off := 16
	binary.LittleEndian.PutUint16(buf[off:], a.maxXmitFrag)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], a.maxRecvFrag)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], a.assocGroupID)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(secAddrLen))
	off += 2
	copy(buf[off:], a.secAddr)
	off += secAddrLen + pad
	buf[off] = 1 // num_results
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], 0) // acceptance
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], 0) // reason
	off += 2
	copy(buf[off:], a.transfer.uuid[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], a.transfer.version)
	return buf
}

// rpcRequest is a parsed Request PDU carrying an opnum and stub data.
type rpcRequest struct {
	header   header
	contexID uint16
	opNum    uint16
	stubData []byte
}

func parseRequest(data []byte) (*rpcRequest, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.packetType != pduRequest {
		return nil, fmt.Errorf("pipesvc: not a request PDU: type %d", hdr.packetType)
	}
	if len(data) < headerSize+8 {
		return nil, fmt.Errorf("pipesvc: request PDU too short")
	}
	req := &rpcRequest{
		header:   *hdr,
		contexID: binary.LittleEndian.Uint16(data[20:22]),
		opNum:    binary.LittleEndian.Uint16(data[22:24]),
	}
	stubEnd := int(hdr.fragLength) - int(hdr.authLength)
	if stubEnd > 24 && stubEnd <= len(data) {
		req.stubData = data[24:stubEnd]
	}
	return req, nil
}

func encodeResponse(callID uint32, contextID uint16, stub []byte) []byte {
	fragLen := headerSize + 8 + len(stub)
	hdr := header{
		versionMajor: 5,
		packetType:   pduResponse,
		flags:        flagFirstFrag | flagLastFrag,
		dataRep:      [4]byte{0x10, 0x00, 0x00, 0x00},
		fragLength:   uint16(fragLen),
		callID:       callID,
	}
	buf := make([]byte, fragLen)
	copy(buf[0:16], hdr.encode())
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(stub)))
	binary.LittleEndian.PutUint16(buf[20:22], contextID)
	copy(buf[24:], stub)
	return buf
}

func encodeFault(callID uint32, status uint32) []byte {
	fragLen := headerSize + 16
	hdr := header{
		versionMajor: 5,
		packetType:   pduFault,
		flags:        flagFirstFrag | flagLastFrag,
		dataRep:      [4]byte{0x10, 0x00, 0x00, 0x00},
		fragLength:   uint16(fragLen),
		callID:       callID,
	}
	buf := make([]byte, fragLen)
	copy(buf[0:16], hdr.encode())
	binary.LittleEndian.PutUint32(buf[24:28], status)
	return buf
}
