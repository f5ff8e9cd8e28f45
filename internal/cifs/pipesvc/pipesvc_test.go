package pipesvc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestBind(callID uint32) []byte {
	const fragLen = 72
	buf := make([]byte, fragLen)
	buf[0], buf[1], buf[2], buf[3] = 5, 0, pduBind, flagFirstFrag|flagLastFrag
	copy(buf[4:8], []byte{0x10, 0, 0, 0})
	binary.LittleEndian.PutUint16(buf[8:10], fragLen)
	binary.LittleEndian.PutUint32(buf[12:16], callID)
	binary.LittleEndian.PutUint16(buf[16:18], 4280)
	binary.LittleEndian.PutUint16(buf[18:20], 4280)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	buf[24] = 1 // num contexts
	binary.LittleEndian.PutUint16(buf[28:30], 0)
	buf[30] = 1 // num transfer syntaxes
	copy(buf[32:48], ndrTransferSyntaxUUID[:])
	binary.LittleEndian.PutUint32(buf[48:52], 0)
	copy(buf[52:68], ndrTransferSyntaxUUID[:])
	binary.LittleEndian.PutUint32(buf[68:72], 2)
	return buf
}

func encodeTestRequest(callID uint32, opNum uint16, stub []byte) []byte {
	fragLen := headerSize + 8 + len(stub)
	buf := make([]byte, fragLen)
	buf[0], buf[1], buf[2], buf[3] = 5, 0, pduRequest, flagFirstFrag|flagLastFrag
	copy(buf[4:8], []byte{0x10, 0, 0, 0})
	binary.LittleEndian.PutUint16(buf[8:10], uint16(fragLen))
	binary.LittleEndian.PutUint32(buf[12:16], callID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(stub)))
	binary.LittleEndian.PutUint16(buf[20:22], 0)
	binary.LittleEndian.PutUint16(buf[22:24], opNum)
	copy(buf[24:], stub)
	return buf
}

func TestCallBindReturnsAcceptingAck(t *testing.T) {
	svc := New(nil)
	resp, err := svc.Call(encodeTestBind(1))
	require.NoError(t, err)

	hdr, err := parseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, pduBindAck, hdr.packetType)
	assert.Equal(t, uint32(1), hdr.callID)
}

func TestCallShareEnumListsAvailableShares(t *testing.T) {
	svc := New([]ShareInfo{
		{Name: "data", Comment: "general share"},
		{Name: "IPC$", Comment: "", IPC: true},
	})

	stub := make([]byte, 8) // server name pointer + level
	binary.LittleEndian.PutUint32(stub[4:8], 1)
	resp, err := svc.Call(encodeTestRequest(7, opNetrShareEnum, stub))
	require.NoError(t, err)

	hdr, err := parseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, pduResponse, hdr.packetType)
	assert.Equal(t, uint32(7), hdr.callID)

	body := resp[headerSize+8:]
	entriesRead := binary.LittleEndian.Uint32(body[12:16])
	assert.Equal(t, uint32(2), entriesRead)

	status := binary.LittleEndian.Uint32(body[len(body)-4:])
	assert.Equal(t, nerrSuccess, status)
}

func TestCallShareEnumWithNoSharesStillSucceeds(t *testing.T) {
	svc := New(nil)
	stub := make([]byte, 8)
	binary.LittleEndian.PutUint32(stub[4:8], 1)
	resp, err := svc.Call(encodeTestRequest(2, opNetrShareEnum, stub))
	require.NoError(t, err)

	body := resp[headerSize+8:]
	entriesRead := binary.LittleEndian.Uint32(body[12:16])
	assert.Equal(t, uint32(0), entriesRead)
	bufPtr := binary.LittleEndian.Uint32(body[16:20])
	assert.Equal(t, uint32(0), bufPtr)
}

func TestCallUnknownOpnumFaults(t *testing.T) {
	svc := New(nil)
	resp, err := svc.Call(encodeTestRequest(9, 0xFFFF, nil))
	require.NoError(t, err)

	hdr, err := parseHeader(resp)
	require.NoError(t, err)
	assert.Equal(t, pduFault, hdr.packetType)

	status := binary.LittleEndian.Uint32(resp[24:28])
	assert.Equal(t, nscOpRangeError, status)
}

func TestSetSharesUpdatesSubsequentEnum(t *testing.T) {
	svc := New(nil)
	svc.SetShares([]ShareInfo{{Name: "new"}})

	stub := make([]byte, 8)
	binary.LittleEndian.PutUint32(stub[4:8], 1)
	resp, err := svc.Call(encodeTestRequest(1, opNetrShareEnum, stub))
	require.NoError(t, err)

	body := resp[headerSize+8:]
	entriesRead := binary.LittleEndian.Uint32(body[12:16])
	assert.Equal(t, uint32(1), entriesRead)
}
