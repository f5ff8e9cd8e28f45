// Package wire implements the SMB1 header framing, NetBIOS session
// framing, UTF-16LE/OEM string conversion, NT-time conversion, and 8.3
// short-name mangling that every other internal/cifs component builds
// messages on top of.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size of the SMB1 fixed header, not including
// the NetBIOS length prefix or the variable WordCount/ByteCount tail.
const HeaderSize = 32

// ProtocolID is the 4-byte marker that opens every SMB1 message.
var ProtocolID = [4]byte{0xFF, 'S', 'M', 'B'}

var (
	ErrMessageTooShort  = errors.New("wire: message shorter than SMB1 header")
	ErrInvalidProtocol  = errors.New("wire: missing \\xFFSMB protocol marker")
	ErrTruncatedBody    = errors.New("wire: WordCount/ByteCount exceeds buffer")
)

// Flags bits. [CIFS] 2.4.1
const (
	FlagResponse Flags = 1 << 7
	FlagCaseless Flags = 1 << 3
)

// Flags2 bits. [CIFS] 2.4.1
const (
	Flags2Unicode            Flags2 = 1 << 15
	Flags2ErrStatus          Flags2 = 1 << 14
	Flags2SecuritySignature  Flags2 = 1 << 2
	Flags2ExtendedSecurity   Flags2 = 1 << 11
	Flags2LongNames          Flags2 = 1 << 0
	Flags2NTStatus           Flags2 = Flags2ErrStatus
)

// Flags is the SMB1 header's 1-byte Flags field.
type Flags uint8

// Flags2 is the SMB1 header's 2-byte Flags2 field.
type Flags2 uint16

// Header is the 32-byte SMB1 fixed header, decoded field by field.
type Header struct {
	Command  uint8
	Status   uint32
	Flags    Flags
	Flags2   Flags2
	PIDHigh  uint16
	Security [8]byte
	TID      uint16
	PIDLow   uint16
	UID      uint16
	MID      uint16
}

// ParseHeader decodes the fixed 32-byte SMB1 header from the front of
// buf. buf must already have the NetBIOS length prefix stripped.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrMessageTooShort
	}
	var marker [4]byte
	copy(marker[:], buf[0:4])
	if marker != ProtocolID {
		return nil, ErrInvalidProtocol
	}

	h := &Header{
		Command: buf[4],
		Status:  binary.LittleEndian.Uint32(buf[5:9]),
		Flags:   Flags(buf[9]),
		Flags2:  Flags2(binary.LittleEndian.Uint16(buf[10:12])),
		PIDHigh: binary.LittleEndian.Uint16(buf[12:14]),
		TID:     binary.LittleEndian.Uint16(buf[24:26]),
		PIDLow:  binary.LittleEndian.Uint16(buf[26:28]),
		UID:     binary.LittleEndian.Uint16(buf[28:30]),
		MID:     binary.LittleEndian.Uint16(buf[30:32]),
	}
	copy(h.Security[:], buf[14:22])
	return h, nil
}

// Encode writes the 32-byte header into a fresh buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], ProtocolID[:])
	buf[4] = h.Command
	binary.LittleEndian.PutUint32(buf[5:9], h.Status)
	buf[9] = uint8(h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.Flags2))
	binary.LittleEndian.PutUint16(buf[12:14], h.PIDHigh)
	copy(buf[14:22], h.Security[:])
	binary.LittleEndian.PutUint16(buf[24:26], h.TID)
	binary.LittleEndian.PutUint16(buf[26:28], h.PIDLow)
	binary.LittleEndian.PutUint16(buf[28:30], h.UID)
	binary.LittleEndian.PutUint16(buf[30:32], h.MID)
	return buf
}

// IsResponse reports whether Flags.RESPONSE is set.
func (h *Header) IsResponse() bool { return h.Flags&FlagResponse != 0 }

// IsUnicode reports whether Flags2.UNICODE is set, selecting UTF-16LE
// string encoding over the OEM codepage for this message.
func (h *Header) IsUnicode() bool { return h.Flags2&Flags2Unicode != 0 }

// Body is the parameter-word/data-byte tail that follows the fixed
// header: a WordCount-prefixed parameter block and a ByteCount-prefixed
// data block.
type Body struct {
	Words []uint16
	Bytes []byte
}

// ParseBody decodes the WordCount/Words/ByteCount/Bytes tail starting at
// offset 0 of buf (i.e. buf should already have the fixed header
// stripped).
func ParseBody(buf []byte) (*Body, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrMessageTooShort
	}
	wordCount := int(buf[0])
	wordsEnd := 1 + wordCount*2
	if len(buf) < wordsEnd+2 {
		return nil, 0, ErrTruncatedBody
	}

	words := make([]uint16, wordCount)
	for i := 0; i < wordCount; i++ {
		words[i] = binary.LittleEndian.Uint16(buf[1+i*2 : 3+i*2])
	}

	byteCount := int(binary.LittleEndian.Uint16(buf[wordsEnd : wordsEnd+2]))
	dataStart := wordsEnd + 2
	dataEnd := dataStart + byteCount
	if len(buf) < dataEnd {
		return nil, 0, ErrTruncatedBody
	}

	return &Body{Words: words, Bytes: buf[dataStart:dataEnd]}, dataEnd, nil
}

// Encode writes WordCount/Words/ByteCount/Bytes.
func (b *Body) Encode() []byte {
	out := make([]byte, 0, 1+len(b.Words)*2+2+len(b.Bytes))
	out = append(out, byte(len(b.Words)))
	for _, w := range b.Words {
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], w)
		out = append(out, tmp[:]...)
	}
	var bc [2]byte
	binary.LittleEndian.PutUint16(bc[:], uint16(len(b.Bytes)))
	out = append(out, bc[:]...)
	out = append(out, b.Bytes...)
	return out
}
