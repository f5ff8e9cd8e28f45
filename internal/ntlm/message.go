// Package ntlm implements [MS-NLMP] NTLM authentication for the CIFS
// SESSION_SETUP_ANDX extended-security exchange: Type-2 CHALLENGE
// construction and Type-3 AUTHENTICATE parsing and validation.
package ntlm

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"strings"
	"time"
	"unicode/utf16"
)

// MessageType identifies the three messages in the NTLM handshake.
type MessageType uint32

const (
	Negotiate    MessageType = 1
	Challenge    MessageType = 2
	Authenticate MessageType = 3
)

// Signature is the 8-byte signature that identifies NTLM messages.
var Signature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

const (
	signatureOffset   = 0
	messageTypeOffset = 8
	headerSize        = 12
)

// Type 2 (CHALLENGE) message offsets. [MS-NLMP] 2.2.1.2
const (
	challengeTargetNameLenOffset = 12
	challengeTargetNameOffOffset = 16
	challengeFlagsOffset         = 20
	challengeServerChalOffset    = 24
	challengeTargetInfoLenOffset = 40
	challengeTargetInfoOffOffset = 44
	challengeBaseSize            = 56
)

// Type 3 (AUTHENTICATE) message offsets. [MS-NLMP] 2.2.1.3
const (
	authLmResponseLenOffset          = 12
	authLmResponseOffOffset          = 16
	authNtResponseLenOffset          = 20
	authNtResponseOffOffset          = 24
	authDomainNameLenOffset          = 28
	authDomainNameOffOffset          = 32
	authUserNameLenOffset            = 36
	authUserNameOffOffset            = 40
	authWorkstationLenOffset         = 44
	authWorkstationOffOffset         = 48
	authEncryptedRandomSessionKeyLen = 52
	authEncryptedRandomSessionKeyOff = 56
	authNegotiateFlagsOffset         = 60
	authBaseSize                     = 64
)

const serverChallengeSize = 8

// NegotiateFlag is the [MS-NLMP] 2.2.2.5 capability bitmask exchanged in
// all three message types.
type NegotiateFlag uint32

const (
	FlagUnicode             NegotiateFlag = 0x00000001
	FlagOEM                 NegotiateFlag = 0x00000002
	FlagRequestTarget       NegotiateFlag = 0x00000004
	FlagSign                NegotiateFlag = 0x00000010
	FlagSeal                NegotiateFlag = 0x00000020
	FlagLMKey               NegotiateFlag = 0x00000080
	FlagNTLM                NegotiateFlag = 0x00000200
	FlagAnonymous           NegotiateFlag = 0x00000800
	FlagDomainSupplied      NegotiateFlag = 0x00001000
	FlagWorkstationSupplied NegotiateFlag = 0x00002000
	FlagAlwaysSign          NegotiateFlag = 0x00008000
	FlagTargetTypeDomain    NegotiateFlag = 0x00010000
	FlagTargetTypeServer    NegotiateFlag = 0x00020000
	FlagExtendedSecurity    NegotiateFlag = 0x00080000
	FlagTargetInfo          NegotiateFlag = 0x00800000
	FlagVersion             NegotiateFlag = 0x02000000
	Flag128                 NegotiateFlag = 0x20000000
	FlagKeyExch             NegotiateFlag = 0x40000000
	Flag56                  NegotiateFlag = 0x80000000
)

// AvID is an AV_PAIR attribute ID in the TargetInfo field.
// [MS-NLMP] 2.2.2.1
type AvID uint16

const (
	AvEOL             AvID = 0x0000
	AvNbComputerName  AvID = 0x0001
	AvNbDomainName    AvID = 0x0002
	AvDnsComputerName AvID = 0x0003
	AvDnsDomainName   AvID = 0x0004
	AvTimestamp       AvID = 0x0007
)

// IsValid reports whether buf starts with a valid NTLM header.
func IsValid(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	for i, b := range Signature {
		if buf[signatureOffset+i] != b {
			return false
		}
	}
	return true
}

// GetMessageType returns the NTLM message type, or 0 if buf is too short.
func GetMessageType(buf []byte) MessageType {
	if len(buf) < headerSize {
		return 0
	}
	return MessageType(binary.LittleEndian.Uint32(buf[messageTypeOffset : messageTypeOffset+4]))
}

// BuildChallenge creates an NTLM Type 2 message advertising workgroup,
// server-side capabilities for the given NetBIOS name and domain, and
// returns the 8-byte server challenge embedded in it. The challenge must
// be retained to validate the client's NTLMv2 response later.
func BuildChallenge(netbiosName, domain string) (message []byte, serverChallenge [8]byte) {
	challenge := make([]byte, serverChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		// fall back to a time-seeded challenge rather than failing the
		// handshake outright; a predictable challenge only weakens replay
		// protection, it doesn't break the protocol.
		binary.LittleEndian.PutUint64(challenge, uint64(time.Now().UnixNano()))
	}
	copy(serverChallenge[:], challenge)

	if netbiosName == "" {
		if hostname, err := os.Hostname(); err == nil {
			netbiosName = hostname
		}
	}
	if netbiosName == "" {
		netbiosName = "CIFSD"
	}
	targetName := encodeUTF16LE(strings.ToUpper(netbiosName))

	flags := FlagUnicode |
		FlagRequestTarget |
		FlagNTLM |
		FlagSign |
		FlagAlwaysSign |
		FlagTargetTypeServer |
		FlagExtendedSecurity |
		FlagTargetInfo |
		FlagKeyExch |
		Flag128 |
		Flag56

	targetInfo := buildTargetInfo(netbiosName, domain)

	targetNameOffset := challengeBaseSize
	targetInfoOffset := targetNameOffset + len(targetName)

	msg := make([]byte, targetInfoOffset+len(targetInfo))
	copy(msg[signatureOffset:signatureOffset+8], Signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:messageTypeOffset+4], uint32(Challenge))

	binary.LittleEndian.PutUint16(msg[challengeTargetNameLenOffset:], uint16(len(targetName)))
	binary.LittleEndian.PutUint16(msg[challengeTargetNameLenOffset+2:], uint16(len(targetName)))
	binary.LittleEndian.PutUint32(msg[challengeTargetNameOffOffset:], uint32(targetNameOffset))

	binary.LittleEndian.PutUint32(msg[challengeFlagsOffset:], uint32(flags))
	copy(msg[challengeServerChalOffset:challengeServerChalOffset+8], challenge)

	binary.LittleEndian.PutUint16(msg[challengeTargetInfoLenOffset:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[challengeTargetInfoLenOffset+2:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[challengeTargetInfoOffOffset:], uint32(targetInfoOffset))

	copy(msg[targetNameOffset:], targetName)
	copy(msg[targetInfoOffset:], targetInfo)

	return msg, serverChallenge
}

// buildTargetInfo builds the AV_PAIR list Windows clients require to
// accept a CHALLENGE: NetBIOS/DNS names, domain, and a replay-protection
// timestamp.
func buildTargetInfo(netbiosName, domain string) []byte {
	if domain == "" {
		domain = "WORKGROUP"
	}
	nbName := strings.ToUpper(netbiosName)
	dnsName := strings.ToLower(netbiosName)

	var buf []byte
	buf = append(buf, buildAvPair(AvNbDomainName, encodeUTF16LE(domain))...)
	buf = append(buf, buildAvPair(AvNbComputerName, encodeUTF16LE(nbName))...)
	buf = append(buf, buildAvPair(AvDnsComputerName, encodeUTF16LE(dnsName))...)
	buf = append(buf, buildAvPair(AvDnsDomainName, encodeUTF16LE(strings.ToLower(domain)))...)
	buf = append(buf, buildAvPair(AvTimestamp, filetimeNow())...)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // AvEOL terminator
	return buf
}

func buildAvPair(id AvID, value []byte) []byte {
	pair := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint16(pair[0:2], uint16(id))
	binary.LittleEndian.PutUint16(pair[2:4], uint16(len(value)))
	copy(pair[4:], value)
	return pair
}

// filetimeNow returns the current time as a Windows FILETIME (100ns
// intervals since 1601-01-01), little-endian encoded.
func filetimeNow() []byte {
	const epochDiff = 116444736000000000
	ft := uint64(time.Now().UnixNano()/100) + epochDiff
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, ft)
	return b
}

func encodeUTF16LE(s string) []byte {
	encoded := utf16.Encode([]rune(s))
	b := make([]byte, len(encoded)*2)
	for i, v := range encoded {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// AuthenticateMessage holds the fields parsed from a Type 3 message.
type AuthenticateMessage struct {
	LmChallengeResponse       []byte
	NtChallengeResponse       []byte
	Domain                    string
	Username                  string
	Workstation               string
	NegotiateFlags            NegotiateFlag
	EncryptedRandomSessionKey []byte
	IsAnonymous               bool
}

// ParseAuthenticate parses an NTLM Type 3 message.
func ParseAuthenticate(buf []byte) (*AuthenticateMessage, error) {
	if len(buf) < authBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Authenticate {
		return nil, ErrWrongMessageType
	}

	msg := &AuthenticateMessage{}
	msg.NegotiateFlags = NegotiateFlag(binary.LittleEndian.Uint32(buf[authNegotiateFlagsOffset : authNegotiateFlagsOffset+4]))
	msg.IsAnonymous = msg.NegotiateFlags&FlagAnonymous != 0
	isUnicode := msg.NegotiateFlags&FlagUnicode != 0

	if field, ok := extractField(buf, authLmResponseLenOffset, authLmResponseOffOffset); ok {
		msg.LmChallengeResponse = field
	}
	if field, ok := extractField(buf, authNtResponseLenOffset, authNtResponseOffOffset); ok {
		msg.NtChallengeResponse = field
	}
	if field, ok := extractField(buf, authDomainNameLenOffset, authDomainNameOffOffset); ok {
		msg.Domain = decodeString(field, isUnicode)
	}
	if field, ok := extractField(buf, authUserNameLenOffset, authUserNameOffOffset); ok {
		msg.Username = decodeString(field, isUnicode)
	}
	if field, ok := extractField(buf, authWorkstationLenOffset, authWorkstationOffOffset); ok {
		msg.Workstation = decodeString(field, isUnicode)
	}
	if field, ok := extractField(buf, authEncryptedRandomSessionKeyLen, authEncryptedRandomSessionKeyOff); ok {
		msg.EncryptedRandomSessionKey = field
	}

	return msg, nil
}

func extractField(buf []byte, lenOffset, offOffset int) ([]byte, bool) {
	length := binary.LittleEndian.Uint16(buf[lenOffset : lenOffset+2])
	offset := binary.LittleEndian.Uint32(buf[offOffset : offOffset+4])
	if length == 0 || int(offset)+int(length) > len(buf) {
		return nil, false
	}
	field := make([]byte, length)
	copy(field, buf[offset:uint32(offset)+uint32(length)])
	return field, true
}

func decodeString(buf []byte, isUnicode bool) string {
	if !isUnicode {
		return string(buf)
	}
	if len(buf)%2 != 0 {
		buf = buf[:len(buf)-1]
	}
	runes := make([]rune, len(buf)/2)
	for i := 0; i < len(buf); i += 2 {
		runes[i/2] = rune(binary.LittleEndian.Uint16(buf[i : i+2]))
	}
	return string(runes)
}

// Error is a sentinel NTLM parsing error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMessageTooShort      Error = "ntlm: message too short"
	ErrInvalidSignature     Error = "ntlm: invalid signature"
	ErrWrongMessageType     Error = "ntlm: wrong message type"
	ErrAuthenticationFailed Error = "ntlm: authentication failed"
	ErrResponseTooShort     Error = "ntlm: response too short"
)
