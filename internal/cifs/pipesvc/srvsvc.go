package pipesvc

import "github.com/opencifsd/cifsd/internal/logger"

// ndrTransferSyntaxUUID identifies the 32-bit NDR transfer syntax
// [C706]; srvsvc has never spoken anything else.
var ndrTransferSyntaxUUID = [16]byte{
	0x04, 0x5d, 0x88, 0x8a,
	0xeb, 0x1c,
	0xc9, 0x11,
	0x9f, 0xe8,
	0x08, 0x00, 0x2b, 0x10, 0x48, 0x60,
}

const (
	opNetrShareEnum uint16 = 15
	opNetrShareGetInfo uint16 = 16
)

// Share type bits [MS-SRVS 2.2.2.4].
const (
	stypeDisktree uint32 = 0x00000000
	stypeIPC      uint32 = 0x00000003
	stypeSpecial  uint32 = 0x80000000
)

const nerrSuccess uint32 = 0

// ShareInfo is the subset of a configured share NetrShareEnum exposes.
type ShareInfo struct {
	Name    string
	Comment string
	IPC     bool
}

func (s ShareInfo) shareType() uint32 {
	if s.IPC {
		return stypeIPC | stypeSpecial
	}
	return stypeDisktree
}

// handleNetrShareEnum answers opnum 15. Only level 1 responses are
// built; clients asking for level 0/2 still get level 1 data, which is
// what every CIFS-era server does when asked for a level it doesn't
// keep extra fields for.
func handleNetrShareEnum(shares []ShareInfo) []byte {
	logger.Debug("pipesvc: building NetrShareEnum response", "shares", len(shares))
	return encodeShareInfo1Container(shares)
}

// encodeShareInfo1Container builds the NDR wire form of a
// SHARE_INFO_1_CONTAINER: a conformant array of fixed-size entries
// followed by the deferred name/comment string data, the layout every
// NDR marshaler for a "pointer to array of pointer to struct" produces.
func encodeShareInfo1Container(shares []ShareInfo) []byte {
	n := len(shares)
	buf := make([]byte, 0, 256+64*n)

	buf = appendU32(buf, 1)          // level
	buf = appendU32(buf, 1)          // union switch (SHARE_INFO_1)
	buf = appendU32(buf, 0x00020000) // container pointer, non-null
	buf = appendU32(buf, uint32(n))  // entries read

	if n == 0 {
		buf = appendU32(buf, 0) // buffer pointer, null
	} else {
		buf = appendU32(buf, 0x00020004) // buffer pointer
		buf = appendU32(buf, uint32(n))  // conformant array max count

		ptr := uint32(0x00020008)
		for i, s := range shares {
			buf = appendU32(buf, ptr+uint32(i*8))   // name pointer
			buf = appendU32(buf, s.shareType())     // type
			buf = appendU32(buf, ptr+uint32(i*8)+4) // comment pointer
		}
		for _, s := range shares {
			buf = appendNDRString(buf, s.Name)
			buf = appendNDRString(buf, s.Comment)
		}
	}

	buf = appendU32(buf, uint32(n)) // total entries
	buf = appendU32(buf, 0)         // resume handle pointer, null
	buf = appendU32(buf, nerrSuccess)
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// appendNDRString emits a conformant-varying UTF-16LE string: MaxCount,
// Offset, ActualCount, then the null-terminated data padded to a
// 4-byte boundary.
func appendNDRString(buf []byte, s string) []byte {
	n := uint32(len(s) + 1)
	buf = appendU32(buf, n)
	buf = appendU32(buf, 0)
	buf = appendU32(buf, n)
	for _, r := range s {
		buf = append(buf, byte(r), byte(r>>8))
	}
	buf = append(buf, 0, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
