package wire

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// oemCodec is the single-byte codepage used when Flags2.UNICODE is
// unset. CIFS clients historically negotiate CP437/CP850; charmap.CodePage437
// covers the ASCII-compatible subset every modern client actually sends.
var oemCodec = charmap.CodePage437

// DecodeString decodes a wire string as UTF-16LE (unicode true) or the
// OEM codepage (unicode false). The string is NUL-terminated on the
// wire; the terminator is consumed but not included in the result.
func DecodeString(buf []byte, unicode bool) (value string, consumed int) {
	if unicode {
		for i := 0; i+1 < len(buf); i += 2 {
			if buf[i] == 0 && buf[i+1] == 0 {
				return decodeUTF16LE(buf[:i]), i + 2
			}
		}
		return decodeUTF16LE(buf), len(buf)
	}

	idx := bytes.IndexByte(buf, 0)
	if idx < 0 {
		return decodeOEM(buf), len(buf)
	}
	return decodeOEM(buf[:idx]), idx + 1
}

// EncodeString encodes value as a NUL-terminated wire string.
func EncodeString(value string, unicode bool) []byte {
	if unicode {
		return append(encodeUTF16LE(value), 0, 0)
	}
	return append(encodeOEM(value), 0)
}

// EncodeUTF16LERaw encodes value as UTF-16LE with no NUL terminator,
// for fields carrying an explicit length (e.g. directory-info records)
// rather than relying on a terminator.
func EncodeUTF16LERaw(value string) []byte {
	return encodeUTF16LE(value)
}

// Pad2 returns an extra 0x00 pad byte if offset is odd, as required
// before a Unicode string field so UTF-16LE code units stay 2-byte
// aligned on the wire.
func Pad2(offset int) []byte {
	if offset%2 != 0 {
		return []byte{0}
	}
	return nil
}

func decodeUTF16LE(buf []byte) string {
	if len(buf)%2 != 0 {
		buf = buf[:len(buf)-1]
	}
	units := make([]uint16, len(buf)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

func decodeOEM(buf []byte) string {
	out, err := oemCodec.NewDecoder().Bytes(buf)
	if err != nil {
		return string(buf)
	}
	return string(out)
}

func encodeOEM(s string) []byte {
	out, err := oemCodec.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
