package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

// dialectPriority orders the dialects this server understands, lowest
// index preferred, matching the client's own NEGOTIATE send order per
// [CIFS] 2.2.4.52.1.
var dialectPriority = []string{
	"NT LM 0.12",
	"LANMAN2.1",
	"LANMAN1.0",
}

func init() {
	register(CmdNegotiate, &command{name: "NEGOTIATE", handler: handleNegotiate})
}

// handleNegotiate parses the client's NUL-terminated dialect list out
// of the body's data bytes and picks the highest-priority dialect both
// sides support. NEGOTIATE never chains (no AndX fields), so its
// response carries only the fixed parameter words the chosen dialect
// needs.
func handleNegotiate(c *Conn, req *request) (*wire.Body, error) {
	dialects := parseDialects(req.body.Bytes)

	chosenIdx := -1
	for i, want := range dialectPriority {
		for _, d := range dialects {
			if d == want {
				chosenIdx = i
				break
			}
		}
		if chosenIdx >= 0 {
			break
		}
	}
	if chosenIdx < 0 {
		return nil, cifserr.Protocol("no mutually supported dialect", nil)
	}

	// NT LM 0.12 extended response layout, [CIFS] 2.2.4.52.2: 17 words.
	words := make([]uint16, 17)
	words[0] = uint16(chosenIdx)
	words[1] = 0 // SecurityMode: user-level, no challenge/response required pre-session
	words[2] = 1 // MaxMpxCount
	words[3] = 1 // MaxNumberVcs
	putU32(words, 4, 0x00010000)  // MaxBufferSize
	putU32(words, 6, 0x00010000)  // MaxRawSize
	putU32(words, 8, 0)           // SessionKey
	putU32(words, 10, 0x8000)     // Capabilities: CAP_NT_SMBS
	putU32(words, 12, 0)          // SystemTimeLow
	putU32(words, 14, 0)          // SystemTimeHigh
	words[16] = 0                 // ServerTimeZone

	return &wire.Body{Words: words, Bytes: nil}, nil
}

func putU32(words []uint16, idx int, v uint32) {
	words[idx] = uint16(v)
	words[idx+1] = uint16(v >> 16)
}

func parseDialects(data []byte) []string {
	var out []string
	for len(data) > 0 {
		if data[0] != 0x02 {
			break
		}
		data = data[1:]
		end := 0
		for end < len(data) && data[end] != 0 {
			end++
		}
		out = append(out, string(data[:end]))
		if end < len(data) {
			end++
		}
		data = data[end:]
	}
	return out
}
