package wire

import "time"

// filetimeEpochOffset is the number of 100ns ticks between the Windows
// FILETIME epoch (1601-01-01 UTC) and the Unix epoch (1970-01-01 UTC).
const filetimeEpochOffset = 116_444_736_000_000_000

// ToFILETIME converts a Unix time to Windows FILETIME: 100-ns ticks
// since 1601-01-01 UTC.
func ToFILETIME(t time.Time) uint64 {
	unixTicks := t.UnixNano() / 100
	return uint64(unixTicks + filetimeEpochOffset)
}

// FromFILETIME converts a Windows FILETIME value to a Unix time.
func FromFILETIME(ft uint64) time.Time {
	unixTicks := int64(ft) - filetimeEpochOffset
	return time.Unix(0, unixTicks*100).UTC()
}
