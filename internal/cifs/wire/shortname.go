package wire

import "strings"

// mangleAlphabet is the base-43 alphabet used to encode the two
// collision-avoidance characters in a mangled 8.3 name.
const mangleAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_-!@#$%"

// ShortName8dot3 derives a deterministic 8.3 short name for longName,
// for use in BOTH_DIRECTORY_INFO records. Callers apply it to every
// name, including names that are already valid 8.3 names;
// ShortName8dot3 always mangles, matching the wire-format algorithm
// given for the worst case.
func ShortName8dot3(longName string) string {
	base, ext := splitExt(longName)

	baseUpper := strings.ToUpper(base)
	baseChars := []rune(baseUpper)
	baseLen := 5
	if len(baseChars) < baseLen {
		baseLen = len(baseChars)
	}

	hash := mangleHash(longName)
	c1 := mangleAlphabet[hash/43%43]
	c2 := mangleAlphabet[hash%43]

	stem := string(baseChars[:baseLen]) + "~" + string(c1) + string(c2)

	extUpper := strings.ToUpper(ext)
	if strings.HasPrefix(longName, ".") {
		extUpper = "___"
	}
	extChars := []rune(extUpper)
	extLen := 3
	if len(extChars) < extLen {
		extLen = len(extChars)
	}

	if extLen == 0 {
		return stem
	}
	return stem + "." + string(extChars[:extLen])
}

// mangleHash computes sum(name bytes) mod 43^2, the collision-avoidance
// digest the wire format specifies.
func mangleHash(name string) int {
	sum := 0
	for i := 0; i < len(name); i++ {
		sum += int(name[i])
	}
	return sum % (43 * 43)
}

func splitExt(name string) (base, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
