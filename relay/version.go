package relay

import (
	"strconv"
	"strings"
)

// VersionOrdinal packs a dotted version string into a 32-bit ordinal,
// one byte per component, most significant first: "4.4.0" becomes
// 0x04040000. Non-numeric suffixes ("4.5.0-dev") are truncated at the
// first non-digit. Unparseable input yields 0.
func VersionOrdinal(version string) uint32 {
	var ordinal uint32

	parts := strings.Split(version, ".")

	for i := 0; i < len(parts) && i < 4; i++ {
		digits := parts[i]
		if cut := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); cut >= 0 {
			digits = digits[:cut]
		}

		n, err := strconv.ParseUint(digits, 10, 8)
		if err != nil {
			break
		}

		ordinal |= uint32(n) << (24 - 8*i)
	}

	return ordinal
}
