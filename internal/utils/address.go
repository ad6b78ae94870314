package utils

import "strings"

// NormalizeAddress lowercases a hex address and guarantees a 0x prefix
// so lookups and uniqueness checks are case-insensitive.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}

// SameAddress compares two hex addresses ignoring case.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
