package domain

import (
	"fmt"
	"strings"
)

// Principal is an opaque account identity. The canonical form is a 0x-prefixed
// lowercase hex address, matching what the call gateway recovers from a signed
// call envelope. Engine accounts (vault custody, marketplace escrow, protocol
// treasury) are fixed principals configured at wiring time.
type Principal string

// Zero reports whether the principal is unset.
func (p Principal) Zero() bool {
	return p == ""
}

// String returns the canonical string form.
func (p Principal) String() string {
	return string(p)
}

// ParsePrincipal validates and canonicalises a principal string.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("domain: empty principal")
	}
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return "", fmt.Errorf("domain: malformed principal %q", s)
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return "", fmt.Errorf("domain: malformed principal %q", s)
		}
	}
	return Principal(strings.ToLower(s)), nil
}

// Call carries the caller identity and current block height that the
// execution substrate supplies implicitly with every entry-point invocation.
type Call struct {
	Caller Principal
	Height uint64
}
