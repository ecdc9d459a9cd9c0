package ledger

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NewRef derives a deterministic correlation id from parts. The same parts
// always give the same ref, so a retried operation reuses its ref.
func NewRef(parts ...string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(strings.Join(parts, ":")))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ValidAddress accepts 0x-prefixed 20-byte hex addresses. Mixed-case
// addresses must carry a valid EIP-55 checksum.
func ValidAddress(addr string) bool {
	if !addressPattern.MatchString(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return ChecksumAddress(addr) == addr
}

// ChecksumAddress returns the EIP-55 form of addr.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// NormalizeAddress lower-cases an address so it can be used as a store key
// and compared.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
