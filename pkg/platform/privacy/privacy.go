// Package privacy derives log- and storage-safe forms of personal identifiers.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// HashEmail returns the hex SHA-256 of the lower-cased address. It is the only
// form of an email that may be stored in memory, used as a key, or logged.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// AnonymizeIP zeroes the host part of an address: the last octet for IPv4 and
// the last 80 bits for IPv6. Unparseable input is returned as "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return masked.String()
}
