// Package identity provides identity value types, anonymous-id minting and
// proxy-trust-aware client IP derivation.
package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Identity is the key quota is tracked against: an authenticated user id or
// a persistent anonymous token, never both.
type Identity struct {
	UserID string
	AnonID string
}

// IsAnonymous reports whether the identity is cookie-backed rather than
// authenticated.
func (id Identity) IsAnonymous() bool {
	return id.UserID == ""
}

// Key returns the storage key for the identity.
func (id Identity) Key() string {
	if id.UserID != "" {
		return id.UserID
	}
	return id.AnonID
}

// MintAnonID generates a fresh anonymous id: "anon_" plus 128 bits of
// crypto/rand as hex. The id is the sole key protecting that identity's
// remaining-quota state, so it must be unguessable.
func MintAnonID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed")
	}
	return "anon_" + hex.EncodeToString(b)
}

// SignAnonID returns the cookie value for an anonymous id: "id.sig" where
// sig is hex(HMAC-SHA256(secret, id)).
func SignAnonID(id string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// VerifyAnonID parses a signed cookie value and returns the embedded id.
// Tampered, unsigned or malformed values are rejected; the caller mints a
// fresh id instead.
func VerifyAnonID(value string, secret []byte) (string, bool) {
	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 || dot == len(value)-1 {
		return "", false
	}
	id, sigHex := value[:dot], value[dot+1:]
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", false
	}
	return id, true
}

// ClientIP derives the best-effort source IP for a request.
//
// trustedHops is the number of reverse proxies the deployment has declared
// in front of the process. With zero trusted hops the forwarded-for header
// is ignored entirely - a client-supplied header is a spoofing vector. With
// N trusted hops the address N from the right of X-Forwarded-For is used,
// since the rightmost N entries were appended by proxies we operate.
func ClientIP(remoteAddr, forwardedFor string, trustedHops int) string {
	if trustedHops > 0 && forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			idx = 0
		}
		if ip := canonicalIP(strings.TrimSpace(parts[idx])); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := canonicalIP(host); ip != "" {
		return ip
	}
	return remoteAddr
}

// canonicalIP normalizes a candidate address, rejecting garbage values so a
// forged header cannot pollute the abuse-tracking keyspace.
func canonicalIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
