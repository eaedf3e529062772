// Package signature computes and verifies the keyed digest carried alongside
// every outbound payload. The signature travels as a header-equivalent side
// channel, never inside the payload body, so verification is independent of
// payload re-serialization. Rotation keeps the previous secret valid for a
// grace window so in-flight retries signed with the old key still verify.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Header is the side-channel attribute name the signature travels under
const Header = "X-Studioflow-Signature"

// Compute returns the hex-encoded HMAC-SHA256 of the payload under the secret
func Compute(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Secret is one destination's signing material. Previous is retained after a
// rotation and honored until RotatedAt + grace.
type Secret struct {
	Current   string    `json:"current"`
	Previous  string    `json:"previous,omitempty"`
	RotatedAt time.Time `json:"rotated_at,omitempty"`
}

// Sign signs the payload with the current secret
func (s Secret) Sign(payload []byte) string {
	return Compute(s.Current, payload)
}

// Rotate replaces the current secret, remembering the old one from now on
func (s Secret) Rotate(newSecret string, now time.Time) Secret {
	return Secret{
		Current:   newSecret,
		Previous:  s.Current,
		RotatedAt: now,
	}
}

// Verify checks the signature against the current secret, falling back to the
// previous secret while it is inside the rotation grace window. Comparison is
// constant-time.
func (s Secret) Verify(payload []byte, sig string, now time.Time, grace time.Duration) bool {
	if equal(Compute(s.Current, payload), sig) {
		return true
	}
	if s.Previous == "" || s.RotatedAt.IsZero() {
		return false
	}
	if now.After(s.RotatedAt.Add(grace)) {
		return false
	}
	return equal(Compute(s.Previous, payload), sig)
}

func equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
