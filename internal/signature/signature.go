// Package signature implements the canonical message signing scheme used by
// the Payout processor: the ordered field values plus the shared secret are
// joined with a pipe and hashed with SHA-256.
//
// Field order is part of the contract and must match the processor exactly:
//
//	checkout create:   amount, currency, external_id, nonce      (+ secret)
//	checkout response: amount, currency, external_id, nonce      (+ secret)
//	webhook:           external_id, type, nonce                  (+ secret)
//	refund:            amount, currency, external_id, iban, nonce (+ secret)
//
// Amounts are always formatted as minor-unit integers without grouping
// separators before signing.
package signature

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Delimiter separates field values in the signable message. It is not
// expected to occur inside any signed field.
const Delimiter = "|"

// Sign derives the hex encoded SHA-256 signature for the ordered fields.
// The secret is appended as the final field.
func Sign(fields []string, secret string) string {
	message := strings.Join(append(append([]string{}, fields...), secret), Delimiter)
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Verify re-derives the expected signature for fields+secret and compares it
// against the provided value in constant time. Hex casing is normalised so a
// processor emitting uppercase digests still verifies.
func Verify(fields []string, secret, provided string) bool {
	expected := Sign(fields, secret)
	candidate := strings.ToLower(strings.TrimSpace(provided))
	if len(candidate) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}

// Nonce returns an opaque single-use random token for inclusion in signed
// messages: 32 random bytes, base64 encoded.
func Nonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
