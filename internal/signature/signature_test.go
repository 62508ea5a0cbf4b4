package signature_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/merchantkit/payout-bridge/internal/signature"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestSignDeterministic(t *testing.T) {
	fields := []string{"1999", "EUR", "42", "nonce-value"}
	first := signature.Sign(fields, "secret")
	second := signature.Sign(fields, "secret")
	require.Equal(t, first, second)
	require.Regexp(t, hexPattern, first)
}

func TestSignFieldOrderSignificant(t *testing.T) {
	a := signature.Sign([]string{"1999", "EUR", "42", "n"}, "secret")
	b := signature.Sign([]string{"EUR", "1999", "42", "n"}, "secret")
	require.NotEqual(t, a, b)
}

func TestVerifyRoundTrip(t *testing.T) {
	cases := [][]string{
		{"1999", "EUR", "42", "nonce"},
		{"0", "USD", "order-77", "x"},
		{""},
	}
	for _, fields := range cases {
		sig := signature.Sign(fields, "s3cret")
		require.True(t, signature.Verify(fields, "s3cret", sig))
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	fields := []string{"1999", "EUR", "42", "nonce"}
	sig := signature.Sign(fields, "secret")

	tampered := append([]string{}, fields...)
	tampered[0] = "1998"
	require.False(t, signature.Verify(tampered, "secret", sig))

	require.False(t, signature.Verify(fields, "other-secret", sig))

	last := "0"
	if sig[63] == '0' {
		last = "1"
	}
	require.False(t, signature.Verify(fields, "secret", sig[:63]+last))
	require.False(t, signature.Verify(fields, "secret", ""))
}

func TestVerifyNormalisesHexCase(t *testing.T) {
	fields := []string{"500", "EUR", "9", "n"}
	sig := signature.Sign(fields, "secret")
	upper := regexp.MustCompile("[a-f]").ReplaceAllStringFunc(sig, func(s string) string {
		return string(s[0] - 'a' + 'A')
	})
	require.True(t, signature.Verify(fields, "secret", upper))
}

func TestNonce(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 64; i++ {
		nonce, err := signature.Nonce()
		require.NoError(t, err)
		require.NotEmpty(t, nonce)
		_, dup := seen[nonce]
		require.False(t, dup, "nonce repeated")
		seen[nonce] = struct{}{}
	}
}
