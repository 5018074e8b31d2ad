package secret

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify("wrong secret", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("same input")
	require.NoError(t, err)
	second, err := Hash("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, hash := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=32768,t=2$missing-part",
		"$argon2i$v=19$m=32768,t=2,p=2$c2FsdA$aGFzaA",
	} {
		_, err := Verify("anything", hash)
		require.Error(t, err, "hash %q", hash)
	}
}
