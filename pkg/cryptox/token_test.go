package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for range 20 {
		tok, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.Len(t, tok, 43)
		require.False(t, seen[tok], "duplicate token")
		seen[tok] = true
	}

	for _, size := range []int{0, -1} {
		tok, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, tok)
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	fp := FingerprintToken(tok)

	require.Equal(t, fp, FingerprintToken(tok))
	require.NotEqual(t, tok, fp)
	require.Len(t, fp, 43)

	t.Run("matches", func(t *testing.T) {
		require.True(t, MatchesFingerprint(tok, fp))
	})
	t.Run("other token", func(t *testing.T) {
		require.False(t, MatchesFingerprint(tok+"x", fp))
	})
	t.Run("cleared session", func(t *testing.T) {
		require.False(t, MatchesFingerprint(tok, ""))
		require.False(t, MatchesFingerprint("", ""))
	})
}
