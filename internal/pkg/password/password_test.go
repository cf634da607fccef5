package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", hash)
	require.NoError(t, Compare(hash, "correct horse"))
	require.Error(t, Compare(hash, "wrong horse"))
}

func TestDigestIsStableAndTrimmed(t *testing.T) {
	require.Equal(t, Digest("123456"), Digest(" 123456 "))
	require.NotEqual(t, Digest("123456"), Digest("123457"))
	require.Len(t, Digest("x"), 64)
}

func TestAcceptable(t *testing.T) {
	require.False(t, Acceptable("short"))
	require.True(t, Acceptable("long enough"))
	require.False(t, Acceptable(string(make([]byte, 73))))
}
