package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	stored, err := Hash("hunter2", "")
	require.NoError(t, err)
	assert.Len(t, stored, SaltLen+64)
	assert.True(t, Verify("hunter2", stored))
	assert.False(t, Verify("hunter3", stored))
	assert.False(t, Verify("", stored))
}

func TestHashFixedSaltDeterministic(t *testing.T) {
	a, err := Hash("secret", "Ab")
	require.NoError(t, err)
	b, err := Hash("secret", "Ab")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "Ab"))
}

func TestHashRejectsBadSalt(t *testing.T) {
	_, err := Hash("secret", "!!")
	assert.Error(t, err)
	_, err = Hash("secret", "abc")
	assert.Error(t, err)
}

func TestSaltAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		salt, err := NewSalt()
		require.NoError(t, err)
		require.Len(t, salt, SaltLen)
		for _, c := range []byte(salt) {
			assert.True(t, strings.ContainsRune(saltAlphabet, rune(c)),
				"salt character %q outside alphabet", c)
		}
	}
}

func TestVerifyGarbage(t *testing.T) {
	assert.False(t, Verify("x", ""))
	assert.False(t, Verify("x", "A"))
	assert.False(t, Verify("x", "!!deadbeef"))
}
