package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := RandomToken(32)
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.NotContains(t, tok, "=")

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, 32)

		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestRandomToken_Zero(t *testing.T) {
	tok, err := RandomToken(0)
	require.NoError(t, err)
	assert.Empty(t, tok)
}
