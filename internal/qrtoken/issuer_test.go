package qrtoken

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestMint_UniquePerCall(t *testing.T) {
	issuer, err := New("test-secret")
	require.NoError(t, err)

	permitID, approvalID := uuid.New(), uuid.New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := issuer.Mint(permitID, approvalID)
		require.NoError(t, err)
		assert.False(t, seen[token], "token repeated for the same approval")
		seen[token] = true
	}
}

func TestMint_Shape(t *testing.T) {
	issuer, err := New("test-secret")
	require.NoError(t, err)

	token, err := issuer.Mint(uuid.New(), uuid.New())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 2, "token is nonce.signature")
	assert.NotEmpty(t, parts[0])
	assert.NotEmpty(t, parts[1])
}

func TestMint_SecretChangesSignature(t *testing.T) {
	a, err := New("secret-a")
	require.NoError(t, err)
	b, err := New("secret-b")
	require.NoError(t, err)

	permitID, approvalID := uuid.New(), uuid.New()
	tokenA, err := a.Mint(permitID, approvalID)
	require.NoError(t, err)
	tokenB, err := b.Mint(permitID, approvalID)
	require.NoError(t, err)
	assert.NotEqual(t, tokenA, tokenB)
}
