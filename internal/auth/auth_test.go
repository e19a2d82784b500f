package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/internal/types"
)

func newTestProvider() *HMACProvider {
	return NewHMACProvider([]byte("0123456789abcdef0123456789abcdef"))
}

func TestMintValidateRoundTrip(t *testing.T) {
	p := newTestProvider()
	claims := types.Claims{
		Subject:     1,
		Vault:       "default",
		Permissions: map[string]struct{}{"agent:spawn": {}},
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	token, err := p.Mint(claims)
	require.NoError(t, err)

	got, err := p.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, got.Subject)
	assert.True(t, got.HasPermission("agent:spawn"))
	assert.NotEmpty(t, got.JTI)
}

func TestValidateExpired(t *testing.T) {
	p := newTestProvider()
	claims := types.Claims{
		Subject:   1,
		ExpiresAt: time.Now().Add(-time.Second),
	}
	token, err := p.Mint(claims)
	require.NoError(t, err)

	_, err = p.Validate(token)
	assert.ErrorIs(t, err, types.ErrCapabilityExpired)
}

func TestValidateRevoked(t *testing.T) {
	p := newTestProvider()
	claims := types.Claims{Subject: 1, ExpiresAt: time.Now().Add(time.Hour)}
	token, err := p.Mint(claims)
	require.NoError(t, err)

	validated, err := p.Validate(token)
	require.NoError(t, err)

	p.Revoke(validated.JTI)
	_, err = p.Validate(token)
	assert.ErrorIs(t, err, types.ErrCapabilityRevoked)
}

func TestValidateTamperedSignatureRejected(t *testing.T) {
	p := newTestProvider()
	claims := types.Claims{Subject: 1, ExpiresAt: time.Now().Add(time.Hour)}
	token, err := p.Mint(claims)
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	_, err = p.Validate(tampered)
	assert.Error(t, err)
}

func TestValidateMalformedToken(t *testing.T) {
	p := newTestProvider()
	_, err := p.Validate("not-a-token")
	assert.ErrorIs(t, err, types.ErrCapabilityMalformed)
}
