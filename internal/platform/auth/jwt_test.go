package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

func fixedManager(secret string, ttl time.Duration) Manager {
	m := NewManager(secret, ttl)
	m.Now = func() time.Time { return epoch }
	return m
}

func TestManager_SignAndParse(t *testing.T) {
	m := fixedManager("secret", time.Hour)

	tok, err := m.Sign("u1", "alice")
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, epoch.Add(time.Hour), claims.ExpiresAt.Time.UTC())
}

func TestManager_ParseExpired(t *testing.T) {
	m := fixedManager("secret", time.Second)
	tok, err := m.Sign("u1", "alice")
	require.NoError(t, err)

	m.Now = func() time.Time { return epoch.Add(2 * time.Second) }
	_, err = m.Parse(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_ParseRejects(t *testing.T) {
	m := fixedManager("secret", time.Hour)
	other := fixedManager("other", time.Hour)
	foreign, err := other.Sign("u1", "alice")
	require.NoError(t, err)

	noSubject, err := m.Sign("", "alice")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": foreign,
		"no subject":   noSubject,
		"alg none":     unsigned,
		"no expiry":    noExpiry,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestManager_PublicKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	m, err := fixedManager("secret", time.Hour).WithPublicKeyPEM(pemKey)
	require.NoError(t, err)

	issued := Claims{Username: "alice", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "auth0|u1",
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, issued).SignedString(priv)
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "auth0|u1", claims.Subject)

	// HS256 tokens are refused once a public key is configured, including
	// ones keyed with the public key bytes.
	shared, err := m.Sign("u1", "alice")
	require.NoError(t, err)
	_, err = m.Parse(shared)
	assert.ErrorIs(t, err, ErrInvalidToken)
	confused, err := jwt.NewWithClaims(jwt.SigningMethodHS256, issued).SignedString(pemKey)
	require.NoError(t, err)
	_, err = m.Parse(confused)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = fixedManager("secret", time.Hour).WithPublicKeyPEM([]byte("not a key"))
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer"))
	assert.Empty(t, BearerToken(""))
}
