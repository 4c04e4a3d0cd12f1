package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy-0123456789"

func signHS256(t *testing.T, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	tok, err := build(jwt.NewBuilder()).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifier_Secret(t *testing.T) {
	t.Parallel()

	sub := uuid.NewString()
	now := time.Now()

	tests := []struct {
		name     string
		cfg      VerifierConfig
		token    func(t *testing.T) string
		wantErr  bool
		validate func(*testing.T, string)
	}{
		{
			name: "valid token",
			cfg:  VerifierConfig{Secret: testSecret, Issuer: "https://id.example.com", Audience: "authenticated"},
			token: func(t *testing.T) string {
				return signHS256(t, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject(sub).Issuer("https://id.example.com").Audience([]string{"authenticated"}).
						IssuedAt(now).Expiration(now.Add(time.Hour)).Claim("email", "a@b.c")
				})
			},
		},
		{
			name: "expired",
			cfg:  VerifierConfig{Secret: testSecret},
			token: func(t *testing.T) string {
				return signHS256(t, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject(sub).Expiration(now.Add(-time.Hour))
				})
			},
			wantErr: true,
		},
		{
			name: "wrong issuer",
			cfg:  VerifierConfig{Secret: testSecret, Issuer: "https://id.example.com"},
			token: func(t *testing.T) string {
				return signHS256(t, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject(sub).Issuer("https://evil.example.com").Expiration(now.Add(time.Hour))
				})
			},
			wantErr: true,
		},
		{
			name: "subject not a uuid",
			cfg:  VerifierConfig{Secret: testSecret},
			token: func(t *testing.T) string {
				return signHS256(t, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject("user-42").Expiration(now.Add(time.Hour))
				})
			},
			wantErr: true,
		},
		{
			name: "wrong secret",
			cfg:  VerifierConfig{Secret: "another-secret"},
			token: func(t *testing.T) string {
				return signHS256(t, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject(sub).Expiration(now.Add(time.Hour))
				})
			},
			wantErr: true,
		},
		{
			name:    "garbage",
			cfg:     VerifierConfig{Secret: testSecret},
			token:   func(*testing.T) string { return "not.a.jwt" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := NewVerifier(tt.cfg, nil)
			require.NoError(t, err)

			claims, err := v.Verify(context.Background(), tt.token(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidToken), "error %v should match ErrInvalidToken", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sub, claims.Sub)
			assert.Equal(t, "a@b.c", claims.Email)
			assert.Equal(t, "authenticated", claims.Aud)
		})
	}
}

func TestNewVerifier_NoKeyMaterial(t *testing.T) {
	t.Parallel()
	_, err := NewVerifier(VerifierConfig{Issuer: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestVerifier_JWKS(t *testing.T) {
	t.Parallel()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	sub := uuid.NewString()
	tok, err := jwt.NewBuilder().Subject(sub).Expiration(time.Now().Add(time.Hour)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)

	v, err := NewVerifier(VerifierConfig{JWKSURL: srv.URL}, NewJWKSManager(srv.Client(), time.Hour))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		claims, err := v.Verify(context.Background(), string(signed))
		require.NoError(t, err)
		assert.Equal(t, sub, claims.Sub)
	}
	assert.Equal(t, int32(1), fetches.Load(), "key set should be cached")
}

func TestJWKSManager_ServesStaleOnFailure(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"keys":[{"kty":"oct","kid":"s1","k":"c2VjcmV0"}]}`))
	}))
	t.Cleanup(srv.Close)

	m := NewJWKSManager(srv.Client(), time.Nanosecond)
	keys, err := m.GetJWKS(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 1, keys.Len())

	fail.Store(true)
	time.Sleep(time.Millisecond)
	keys, err = m.GetJWKS(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Len())

	m.Invalidate(srv.URL)
	_, err = m.GetJWKS(context.Background(), srv.URL)
	assert.Error(t, err)
}
