package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	// ErrInvalidToken covers every signature, expiry and claim failure.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrNoKeyMaterial means neither a shared secret nor a JWKS URL was configured.
	ErrNoKeyMaterial = errors.New("no token verification key configured")
)

const clockSkew = 30 * time.Second

// TokenVerifier verifies a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.JWTClaims, error)
}

// Verifier checks HS256 tokens against a shared secret or asymmetric tokens
// against a JWKS endpoint.
type Verifier struct {
	secret   []byte
	jwksURL  string
	jwks     *JWKSManager
	issuer   string
	audience string
}

var _ TokenVerifier = (*Verifier)(nil)

// VerifierConfig selects the key material. Secret wins when both are set.
type VerifierConfig struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
}

// NewVerifier creates a verifier. jwks may be nil when only a secret is used.
func NewVerifier(cfg VerifierConfig, jwks *JWKSManager) (*Verifier, error) {
	v := &Verifier{
		secret:   []byte(cfg.Secret),
		jwksURL:  strings.TrimSpace(cfg.JWKSURL),
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
	if len(v.secret) == 0 && v.jwksURL == "" {
		return nil, ErrNoKeyMaterial
	}
	if len(v.secret) == 0 && v.jwks == nil {
		v.jwks = NewJWKSManager(nil, 0)
	}
	return v, nil
}

// Verify parses and validates token and returns its claims. The subject must
// be a UUID since it keys the user's quota profile.
func (v *Verifier) Verify(ctx context.Context, token string) (*models.JWTClaims, error) {
	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	if len(v.secret) > 0 {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secret))
	} else {
		keys, err := v.jwks.GetJWKS(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if _, err := uuid.Parse(tok.Subject()); err != nil {
		return nil, fmt.Errorf("%w: subject is not a UUID", ErrInvalidToken)
	}

	claims := &models.JWTClaims{
		Sub: tok.Subject(),
		Iss: tok.Issuer(),
		Exp: tok.Expiration().Unix(),
		Iat: tok.IssuedAt().Unix(),
	}
	if aud := tok.Audience(); len(aud) > 0 {
		claims.Aud = aud[0]
	}
	claims.Email = stringClaim(tok, "email")
	claims.Name = stringClaim(tok, "name")
	claims.Role = stringClaim(tok, "role")
	return claims, nil
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
