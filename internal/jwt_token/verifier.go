// Package jwttoken verifies locally issued bearer tokens against the
// configured JSON Web Key Set.
package jwttoken

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	domainerrors "idbroker/pkg/domain-errors"
)

// Verifier checks a token against each configured key in order; the first key
// that verifies the signature wins. Expiry is checked explicitly against an
// injected clock after signature verification, so verification stays
// deterministic in tests and an expired token is reported as expired no matter
// which key position matched.
type Verifier struct {
	keys []jose.JSONWebKey
	now  func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock injects the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(keySet jose.JSONWebKeySet, opts ...Option) *Verifier {
	v := &Verifier{
		keys: keySet.Keys,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates the token signature and expiry and returns its claims.
// Failures carry a JWTError code from the JOSE taxonomy: malformed, expired,
// signature verification failed, or no matching key for an empty key set.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	var lastErr error
	for i := range v.keys {
		key := v.keys[i]
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return verificationKey(key)
		})
		if err == nil {
			return v.checkExpiry(claims)
		}
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, domainerrors.NewJWTError(domainerrors.JWTMalformed, err)
		}
		lastErr = err
	}

	if lastErr == nil {
		return nil, domainerrors.NewJWTError(domainerrors.JWTNoMatchingKey, nil)
	}
	return nil, domainerrors.NewJWTError(domainerrors.JWTInvalid, lastErr)
}

func (v *Verifier) checkExpiry(claims jwt.MapClaims) (jwt.MapClaims, error) {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, domainerrors.NewJWTError(domainerrors.JWTMalformed, err)
	}
	if exp != nil && exp.Before(v.now()) {
		return nil, domainerrors.NewJWTError(domainerrors.JWTExpired, nil)
	}
	return claims, nil
}

// verificationKey extracts the raw verification key from a JWK. Symmetric keys
// carry []byte, asymmetric ones their public key type.
func verificationKey(key jose.JSONWebKey) (any, error) {
	switch k := key.Key.(type) {
	case nil:
		return nil, errors.New("jwk without key material")
	case []byte:
		return k, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	default:
		return k, nil
	}
}
