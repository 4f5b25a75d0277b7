package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonTrouveWrapped(t *testing.T) {
	err := fmt.Errorf("chargement du compte: %w", NewNonTrouveError("Token", "JEUNE|MILO|sub-1"))
	assert.True(t, IsNonTrouve(err))

	var nonTrouve *NonTrouveError
	assert.True(t, errors.As(err, &nonTrouve))
	assert.Equal(t, "Token", nonTrouve.Entity)
}

func TestNonTraitableMessages(t *testing.T) {
	assert.Equal(t, "Utilisateur inexistant", NewNonTraitableError(ReasonUtilisateurInexistant).Message())
	// An unknown reason code from a newer profile service degrades to the
	// generic message instead of failing.
	assert.Equal(t, "Votre compte ne peut pas être traité", NewNonTraitableError("RAISON_FUTURE").Message())
}

func TestAuthErrorStageMatching(t *testing.T) {
	cause := errors.New("nonce inattendu")
	err := NewAuthError(StageUpstreamToken, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &AuthError{Stage: StageUpstreamToken})
	assert.NotErrorIs(t, err, &AuthError{Stage: StageUserinfo})
	assert.Contains(t, err.Error(), StageUpstreamToken)
}

func TestJWTErrorCodes(t *testing.T) {
	err := NewJWTError(JWTExpired, errors.New("token is expired"))

	var jwtErr *JWTError
	assert.True(t, errors.As(err, &jwtErr))
	assert.Equal(t, JWTExpired, jwtErr.Code)
	assert.Contains(t, err.Error(), "ERR_JWT_EXPIRED")
}
