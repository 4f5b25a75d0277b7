// Package domainerrors defines the closed set of tagged errors used at every
// internal use-case boundary. Services return these as values; only the grant
// adapter translates them into the authorization-server engine's own protocol
// errors.
package domainerrors

import (
	"errors"
	"fmt"
)

// NonTrouveError reports a lookup failure. Callers can recover from it, for
// example by redirecting the browser to re-authentication.
type NonTrouveError struct {
	Entity   string
	Criteria string
}

func NewNonTrouveError(entity, criteria string) *NonTrouveError {
	return &NonTrouveError{Entity: entity, Criteria: criteria}
}

func (e *NonTrouveError) Error() string {
	if e.Criteria == "" {
		return fmt.Sprintf("%s non trouvé", e.Entity)
	}
	return fmt.Sprintf("%s non trouvé: %s", e.Entity, e.Criteria)
}

// Is matches any NonTrouveError so callers can test with errors.Is without
// knowing the entity.
func (e *NonTrouveError) Is(target error) bool {
	_, ok := target.(*NonTrouveError)
	return ok
}

// IsNonTrouve reports whether err is (or wraps) a NonTrouveError.
func IsNonTrouve(err error) bool {
	var nt *NonTrouveError
	return errors.As(err, &nt)
}

// Reason identifies why an upstream profile could not be reconciled with an
// existing account. The set is open on the wire: unknown codes degrade to a
// generic message instead of crashing.
type Reason string

const (
	ReasonUtilisateurInexistant      Reason = "UTILISATEUR_INEXISTANT"
	ReasonUtilisateurDejaMilo        Reason = "UTILISATEUR_DEJA_MILO"
	ReasonUtilisateurDejaPE          Reason = "UTILISATEUR_DEJA_PE"
	ReasonUtilisateurNouveauMilo     Reason = "UTILISATEUR_NOUVEAU_MILO"
	ReasonUtilisateurNouveauPE       Reason = "UTILISATEUR_NOUVEAU_PE"
	ReasonUtilisateurConseilDept     Reason = "UTILISATEUR_CONSEIL_DEPT"
	ReasonStructureNonAutorisee      Reason = "STRUCTURE_NON_AUTORISEE"
	ReasonTypeUtilisateurNonAutorise Reason = "TYPE_UTILISATEUR_NON_AUTORISE"
)

var reasonMessages = map[Reason]string{
	ReasonUtilisateurInexistant:      "Utilisateur inexistant",
	ReasonUtilisateurDejaMilo:        "Utilisateur déjà rattaché à une Mission Locale",
	ReasonUtilisateurDejaPE:          "Utilisateur déjà rattaché à France Travail",
	ReasonUtilisateurNouveauMilo:     "Utilisateur Mission Locale inconnu",
	ReasonUtilisateurNouveauPE:       "Utilisateur France Travail inconnu",
	ReasonUtilisateurConseilDept:     "Utilisateur Conseil départemental inconnu",
	ReasonStructureNonAutorisee:      "Structure non autorisée",
	ReasonTypeUtilisateurNonAutorise: "Type d'utilisateur non autorisé",
}

const genericReasonMessage = "Votre compte ne peut pas être traité"

// NonTraitableError carries a machine-readable reason code produced by the
// profile service when an upstream identity cannot be reconciled.
type NonTraitableError struct {
	Reason Reason
}

func NewNonTraitableError(reason Reason) *NonTraitableError {
	return &NonTraitableError{Reason: reason}
}

func (e *NonTraitableError) Error() string {
	return fmt.Sprintf("profil non traitable: %s", e.Reason)
}

// Message returns the user-facing message for the reason code, degrading to a
// generic message for codes this build does not know about.
func (e *NonTraitableError) Message() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return genericReasonMessage
}

func (e *NonTraitableError) Is(target error) bool {
	_, ok := target.(*NonTraitableError)
	return ok
}

// Federation callback stage identifiers. Each failure of the callback state
// machine is tagged with the stage it failed at so operators can diagnose a
// broken login without a stack of nested exception types.
const (
	StageAuthorize         = "AUTHORIZE"
	StageCallbackParams    = "CALLBACK_PARAMS"
	StageSession           = "SESSION_NOT_FOUND"
	StageUpstreamToken     = "UPSTREAM_TOKEN"
	StageUserinfo          = "USERINFO"
	StageProfileUpsert     = "PROFILE_UPSERT"
	StageGrant             = "GRANT"
	StageTokenSave         = "TOKEN_SAVE"
	StageInteractionFinish = "INTERACTION_FINISH"
)

// AuthError reports a federation callback failure at a named stage.
type AuthError struct {
	Stage string
	cause error
}

func NewAuthError(stage string, cause error) *AuthError {
	return &AuthError{Stage: stage, cause: cause}
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("échec d'authentification [%s]: %v", e.Stage, e.cause)
	}
	return fmt.Sprintf("échec d'authentification [%s]", e.Stage)
}

func (e *AuthError) Unwrap() error { return e.cause }

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Stage == "" || t.Stage == e.Stage
}

// JWTErrorCode mirrors the underlying JOSE error taxonomy.
type JWTErrorCode string

const (
	JWTExpired       JWTErrorCode = "ERR_JWT_EXPIRED"
	JWTNoMatchingKey JWTErrorCode = "ERR_JWKS_NO_MATCHING_KEY"
	JWTMalformed     JWTErrorCode = "ERR_JWT_MALFORMED"
	JWTInvalid       JWTErrorCode = "ERR_JWS_SIGNATURE_VERIFICATION_FAILED"
)

// JWTError reports a local bearer-token verification failure.
type JWTError struct {
	Code  JWTErrorCode
	cause error
}

func NewJWTError(code JWTErrorCode, cause error) *JWTError {
	return &JWTError{Code: code, cause: cause}
}

func (e *JWTError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("jwt invalide [%s]: %v", e.Code, e.cause)
	}
	return fmt.Sprintf("jwt invalide [%s]", e.Code)
}

func (e *JWTError) Unwrap() error { return e.cause }

func (e *JWTError) Is(target error) bool {
	t, ok := target.(*JWTError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}
