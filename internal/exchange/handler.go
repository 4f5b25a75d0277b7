// Package exchange implements the RFC 8693 token-exchange grant: a verified
// local access token is traded for the account's stored upstream token. This
// is the only layer that translates domain errors into OAuth protocol errors.
package exchange

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"idbroker/internal/account"
	"idbroker/internal/audit"
	"idbroker/internal/op"
	"idbroker/internal/token"
	domainerrors "idbroker/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// GrantType is the grant_type value this handler serves.
const GrantType = "urn:ietf:params:oauth:grant-type:token-exchange"

// accessTokenType is both the only accepted subject_token_type and the
// issued_token_type of every response.
const accessTokenType = "urn:ietf:params:oauth:token-type:access_token"

// SubjectVerifier validates a locally issued access token and returns its
// claims.
type SubjectVerifier interface {
	Verify(tokenString string) (jwt.MapClaims, error)
}

// TokenSource serves the upstream access token for an account, refreshing it
// when needed.
type TokenSource interface {
	GetAccessToken(ctx context.Context, a account.Account) (*token.Data, error)
}

// Handler implements op.GrantHandler for the token-exchange grant.
type Handler struct {
	verifier SubjectVerifier
	tokens   TokenSource
	audit    audit.Publisher
	logger   *slog.Logger
}

type Option func(*Handler)

func WithAudit(p audit.Publisher) Option {
	return func(h *Handler) { h.audit = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(verifier SubjectVerifier, tokens TokenSource, opts ...Option) *Handler {
	h := &Handler{
		verifier: verifier,
		tokens:   tokens,
		audit:    audit.Discard{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle validates the subject token, resolves the target account and returns
// its upstream access token. The subject's sub claim names the account;
// requested_token_sub substitutes another account id, for callers exchanging
// on behalf of a user they act for.
func (h *Handler) Handle(ctx context.Context, req *op.TokenRequest) (*op.TokenResponse, error) {
	subjectToken := req.Param("subject_token")
	if subjectToken == "" {
		return nil, op.NewInvalidGrant("subject_token manquant")
	}
	if typ := req.Param("subject_token_type"); typ != accessTokenType {
		return nil, op.NewInvalidRequest("subject_token_type non supporté")
	}

	claims, err := h.verifier.Verify(subjectToken)
	if err != nil {
		h.logger.Info("subject_token rejeté", "client_id", req.ClientID, "error", err)
		return nil, op.NewInvalidGrant("subject_token invalide")
	}

	accountID, _ := claims["sub"].(string)
	if requested := req.Param("requested_token_sub"); requested != "" {
		accountID = requested
	}

	acct, err := account.Decode(account.ID(accountID))
	if err != nil {
		return nil, op.NewInvalidGrant("sub invalide")
	}

	data, err := h.tokens.GetAccessToken(ctx, acct)
	if err != nil {
		var nonTrouve *domainerrors.NonTrouveError
		if errors.As(err, &nonTrouve) {
			return nil, op.NewInvalidTarget("aucun token pour ce compte")
		}
		return nil, err
	}
	if data == nil {
		return nil, op.NewInvalidTarget("aucun token pour ce compte")
	}

	exchangesTotal.WithLabelValues(string(acct.Type), string(acct.Structure)).Inc()
	h.audit.Emit(audit.Event{
		Action:        audit.ActionTokenExchanged,
		AccountID:     accountID,
		UserType:      string(acct.Type),
		UserStructure: string(acct.Structure),
		ClientID:      req.ClientID,
	})

	return &op.TokenResponse{
		IssuedTokenType: accessTokenType,
		AccessToken:     data.Token,
		TokenType:       "bearer",
		ExpiresIn:       data.ExpiresIn,
		Scope:           data.Scope,
	}, nil
}
