package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"idbroker/internal/account"
	"idbroker/internal/audit"
	domainerrors "idbroker/pkg/domain-errors"
)

// minValidity is the refresh-ahead threshold: a stored access token with less
// remaining validity than this is refreshed instead of returned.
const minValidity = 10 * time.Second

// Refresher serves access tokens for an account, refreshing them through the
// upstream token endpoint when the stored one is absent or about to expire.
//
// Two concurrent calls for the same account that both observe an expiring
// token will both refresh and both write; last write wins. Upstream single-use
// refresh-token semantics are not defended against here, and a failed upstream
// refresh is reported, never retried. Retry policy belongs to the caller.
type Refresher struct {
	tokens     *Store
	configs    *ConfigStore
	httpClient *http.Client
	logger     *slog.Logger
	audit      audit.Publisher
	now        func() time.Time
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithHTTPClient overrides the HTTP client used for upstream refresh calls.
func WithHTTPClient(c *http.Client) RefresherOption {
	return func(r *Refresher) { r.httpClient = c }
}

// WithClock injects the time source used for validity checks.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithLogger sets the refresher logger.
func WithLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = logger }
}

// WithAudit sets the publisher successful refreshes are reported to.
func WithAudit(p audit.Publisher) RefresherOption {
	return func(r *Refresher) { r.audit = p }
}

func NewRefresher(tokens *Store, configs *ConfigStore, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		tokens:     tokens,
		configs:    configs,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default(),
		audit:      audit.Discard{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetAccessToken returns the stored access token unchanged while its remaining
// validity exceeds the refresh-ahead threshold, and otherwise performs one
// upstream refresh and persists the result.
func (r *Refresher) GetAccessToken(ctx context.Context, a account.Account) (*Data, error) {
	stored, err := r.tokens.Get(ctx, a, TypeAccess)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		remaining := time.Unix(stored.ExpiresAt, 0).Sub(r.now())
		if remaining > minValidity {
			cacheHitsTotal.Inc()
			return stored, nil
		}
	}
	return r.refresh(ctx, a)
}

func (r *Refresher) refresh(ctx context.Context, a account.Account) (*Data, error) {
	accountID := account.Encode(a)

	refreshToken, err := r.tokens.Get(ctx, a, TypeRefresh)
	if err != nil {
		return nil, err
	}
	if refreshToken == nil {
		return nil, domainerrors.NewNonTrouveError("Token", string(accountID))
	}

	cfg, err := r.configs.Get(ctx, a)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		// Distinct from a missing refresh token: the account logged in before
		// per-account configuration records existed, or the record expired.
		return nil, domainerrors.NewNonTrouveError("ConfigurationClientIdp", string(accountID))
	}

	upstream, err := r.refreshUpstream(ctx, cfg, refreshToken.Token)
	if err != nil {
		refreshFailuresTotal.Inc()
		return nil, fmt.Errorf("refresh upstream du token: %w", err)
	}
	refreshesTotal.Inc()
	r.audit.Emit(audit.Event{
		Action:        audit.ActionTokenRefreshed,
		AccountID:     string(accountID),
		UserType:      string(a.Type),
		UserStructure: string(a.Structure),
	})

	accessData := r.accessData(upstream, cfg)
	if err := r.tokens.Set(ctx, a, TypeAccess, *accessData); err != nil {
		return nil, err
	}

	// Providers that rotate refresh tokens return a new one alongside the
	// access token.
	if upstream.RefreshToken != "" && upstream.RefreshToken != refreshToken.Token {
		refreshData := r.refreshData(upstream, cfg)
		if err := r.tokens.Set(ctx, a, TypeRefresh, *refreshData); err != nil {
			r.logger.Error("échec de sauvegarde du refresh token", "compte", accountID, "error", err)
		}
	}

	return accessData, nil
}

func (r *Refresher) refreshUpstream(ctx context.Context, cfg *AccountConfig, refreshToken string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: cfg.TokenEndpoint,
			// Explicit style: the auto-probe would silently double the call
			// on a failing endpoint.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (r *Refresher) accessData(tok *oauth2.Token, cfg *AccountConfig) *Data {
	expiresIn := cfg.AccessTokenMaxAgeSeconds
	if !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(r.now()) / time.Second)
	}
	scope, _ := tok.Extra("scope").(string)
	return &Data{
		Token:     tok.AccessToken,
		ExpiresIn: expiresIn,
		ExpiresAt: r.now().Unix() + expiresIn,
		Scope:     scope,
	}
}

func (r *Refresher) refreshData(tok *oauth2.Token, cfg *AccountConfig) *Data {
	expiresIn := cfg.RefreshTokenMaxAgeSeconds
	if cfg.PreferProviderRefreshExpiry {
		if v := providerRefreshExpiry(tok); v > 0 {
			expiresIn = v
		}
	}
	return &Data{
		Token:     tok.RefreshToken,
		ExpiresIn: expiresIn,
		ExpiresAt: r.now().Unix() + expiresIn,
	}
}

// providerRefreshExpiry reads the non-standard refresh_expires_in field some
// providers (Keycloak) return alongside the standard response.
func providerRefreshExpiry(tok *oauth2.Token) int64 {
	switch v := tok.Extra("refresh_expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
