// Package federation drives the authorize→callback→profile-resolution→
// session-creation sequence against one upstream identity provider. One
// parameterized Client serves every provider; instances are selected from the
// configuration-driven Registry rather than a per-provider class hierarchy.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"idbroker/internal/account"
	"idbroker/internal/audit"
	"idbroker/internal/idp"
	"idbroker/internal/op"
	"idbroker/internal/profile"
	"idbroker/internal/token"
	domainerrors "idbroker/pkg/domain-errors"
)

// ProfileAPI is the slice of the profile service the callback needs.
type ProfileAPI interface {
	PutUser(ctx context.Context, sub string, req profile.PutUserRequest) (*profile.User, error)
}

// TokenWriter persists upstream tokens captured during the callback.
type TokenWriter interface {
	Set(ctx context.Context, a account.Account, t token.Type, data token.Data) error
}

// ConfigWriter persists the per-account issuer/client configuration the
// refresh path later reads.
type ConfigWriter interface {
	Set(ctx context.Context, a account.Account, cfg token.AccountConfig) error
}

// ResourceServer identifies the API the broker mints scoped tokens for.
type ResourceServer struct {
	URL   string
	Scope string
}

// Deps groups the collaborators shared by every federation client.
type Deps struct {
	Engine         op.Engine
	Profiles       ProfileAPI
	Tokens         TokenWriter
	Configs        ConfigWriter
	ResourceServer ResourceServer
	Audit          audit.Publisher
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client federates logins against one upstream provider for one (user type,
// user structure) population.
type Client struct {
	key  idp.Key
	cfg  *idp.Config
	deps Deps

	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
}

// NewClient builds the client for one population. When the configuration
// carries explicit endpoint URLs they are used as-is; otherwise the issuer's
// discovery document is fetched, falling back to the backup issuer.
func NewClient(ctx context.Context, key idp.Key, cfg *idp.Config, deps Deps) (*Client, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}

	c := &Client{key: key, cfg: cfg, deps: deps, now: time.Now}

	endpoint := oauth2.Endpoint{
		AuthURL:   cfg.AuthorizationEndpoint,
		TokenURL:  cfg.TokenEndpoint,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	jwksURL := cfg.JWKSEndpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" || jwksURL == "" {
		provider, err := discoverProvider(ctx, cfg, deps.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("federation %s: %w", key, err)
		}
		endpoint = provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		c.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		var claims struct {
			UserinfoEndpoint string `json:"userinfo_endpoint"`
		}
		if err := provider.Claims(&claims); err == nil && cfg.UserinfoEndpoint == "" {
			cfg.UserinfoEndpoint = claims.UserinfoEndpoint
		}
	} else {
		keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, deps.HTTPClient), jwksURL)
		c.verifier = oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID})
	}

	c.oauth = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       splitScopes(cfg.Scopes),
	}
	return c, nil
}

func discoverProvider(ctx context.Context, cfg *idp.Config, httpClient *http.Client) (*oidc.Provider, error) {
	ctx = oidc.ClientContext(ctx, httpClient)
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err == nil {
		return provider, nil
	}
	if cfg.BackupIssuer == "" {
		return nil, fmt.Errorf("découverte OIDC %s: %w", cfg.Issuer, err)
	}
	provider, backupErr := oidc.NewProvider(ctx, cfg.BackupIssuer)
	if backupErr != nil {
		return nil, fmt.Errorf("découverte OIDC %s (et backup %s): %w", cfg.Issuer, cfg.BackupIssuer, errors.Join(err, backupErr))
	}
	return provider, nil
}

// Key returns the population this client serves.
func (c *Client) Key() idp.Key { return c.key }

// AuthorizationURL builds the upstream authorization URL for a suspended
// interaction. The interaction id rides as the OIDC nonce; state defaults to
// the interaction id when the caller supplies none.
func (c *Client) AuthorizationURL(interactionID, state string) (string, error) {
	if c.oauth.Endpoint.AuthURL == "" || c.oauth.ClientID == "" {
		return "", domainerrors.NewAuthError(domainerrors.StageAuthorize, errors.New("configuration du fournisseur incomplète"))
	}
	if _, err := url.Parse(c.oauth.Endpoint.AuthURL); err != nil {
		return "", domainerrors.NewAuthError(domainerrors.StageAuthorize, err)
	}
	if state == "" {
		state = interactionID
	}
	opts := []oauth2.AuthCodeOption{oidc.Nonce(interactionID)}
	if c.cfg.Realm != "" {
		opts = append(opts, oauth2.SetAuthURLParam("realm", c.cfg.Realm))
	}
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// Callback resolves the upstream redirect into tokens and profile data,
// reconciles the canonical account, and resumes the suspended local
// authorization transaction. Every stage failure is tagged with its stage
// identifier.
func (c *Client) Callback(w http.ResponseWriter, r *http.Request) error {
	ctx := oidc.ClientContext(r.Context(), c.deps.HTTPClient)

	code, err := c.callbackParams(r)
	if err != nil {
		return c.failed(err)
	}

	interaction, err := c.deps.Engine.InteractionDetails(ctx, w, r)
	if err != nil {
		// A stale or missing session must never wedge the client: tear the
		// session down and clear its cookies so the next attempt starts
		// clean.
		if destroyErr := c.deps.Engine.DestroySession(ctx, w, r); destroyErr != nil {
			c.deps.Logger.Warn("destruction de session échouée", "population", c.key, "error", destroyErr)
		}
		return c.failed(domainerrors.NewAuthError(domainerrors.StageSession, err))
	}

	upstream, sub, err := c.exchangeCode(ctx, interaction, r, code)
	if err != nil {
		return c.failed(err)
	}

	info, err := c.userinfo(ctx, upstream)
	if err != nil {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageUserinfo, err))
	}
	if sub == "" {
		sub = info.Sub
	}
	if sub == "" {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageUserinfo, errors.New("sub absent de l'userinfo")))
	}

	if c.isBeneficiary() && c.cfg.ProfileDetailEndpoint != "" {
		if err := c.overrideWithProfileDetail(ctx, upstream, info); err != nil {
			// Enrichment only; the userinfo fields stay usable.
			profileDetailFallbacksTotal.WithLabelValues(string(c.key.Structure)).Inc()
			c.deps.Logger.Warn("profil détaillé indisponible, repli sur l'userinfo",
				"population", c.key.String(), "error", err)
		}
	}

	user, err := c.deps.Profiles.PutUser(ctx, sub, profile.PutUserRequest{
		Nom:       info.FamilyName,
		Prenom:    info.GivenName,
		Email:     info.Email,
		Username:  info.PreferredUsername,
		Type:      string(c.key.Type),
		Structure: string(c.key.Structure),
	})
	if err != nil {
		// A rejected profile keeps its reason code; no local session is
		// created for it.
		var nonTraitable *domainerrors.NonTraitableError
		if errors.As(err, &nonTraitable) {
			c.auditFailure(string(nonTraitable.Reason))
			return err
		}
		return c.failed(domainerrors.NewAuthError(domainerrors.StageProfileUpsert, err))
	}

	// The profile service is authoritative for routing: it may reattach the
	// account to another type/structure than the upstream asserted.
	acct := account.Account{
		Type:      account.UserType(user.UserType),
		Structure: account.UserStructure(user.UserStructure),
		Sub:       sub,
	}
	if err := account.Validate(acct); err != nil {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageProfileUpsert, err))
	}
	accountID := account.Encode(acct)

	grantID, err := c.establishGrant(ctx, interaction, string(accountID))
	if err != nil {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageGrant, err))
	}

	if err := c.persistTokens(ctx, acct, upstream); err != nil {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageTokenSave, err))
	}

	result := &op.InteractionResult{
		AccountID:     string(accountID),
		GrantID:       grantID,
		UserType:      user.UserType,
		UserStructure: user.UserStructure,
		UserID:        user.UserID,
		UserRoles:     user.UserRoles,
		Nom:           user.FamilyName,
		Prenom:        user.GivenName,
		Email:         user.Email,
		Username:      user.PreferredUsername,
	}
	if err := c.deps.Engine.InteractionFinished(ctx, w, r, result); err != nil {
		return c.failed(domainerrors.NewAuthError(domainerrors.StageInteractionFinish, err))
	}

	loginsTotal.WithLabelValues(string(c.key.Type), string(c.key.Structure)).Inc()
	c.deps.Audit.Emit(audit.Event{
		Action:        audit.ActionLoginSucceeded,
		AccountID:     string(accountID),
		UserType:      user.UserType,
		UserStructure: user.UserStructure,
	})
	return nil
}

// callbackParams extracts and checks the redirect parameters. The subject of
// any bearer/id token riding along is logged for diagnostics; its absence is
// not a failure.
func (c *Client) callbackParams(r *http.Request) (string, error) {
	q := r.URL.Query()
	if upstreamErr := q.Get("error"); upstreamErr != "" {
		return "", domainerrors.NewAuthError(domainerrors.StageCallbackParams,
			fmt.Errorf("erreur du fournisseur: %s (%s)", upstreamErr, q.Get("error_description")))
	}
	code := q.Get("code")
	if code == "" {
		return "", domainerrors.NewAuthError(domainerrors.StageCallbackParams, errors.New("code absent du callback"))
	}
	c.logTokenSubject(r)
	return code, nil
}

// logTokenSubject best-effort extracts the sub claim from a bearer token on
// the callback request, for operator diagnosis of cross-population logins.
func (c *Client) logTokenSubject(r *http.Request) {
	raw := r.URL.Query().Get("id_token")
	if raw == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			raw = auth[7:]
		}
	}
	if raw == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		c.deps.Logger.Info("callback reçu", "population", c.key.String(), "sub", sub)
	}
}

// exchangeCode trades the authorization code for upstream tokens and checks
// nonce and state against the suspended interaction.
func (c *Client) exchangeCode(ctx context.Context, interaction *op.Interaction, r *http.Request, code string) (*oauth2.Token, string, error) {
	expectedState := interaction.ID
	if s, ok := interaction.Params["state"].(string); ok && s != "" {
		expectedState = s
	}
	if got := r.URL.Query().Get("state"); got != "" && got != expectedState {
		return nil, "", domainerrors.NewAuthError(domainerrors.StageUpstreamToken, errors.New("state inattendu"))
	}

	upstream, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", domainerrors.NewAuthError(domainerrors.StageUpstreamToken, err)
	}

	var sub string
	if rawIDToken, ok := upstream.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := c.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, "", domainerrors.NewAuthError(domainerrors.StageUpstreamToken, err)
		}
		if idToken.Nonce != interaction.ID {
			return nil, "", domainerrors.NewAuthError(domainerrors.StageUpstreamToken, errors.New("nonce inattendu"))
		}
		sub = idToken.Subject
	}
	return upstream, sub, nil
}

type userinfoClaims struct {
	Sub               string `json:"sub"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

func (c *Client) userinfo(ctx context.Context, upstream *oauth2.Token) (*userinfoClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+upstream.AccessToken)

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: statut %d", resp.StatusCode)
	}

	var claims userinfoClaims
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (c *Client) isBeneficiary() bool {
	return c.key.Type == account.TypeJeune
}

// overrideWithProfileDetail replaces name/email with the richer upstream
// profile record available for beneficiary accounts.
func (c *Client) overrideWithProfileDetail(ctx context.Context, upstream *oauth2.Token, info *userinfoClaims) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProfileDetailEndpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+upstream.AccessToken)

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("profil détaillé: statut %d", resp.StatusCode)
	}

	var detail struct {
		Prenom string `json:"prenom"`
		Nom    string `json:"nom"`
		Email  string `json:"mail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&detail); err != nil {
		return err
	}
	if detail.Prenom != "" {
		info.GivenName = detail.Prenom
	}
	if detail.Nom != "" {
		info.FamilyName = detail.Nom
	}
	if detail.Email != "" {
		info.Email = detail.Email
	}
	return nil
}

// establishGrant creates or extends the authorization grant with the OIDC
// scopes plus the configured resource-server scope.
func (c *Client) establishGrant(ctx context.Context, interaction *op.Interaction, accountID string) (string, error) {
	var grant *op.Grant
	if interaction.GrantID != "" {
		existing, err := c.deps.Engine.FindGrant(ctx, interaction.GrantID)
		if err != nil {
			return "", err
		}
		grant = existing
	}
	if grant == nil {
		grant = &op.Grant{AccountID: accountID, ClientID: interaction.ClientID}
	}
	for _, scope := range []string{"openid", "profile", "email"} {
		grant.AddOIDCScope(scope)
	}
	if c.deps.ResourceServer.URL != "" {
		grant.AddResourceScope(c.deps.ResourceServer.URL, c.deps.ResourceServer.Scope)
	}
	return c.deps.Engine.SaveGrant(ctx, grant)
}

// persistTokens stores the upstream tokens under the canonical account, along
// with the issuer/client record the refresh path reconstructs its client
// from.
func (c *Client) persistTokens(ctx context.Context, acct account.Account, upstream *oauth2.Token) error {
	accessExpiresIn := int64(c.cfg.AccessTokenMaxAge / time.Second)
	if !upstream.Expiry.IsZero() {
		accessExpiresIn = int64(upstream.Expiry.Sub(c.now()) / time.Second)
	}
	scope, _ := upstream.Extra("scope").(string)
	if err := c.deps.Tokens.Set(ctx, acct, token.TypeAccess, token.Data{
		Token:     upstream.AccessToken,
		ExpiresIn: accessExpiresIn,
		ExpiresAt: c.now().Unix() + accessExpiresIn,
		Scope:     scope,
	}); err != nil {
		return err
	}

	if upstream.RefreshToken != "" {
		refreshExpiresIn := int64(c.cfg.RefreshTokenMaxAge / time.Second)
		if c.cfg.PreferProviderRefreshExpiry {
			if v, ok := upstream.Extra("refresh_expires_in").(float64); ok && v > 0 {
				refreshExpiresIn = int64(v)
			}
		}
		if err := c.deps.Tokens.Set(ctx, acct, token.TypeRefresh, token.Data{
			Token:     upstream.RefreshToken,
			ExpiresIn: refreshExpiresIn,
			ExpiresAt: c.now().Unix() + refreshExpiresIn,
		}); err != nil {
			return err
		}
	}

	return c.deps.Configs.Set(ctx, acct, token.AccountConfig{
		Issuer:                      c.cfg.Issuer,
		Realm:                       c.cfg.Realm,
		TokenEndpoint:               c.oauth.Endpoint.TokenURL,
		ClientID:                    c.cfg.ClientID,
		ClientSecret:                c.cfg.ClientSecret,
		Scopes:                      c.cfg.Scopes,
		AccessTokenMaxAgeSeconds:    int64(c.cfg.AccessTokenMaxAge / time.Second),
		RefreshTokenMaxAgeSeconds:   int64(c.cfg.RefreshTokenMaxAge / time.Second),
		PreferProviderRefreshExpiry: c.cfg.PreferProviderRefreshExpiry,
	})
}

// failed records the failure before returning it.
func (c *Client) failed(err error) error {
	var authErr *domainerrors.AuthError
	stage := ""
	if errors.As(err, &authErr) {
		stage = authErr.Stage
	}
	loginFailuresTotal.WithLabelValues(string(c.key.Type), string(c.key.Structure), stage).Inc()
	c.auditFailure(stage)
	c.deps.Logger.Error("échec du callback de fédération", "population", c.key.String(), "stage", stage, "error", err)
	return err
}

func (c *Client) auditFailure(reason string) {
	c.deps.Audit.Emit(audit.Event{
		Action:        audit.ActionLoginFailed,
		UserType:      string(c.key.Type),
		UserStructure: string(c.key.Structure),
		Reason:        reason,
	})
}

func splitScopes(scopes string) []string {
	return strings.FieldsFunc(scopes, func(r rune) bool { return r == ' ' || r == ',' })
}
