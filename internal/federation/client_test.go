package federation

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idbroker/internal/account"
	"idbroker/internal/audit"
	"idbroker/internal/idp"
	"idbroker/internal/op"
	"idbroker/internal/profile"
	"idbroker/internal/token"
	domainerrors "idbroker/pkg/domain-errors"
)

type fakeEngine struct {
	interaction *op.Interaction
	detailsErr  error
	finishErr   error

	destroyed  bool
	savedGrant *op.Grant
	finished   *op.InteractionResult
}

func (f *fakeEngine) InteractionDetails(context.Context, http.ResponseWriter, *http.Request) (*op.Interaction, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return f.interaction, nil
}

func (f *fakeEngine) InteractionFinished(_ context.Context, _ http.ResponseWriter, _ *http.Request, result *op.InteractionResult) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	f.finished = result
	return nil
}

func (f *fakeEngine) FindGrant(context.Context, string) (*op.Grant, error) { return nil, nil }

func (f *fakeEngine) SaveGrant(_ context.Context, g *op.Grant) (string, error) {
	f.savedGrant = g
	if g.ID == "" {
		g.ID = "grant-1"
	}
	return g.ID, nil
}

func (f *fakeEngine) DestroySession(context.Context, http.ResponseWriter, *http.Request) error {
	f.destroyed = true
	return nil
}

type fakeProfiles struct {
	user *profile.User
	err  error

	gotSub string
	gotReq profile.PutUserRequest
}

func (f *fakeProfiles) PutUser(_ context.Context, sub string, req profile.PutUserRequest) (*profile.User, error) {
	f.gotSub, f.gotReq = sub, req
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

// upstream is a minimal in-process provider: token, JWKS and userinfo
// endpoints backed by one RSA signing key.
type upstream struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	nonce         string
	refreshToken  string
	userinfo      map[string]any
	profileDetail map[string]any
	clientID      string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	u := &upstream{
		key:          key,
		refreshToken: "refresh-amont",
		clientID:     "client-local",
		userinfo: map[string]any{
			"sub":                "sub-1",
			"given_name":         "Jean",
			"family_name":        "Dupont",
			"email":              "jean@exemple.fr",
			"preferred_username": "jdupont",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.MapClaims{
			"iss":   u.srv.URL,
			"sub":   u.userinfo["sub"],
			"aud":   u.clientID,
			"exp":   time.Now().Add(time.Hour).Unix(),
			"iat":   time.Now().Unix(),
			"nonce": u.nonce,
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "kid-1"
		signed, err := tok.SignedString(u.key)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":       "access-amont",
			"token_type":         "Bearer",
			"expires_in":         300,
			"refresh_token":      u.refreshToken,
			"refresh_expires_in": 1800,
			"id_token":           signed,
			"scope":              "openid profile",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &u.key.PublicKey, KeyID: "kid-1", Algorithm: "RS256", Use: "sig",
		}}}
		json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(u.userinfo)
	})
	mux.HandleFunc("/profil", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(u.profileDetail)
	})

	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) config() *idp.Config {
	return &idp.Config{
		Issuer:                u.srv.URL,
		AuthorizationEndpoint: u.srv.URL + "/authorize",
		TokenEndpoint:         u.srv.URL + "/token",
		JWKSEndpoint:          u.srv.URL + "/jwks",
		UserinfoEndpoint:      u.srv.URL + "/userinfo",
		ClientID:              u.clientID,
		ClientSecret:          "secret",
		Scopes:                "openid profile email",
		RedirectURI:           "http://broker.test/auth/realms/pass-emploi/broker/milo/endpoint",
		AccessTokenMaxAge:     24 * time.Hour,
		RefreshTokenMaxAge:    6 * 30 * 24 * time.Hour,
	}
}

type harness struct {
	client   *Client
	engine   *fakeEngine
	profiles *fakeProfiles
	tokens   *token.Store
	configs  *token.ConfigStore
	sink     *audit.InMemoryStore
}

func newHarness(t *testing.T, u *upstream, key idp.Key, engine *fakeEngine, profiles *fakeProfiles) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sink := audit.NewInMemoryStore()
	h := &harness{
		engine:   engine,
		profiles: profiles,
		tokens:   token.NewStore(rdb),
		configs:  token.NewConfigStore(rdb),
		sink:     sink,
	}
	client, err := NewClient(context.Background(), key, u.config(), Deps{
		Engine:         engine,
		Profiles:       profiles,
		Tokens:         h.tokens,
		Configs:        h.configs,
		ResourceServer: ResourceServer{URL: "https://api.pass-emploi.fr", Scope: "api"},
		Audit:          syncPublisher{sink},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.client = client
	return h
}

// syncPublisher persists events inline, no worker needed in tests.
type syncPublisher struct{ store *audit.InMemoryStore }

func (p syncPublisher) Emit(e audit.Event) { _ = p.store.Append(context.Background(), e) }

func callbackRequest(code, state string) *http.Request {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	return httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil)
}

func TestAuthorizationURLCarriesNonceAndRealm(t *testing.T) {
	u := newUpstream(t)
	cfg := u.config()
	cfg.Realm = "agent"
	client, err := NewClient(context.Background(), idp.Key{Type: account.TypeConseiller, Structure: account.StructurePoleEmploi}, cfg, Deps{})
	require.NoError(t, err)

	raw, err := client.AuthorizationURL("interaction-1", "")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "interaction-1", parsed.Query().Get("nonce"))
	assert.Equal(t, "interaction-1", parsed.Query().Get("state"))
	assert.Equal(t, "agent", parsed.Query().Get("realm"))
	assert.Equal(t, cfg.ClientID, parsed.Query().Get("client_id"))
}

func TestAuthorizationURLRejectsIncompleteConfig(t *testing.T) {
	u := newUpstream(t)
	cfg := u.config()
	client, err := NewClient(context.Background(), idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, cfg, Deps{})
	require.NoError(t, err)
	client.oauth.Endpoint.AuthURL = ""

	_, err = client.AuthorizationURL("interaction-1", "")
	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageAuthorize, authErr.Stage)
}

func TestCallbackHappyPath(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1", ClientID: "client-aval"}}
	profiles := &fakeProfiles{user: &profile.User{
		UserID:            "user-42",
		UserType:          "JEUNE",
		UserStructure:     "MILO",
		UserRoles:         []string{"BENEFICIAIRE"},
		GivenName:         "Jean",
		FamilyName:        "Dupont",
		Email:             "jean@exemple.fr",
		PreferredUsername: "jdupont",
	}}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, profiles)

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))
	require.NoError(t, err)

	assert.Equal(t, "sub-1", profiles.gotSub)
	assert.Equal(t, "JEUNE", profiles.gotReq.Type)
	assert.Equal(t, "MILO", profiles.gotReq.Structure)

	require.NotNil(t, engine.savedGrant)
	assert.Equal(t, "JEUNE|MILO|sub-1", engine.savedGrant.AccountID)
	assert.Equal(t, "client-aval", engine.savedGrant.ClientID)
	assert.ElementsMatch(t, []string{"openid", "profile", "email"}, engine.savedGrant.OIDCScopes)
	assert.Equal(t, []string{"api"}, engine.savedGrant.ResourceScopes["https://api.pass-emploi.fr"])

	require.NotNil(t, engine.finished)
	assert.Equal(t, "JEUNE|MILO|sub-1", engine.finished.AccountID)
	assert.Equal(t, "grant-1", engine.finished.GrantID)
	assert.Equal(t, "user-42", engine.finished.UserID)
	assert.Equal(t, []string{"BENEFICIAIRE"}, engine.finished.UserRoles)

	acct := account.Account{Type: account.TypeJeune, Structure: account.StructureMilo, Sub: "sub-1"}
	access, err := h.tokens.Get(context.Background(), acct, token.TypeAccess)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.Equal(t, "access-amont", access.Token)

	refresh, err := h.tokens.Get(context.Background(), acct, token.TypeRefresh)
	require.NoError(t, err)
	require.NotNil(t, refresh)
	assert.Equal(t, "refresh-amont", refresh.Token)

	cfg, err := h.configs.Get(context.Background(), acct)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, u.srv.URL+"/token", cfg.TokenEndpoint)
	assert.Equal(t, "client-local", cfg.ClientID)

	events := h.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionLoginSucceeded, events[0].Action)
}

func TestCallbackProfileServiceControlsRouting(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1", ClientID: "client-aval"}}
	// The profile service reroutes the login to another structure than the
	// one the upstream asserted.
	profiles := &fakeProfiles{user: &profile.User{
		UserID:        "user-42",
		UserType:      "JEUNE",
		UserStructure: "POLE_EMPLOI_BRSA",
	}}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructurePoleEmploi}, engine, profiles)

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))
	require.NoError(t, err)
	assert.Equal(t, "JEUNE|POLE_EMPLOI_BRSA|sub-1", engine.finished.AccountID)
}

func TestCallbackUpstreamError(t *testing.T) {
	u := newUpstream(t)
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, &fakeProfiles{})

	r := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied&error_description=annule", nil)
	err := h.client.Callback(httptest.NewRecorder(), r)

	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageCallbackParams, authErr.Stage)
	assert.Nil(t, engine.finished)
}

func TestCallbackMissingCode(t *testing.T) {
	u := newUpstream(t)
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, &fakeEngine{}, &fakeProfiles{})

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("", ""))

	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageCallbackParams, authErr.Stage)
}

func TestCallbackStaleSessionDestroysIt(t *testing.T) {
	u := newUpstream(t)
	engine := &fakeEngine{detailsErr: errors.New("session inconnue")}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, &fakeProfiles{})

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", ""))

	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageSession, authErr.Stage)
	assert.True(t, engine.destroyed)
}

func TestCallbackNonceMismatch(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "autre-nonce"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, &fakeProfiles{})

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))

	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageUpstreamToken, authErr.Stage)
	assert.Nil(t, engine.finished)
}

func TestCallbackStateMismatch(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, &fakeProfiles{})

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "etat-falsifie"))

	var authErr *domainerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domainerrors.StageUpstreamToken, authErr.Stage)
}

func TestCallbackNonTraitableProfilePassesThrough(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	profiles := &fakeProfiles{err: domainerrors.NewNonTraitableError(domainerrors.ReasonUtilisateurInexistant)}
	h := newHarness(t, u, idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, engine, profiles)

	err := h.client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))

	var nonTraitable *domainerrors.NonTraitableError
	require.ErrorAs(t, err, &nonTraitable)
	assert.Equal(t, domainerrors.ReasonUtilisateurInexistant, nonTraitable.Reason)
	assert.Nil(t, engine.finished)

	events := h.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionLoginFailed, events[0].Action)
	assert.Equal(t, string(domainerrors.ReasonUtilisateurInexistant), events[0].Reason)
}

func TestCallbackProfileDetailOverride(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	u.profileDetail = map[string]any{"prenom": "Jeanne", "nom": "Durand", "mail": "jeanne@exemple.fr"}
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	profiles := &fakeProfiles{user: &profile.User{UserType: "JEUNE", UserStructure: "MILO"}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := u.config()
	cfg.ProfileDetailEndpoint = u.srv.URL + "/profil"
	client, err := NewClient(context.Background(), idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, cfg, Deps{
		Engine:   engine,
		Profiles: profiles,
		Tokens:   token.NewStore(rdb),
		Configs:  token.NewConfigStore(rdb),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	err = client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))
	require.NoError(t, err)
	assert.Equal(t, "Durand", profiles.gotReq.Nom)
	assert.Equal(t, "jeanne@exemple.fr", profiles.gotReq.Email)
}

func TestCallbackProfileDetailFailureFallsBackToUserinfo(t *testing.T) {
	u := newUpstream(t)
	u.nonce = "interaction-1"
	engine := &fakeEngine{interaction: &op.Interaction{ID: "interaction-1"}}
	profiles := &fakeProfiles{user: &profile.User{UserType: "JEUNE", UserStructure: "MILO"}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := u.config()
	cfg.ProfileDetailEndpoint = u.srv.URL + "/profil-indisponible"
	client, err := NewClient(context.Background(), idp.Key{Type: account.TypeJeune, Structure: account.StructureMilo}, cfg, Deps{
		Engine:   engine,
		Profiles: profiles,
		Tokens:   token.NewStore(rdb),
		Configs:  token.NewConfigStore(rdb),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	err = client.Callback(httptest.NewRecorder(), callbackRequest("code-1", "interaction-1"))
	require.NoError(t, err, "un profil détaillé injoignable ne doit pas bloquer la connexion")
	assert.Equal(t, "Dupont", profiles.gotReq.Nom)
	assert.Equal(t, "jean@exemple.fr", profiles.gotReq.Email)
	assert.Equal(t, "Jean", profiles.gotReq.Prenom)
}
