// Package profile calls the external canonical user-profile API. The profile
// service is authoritative for the (type, structure) routing of an account
// after its first login.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"idbroker/internal/account"
	domainerrors "idbroker/pkg/domain-errors"
	"idbroker/pkg/sentinel"
)

// User is the canonical profile. UserType/UserStructure may differ from what
// the upstream IdP asserted; they win.
type User struct {
	UserID            string   `json:"userId"`
	UserType          string   `json:"userType"`
	UserStructure     string   `json:"userStructure"`
	UserRoles         []string `json:"userRoles"`
	GivenName         string   `json:"given_name"`
	FamilyName        string   `json:"family_name"`
	Email             string   `json:"email"`
	PreferredUsername string   `json:"preferred_username"`
}

// PutUserRequest carries the profile fields asserted by the upstream provider
// for reconciliation.
type PutUserRequest struct {
	Nom       string `json:"nom,omitempty"`
	Prenom    string `json:"prenom,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Type      string `json:"type"`
	Structure string `json:"structure"`
	// Federation is set when the upstream subject should be linked to an
	// existing account found by external identifier.
	Federation string `json:"federation,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is the HTTP client for the profile API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = logger }
}

func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutUser upserts the profile keyed by upstream subject and returns the
// canonical record. A rejection carries a machine-readable reason code and
// surfaces as NonTraitableError.
func (c *Client) PutUser(ctx context.Context, sub string, req PutUserRequest) (*User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/auth/users/" + url.PathEscape(sub)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.apiKey)

	return c.do(httpReq)
}

// GetUser fetches the canonical profile for an already-federated account.
func (c *Client) GetUser(ctx context.Context, a account.Account) (*User, error) {
	endpoint := fmt.Sprintf("%s/auth/users/%s?typeUtilisateur=%s&structureUtilisateur=%s",
		c.baseURL, url.PathEscape(a.Sub), url.QueryEscape(string(a.Type)), url.QueryEscape(string(a.Structure)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (*User, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appel API profil: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("lecture réponse API profil: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domainerrors.NewNonTrouveError("Utilisateur", req.URL.Path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Code != "" {
			return nil, domainerrors.NewNonTraitableError(domainerrors.Reason(apiErr.Code))
		}
		return nil, domainerrors.NewNonTraitableError("")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("API profil statut %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("décodage réponse API profil: %w", err)
	}
	return &user, nil
}
