package op

import (
	"context"
	"net/url"
)

// TokenRequest is one parsed token endpoint call routed to a custom grant
// handler.
type TokenRequest struct {
	GrantType string
	ClientID  string
	Form      url.Values
}

// Param returns a single form parameter, empty when absent.
func (r *TokenRequest) Param(name string) string {
	return r.Form.Get(name)
}

// TokenResponse is the success body the token endpoint writes.
type TokenResponse struct {
	IssuedTokenType string `json:"issued_token_type,omitempty"`
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in,omitempty"`
	Scope           string `json:"scope,omitempty"`
}

// GrantHandler implements one custom grant type. Handlers return
// ProtocolError values; anything else is rendered as a server_error.
type GrantHandler interface {
	Handle(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
}

// GrantRegistry dispatches token endpoint calls to registered custom grant
// handlers. Registration happens once at startup.
type GrantRegistry struct {
	handlers map[string]GrantHandler
}

func NewGrantRegistry() *GrantRegistry {
	return &GrantRegistry{handlers: make(map[string]GrantHandler)}
}

// Register binds a handler to a grant_type value.
func (g *GrantRegistry) Register(grantType string, handler GrantHandler) {
	g.handlers[grantType] = handler
}

// Handle routes the request to its grant handler.
func (g *GrantRegistry) Handle(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	handler, ok := g.handlers[req.GrantType]
	if !ok {
		return nil, NewUnsupportedGrantType(req.GrantType)
	}
	return handler.Handle(ctx, req)
}
