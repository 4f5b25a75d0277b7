package op

import (
	"context"
	"net/http"
)

// Interaction is a suspended local authorization transaction, loaded through
// the engine from the browser's interaction cookie.
type Interaction struct {
	// ID doubles as the nonce sent to the upstream provider.
	ID     string
	Params map[string]any
	// GrantID is non-empty when the session already carries a grant for the
	// requesting client, in which case the callback extends it.
	GrantID  string
	ClientID string
}

// Grant binds an account, a client and the scopes/resources consented to. It
// owns every token later issued under it.
type Grant struct {
	ID             string
	AccountID      string
	ClientID       string
	OIDCScopes     []string
	ResourceScopes map[string][]string
}

// AddOIDCScope records a granted OIDC scope, once.
func (g *Grant) AddOIDCScope(scope string) {
	for _, s := range g.OIDCScopes {
		if s == scope {
			return
		}
	}
	g.OIDCScopes = append(g.OIDCScopes, scope)
}

// AddResourceScope records a granted scope for a resource indicator, once.
func (g *Grant) AddResourceScope(resource, scope string) {
	if g.ResourceScopes == nil {
		g.ResourceScopes = make(map[string][]string)
	}
	for _, s := range g.ResourceScopes[resource] {
		if s == scope {
			return
		}
	}
	g.ResourceScopes[resource] = append(g.ResourceScopes[resource], scope)
}

// InteractionResult is handed back to the engine to resume the suspended
// authorization request after a successful federation callback.
type InteractionResult struct {
	AccountID     string
	GrantID       string
	UserType      string
	UserStructure string
	UserID        string
	UserRoles     []string
	Nom           string
	Prenom        string
	Email         string
	Username      string
}

// Engine is the black-box authorization server the broker configures and
// delegates protocol mechanics to.
type Engine interface {
	// InteractionDetails loads the suspended interaction tied to the request's
	// cookies.
	InteractionDetails(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Interaction, error)
	// InteractionFinished resumes the interaction with the federation result
	// and writes the engine's redirect to the response.
	InteractionFinished(ctx context.Context, w http.ResponseWriter, r *http.Request, result *InteractionResult) error
	// FindGrant returns nil when the grant does not exist.
	FindGrant(ctx context.Context, grantID string) (*Grant, error)
	// SaveGrant persists the grant and returns its id, allocating one for new
	// grants.
	SaveGrant(ctx context.Context, grant *Grant) (string, error)
	// DestroySession tears down the engine session bound to the request and
	// clears its cookies. Used to recover from stale-session callbacks.
	DestroySession(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}
