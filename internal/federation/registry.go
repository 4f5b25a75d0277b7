package federation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"idbroker/internal/account"
	"idbroker/internal/idp"
)

// Registry holds one federation client per canonical population. Lookups go
// through the idp router so structure aliases resolve to the same client as
// their canonical structure.
type Registry struct {
	router  *idp.Router
	clients map[idp.Key]*Client
}

// NewRegistry builds a client for every population the router knows.
// Discovery of the configured issuers fans out in parallel; a provider whose
// discovery fails aborts startup rather than surfacing at the first login.
func NewRegistry(ctx context.Context, router *idp.Router, deps Deps) (*Registry, error) {
	clients := make(map[idp.Key]*Client)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range router.Keys() {
		cfg, err := router.Resolve(key.Type, key.Structure)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			client, err := NewClient(gctx, key, cfg, deps)
			if err != nil {
				return err
			}
			mu.Lock()
			clients[key] = client
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Registry{router: router, clients: clients}, nil
}

// Lookup returns the client serving the given population, resolving structure
// aliases first.
func (r *Registry) Lookup(t account.UserType, s account.UserStructure) (*Client, error) {
	canonical := idp.Canonical(s)
	client, ok := r.clients[idp.Key{Type: t, Structure: canonical}]
	if !ok {
		return nil, fmt.Errorf("aucun fournisseur pour %s/%s", t, s)
	}
	return client, nil
}

// Clients returns every registered client, for route registration.
func (r *Registry) Clients() map[idp.Key]*Client {
	return r.clients
}
