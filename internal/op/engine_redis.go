package op

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"idbroker/internal/audit"
	"idbroker/internal/statestore"
)

// Cookie names follow the engine's browser-facing conventions.
const (
	interactionCookie = "_interaction"
	sessionCookie     = "_session"
)

// Lifetimes of the engine records the broker owns.
const (
	interactionTTL = 10 * time.Minute
	sessionTTL     = 14 * 24 * time.Hour
	grantTTL       = 14 * 24 * time.Hour
)

// RedisEngine implements Engine on top of the protocol state adapter. It
// covers the interaction/session/grant lifecycle the federation callback
// drives; token minting stays with the engine's own endpoints.
type RedisEngine struct {
	interactions *statestore.Adapter
	sessions     *statestore.Adapter
	grants       *statestore.Adapter
	audit        audit.Publisher
}

// EngineOption configures a RedisEngine.
type EngineOption func(*RedisEngine)

// WithAudit sets the publisher grant revocations are reported to.
func WithAudit(p audit.Publisher) EngineOption {
	return func(e *RedisEngine) { e.audit = p }
}

func NewRedisEngine(store *statestore.Store, opts ...EngineOption) *RedisEngine {
	e := &RedisEngine{
		interactions: store.Adapter(statestore.ModelInteraction),
		sessions:     store.Adapter(statestore.ModelSession),
		grants:       store.Adapter(statestore.ModelGrant),
		audit:        audit.Discard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrNoInteraction reports a callback arriving with no live suspended
// interaction.
var ErrNoInteraction = errors.New("aucune interaction en cours")

func interactionID(r *http.Request) string {
	if c, err := r.Cookie(interactionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("interaction")
}

func (e *RedisEngine) InteractionDetails(ctx context.Context, _ http.ResponseWriter, r *http.Request) (*Interaction, error) {
	id := interactionID(r)
	if id == "" {
		return nil, ErrNoInteraction
	}
	payload, err := e.interactions.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, ErrNoInteraction
	}

	interaction := &Interaction{ID: id}
	if params, ok := payload["params"].(map[string]any); ok {
		interaction.Params = params
		if clientID, ok := params["client_id"].(string); ok {
			interaction.ClientID = clientID
		}
	}

	// A session already bound to the same client carries a grant to extend
	// instead of creating a fresh one.
	if sid := sessionID(r); sid != "" && interaction.ClientID != "" {
		session, err := e.sessions.Find(ctx, sid)
		if err != nil {
			return nil, err
		}
		if grants, ok := session["grants"].(map[string]any); ok {
			if grantID, ok := grants[interaction.ClientID].(string); ok {
				interaction.GrantID = grantID
			}
		}
	}
	return interaction, nil
}

func sessionID(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (e *RedisEngine) InteractionFinished(ctx context.Context, w http.ResponseWriter, r *http.Request, result *InteractionResult) error {
	id := interactionID(r)
	if id == "" {
		return ErrNoInteraction
	}
	payload, err := e.interactions.Find(ctx, id)
	if err != nil {
		return err
	}
	if payload == nil {
		return ErrNoInteraction
	}

	sid := sessionID(r)
	var session statestore.Payload
	if sid != "" {
		if session, err = e.sessions.Find(ctx, sid); err != nil {
			return err
		}
	}
	if session == nil {
		sid = uuid.NewString()
		session = statestore.Payload{"uid": uuid.NewString()}
	}
	session["accountId"] = result.AccountID
	grants, ok := session["grants"].(map[string]any)
	if !ok {
		grants = make(map[string]any)
	}
	if params, ok := payload["params"].(map[string]any); ok && result.GrantID != "" {
		if clientID, ok := params["client_id"].(string); ok {
			grants[clientID] = result.GrantID
		}
	}
	session["grants"] = grants
	if err := e.sessions.Upsert(ctx, sid, session, sessionTTL); err != nil {
		return err
	}

	payload["result"] = result
	if err := e.interactions.Upsert(ctx, id, payload, interactionTTL); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL / time.Second),
	})

	if returnTo, ok := payload["returnTo"].(string); ok && returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusFound)
	}
	return nil
}

func (e *RedisEngine) FindGrant(ctx context.Context, grantID string) (*Grant, error) {
	payload, err := e.grants.Find(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var grant Grant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return nil, err
	}
	grant.ID = grantID
	return &grant, nil
}

func (e *RedisEngine) SaveGrant(ctx context.Context, grant *Grant) (string, error) {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	raw, err := json.Marshal(grant)
	if err != nil {
		return "", err
	}
	var payload statestore.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	if err := e.grants.Upsert(ctx, grant.ID, payload, grantTTL); err != nil {
		return "", err
	}
	return grant.ID, nil
}

// DestroySession removes the stored session, revokes its grants and every
// token issued under them, and clears the browser cookies.
func (e *RedisEngine) DestroySession(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if sid := sessionID(r); sid != "" {
		session, err := e.sessions.Find(ctx, sid)
		if err != nil {
			return err
		}
		if grants, ok := session["grants"].(map[string]any); ok {
			for _, v := range grants {
				if grantID, ok := v.(string); ok {
					if err := e.grants.RevokeByGrantID(ctx, grantID); err != nil {
						return err
					}
					if err := e.grants.Destroy(ctx, grantID); err != nil {
						return err
					}
					accountID, _ := session["accountId"].(string)
					e.audit.Emit(audit.Event{
						Action:    audit.ActionGrantRevoked,
						AccountID: accountID,
					})
				}
			}
		}
		if err := e.sessions.Destroy(ctx, sid); err != nil {
			return err
		}
	}
	for _, name := range []string{sessionCookie, interactionCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	return nil
}
