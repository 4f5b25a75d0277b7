// Package statestore persists the authorization-server engine's protocol
// state (grants, codes, tokens, sessions) in Redis. The engine treats it as a
// generic keyed adapter; this package owns the key scheme, the TTL rules, the
// per-grant cascade lists and the secondary lookup indices.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Model names the engine persists through the adapter.
const (
	ModelGrant                            = "Grant"
	ModelSession                          = "Session"
	ModelInteraction                      = "Interaction"
	ModelAccessToken                      = "AccessToken"
	ModelAuthorizationCode                = "AuthorizationCode"
	ModelRefreshToken                     = "RefreshToken"
	ModelDeviceCode                       = "DeviceCode"
	ModelClientCredentials                = "ClientCredentials"
	ModelReplayDetection                  = "ReplayDetection"
	ModelPushedAuthorizationRequest       = "PushedAuthorizationRequest"
	ModelBackchannelAuthenticationRequest = "BackchannelAuthenticationRequest"
)

// consumable models keep a one-time "consumed" marker instead of being
// deleted, so the engine can detect replay. They are stored as a hash with
// payload and consumed fields; every other model is a plain serialized value.
var consumable = map[string]bool{
	ModelAuthorizationCode:                true,
	ModelRefreshToken:                     true,
	ModelDeviceCode:                       true,
	ModelBackchannelAuthenticationRequest: true,
}

// grantable models may be attached to a grant and are cascade-revoked with it.
var grantable = map[string]bool{
	ModelAccessToken:                      true,
	ModelAuthorizationCode:                true,
	ModelRefreshToken:                     true,
	ModelDeviceCode:                       true,
	ModelBackchannelAuthenticationRequest: true,
}

// Payload is the engine-owned record body. The adapter only inspects the
// grantId, uid and userCode fields to maintain its indices.
type Payload map[string]any

func (p Payload) stringField(name string) string {
	v, ok := p[name].(string)
	if !ok {
		return ""
	}
	return v
}

// GrantID returns the owning grant identifier, empty when the record is not
// attached to a grant.
func (p Payload) GrantID() string { return p.stringField("grantId") }

// UID returns the session uid index value when present.
func (p Payload) UID() string { return p.stringField("uid") }

// UserCode returns the device-flow user code index value when present.
func (p Payload) UserCode() string { return p.stringField("userCode") }

// Consumed returns the epoch second at which the record was consumed, zero
// when it never was.
func (p Payload) Consumed() int64 {
	switch v := p["consumed"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Store carries the shared Redis client; Adapter binds it to one model name.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for consumed markers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used to report degraded reads.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Adapter exposes the engine-facing operations for one model.
type Adapter struct {
	store *Store
	model string
}

// Adapter returns the adapter bound to the given model name.
func (s *Store) Adapter(model string) *Adapter {
	return &Adapter{store: s, model: model}
}

func (a *Adapter) key(id string) string  { return a.model + ":" + id }
func grantKey(grantID string) string     { return "grant:" + grantID }
func uidKey(uid string) string           { return "uid:" + uid }
func userCodeKey(userCode string) string { return "userCode:" + userCode }

// Upsert writes the primary record with its TTL, appends grantable records to
// their grant's cascade list (extending the list TTL monotonically, never
// shrinking it) and maintains the uid/userCode secondary indices. All writes
// for one call execute in a single transaction.
func (a *Adapter) Upsert(ctx context.Context, id string, payload Payload, expiresIn time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	key := a.key(id)

	// The grant list TTL is only ever extended. Read the remaining TTL before
	// queuing the transaction so the comparison and the extension stay on this
	// call's snapshot.
	var extendGrant string
	if grantable[a.model] {
		if grantID := payload.GrantID(); grantID != "" {
			extendGrant = grantKey(grantID)
		}
	}
	var grantTTL time.Duration
	if extendGrant != "" {
		ttl, err := a.store.client.TTL(ctx, extendGrant).Result()
		if err != nil {
			return err
		}
		grantTTL = ttl
	}

	pipe := a.store.client.TxPipeline()
	if consumable[a.model] {
		pipe.HSet(ctx, key, "payload", raw)
	} else {
		pipe.Set(ctx, key, raw, 0)
	}
	if expiresIn > 0 {
		pipe.Expire(ctx, key, expiresIn)
	}
	if extendGrant != "" {
		pipe.RPush(ctx, extendGrant, key)
		if expiresIn > grantTTL {
			pipe.Expire(ctx, extendGrant, expiresIn)
		}
	}
	if uid := payload.UID(); uid != "" {
		pipe.Set(ctx, uidKey(uid), id, expiresIn)
	}
	if userCode := payload.UserCode(); userCode != "" {
		pipe.Set(ctx, userCodeKey(userCode), id, expiresIn)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Find reads and deserializes the record. A missing or empty record returns
// (nil, nil); read failures degrade to "not found" as well so a routine cache
// miss never hard-fails the engine.
func (a *Adapter) Find(ctx context.Context, id string) (Payload, error) {
	key := a.key(id)

	var (
		raw      string
		consumed string
	)
	if consumable[a.model] {
		data, err := a.store.client.HGetAll(ctx, key).Result()
		if err != nil {
			return a.degrade(key, err)
		}
		raw = data["payload"]
		consumed = data["consumed"]
	} else {
		data, err := a.store.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return a.degrade(key, err)
		}
		raw = data
	}
	if raw == "" {
		return nil, nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return a.degrade(key, err)
	}
	if consumed != "" {
		var epoch int64
		if err := json.Unmarshal([]byte(consumed), &epoch); err == nil {
			payload["consumed"] = epoch
		}
	}
	return payload, nil
}

func (a *Adapter) degrade(key string, err error) (Payload, error) {
	a.store.logger.Warn("state store read degraded to not found", "key", key, "error", err)
	return nil, nil
}

// FindByUID resolves a record through the uid secondary index.
func (a *Adapter) FindByUID(ctx context.Context, uid string) (Payload, error) {
	return a.findIndirect(ctx, uidKey(uid))
}

// FindByUserCode resolves a record through the userCode secondary index.
func (a *Adapter) FindByUserCode(ctx context.Context, userCode string) (Payload, error) {
	return a.findIndirect(ctx, userCodeKey(userCode))
}

func (a *Adapter) findIndirect(ctx context.Context, indexKey string) (Payload, error) {
	id, err := a.store.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return a.degrade(indexKey, err)
	}
	return a.Find(ctx, id)
}

// Destroy deletes the primary record.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	return a.store.client.Del(ctx, a.key(id)).Err()
}

// RevokeByGrantID deletes every key ever upserted under the grant plus the
// grant list itself, in one transaction. Revoking a grant revokes every token
// issued under it.
func (a *Adapter) RevokeByGrantID(ctx context.Context, grantID string) error {
	listKey := grantKey(grantID)
	members, err := a.store.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := a.store.client.TxPipeline()
	for _, member := range members {
		pipe.Del(ctx, member)
	}
	pipe.Del(ctx, listKey)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return err
	}
	revokedKeysTotal.Add(float64(len(members)))
	return nil
}

// Consume marks a consumable record with the current epoch second. The record
// stays readable; a second consume attempt is observable through the non-empty
// consumed field. The first timestamp wins so a replay cannot rewrite when the
// record was originally used.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	return a.store.client.HSetNX(ctx, a.key(id), "consumed", a.store.now().Unix()).Err()
}
