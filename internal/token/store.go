// Package token persists upstream access and refresh tokens per account and
// serves them with refresh-ahead semantics.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"idbroker/internal/account"
)

// Type discriminates the two stored token kinds.
type Type string

const (
	TypeAccess  Type = "access_token"
	TypeRefresh Type = "refresh_token"
)

// Storage TTL defaults, applied when the provider response carried no
// expiry for the token.
const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 6 * 30 * 24 * time.Hour
)

// Data is the stored token record. ExpiresAt is authoritative for validity
// checks; ExpiresIn is kept for engine responses.
type Data struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// Store keeps token records in Redis keyed by (account, type). Absence of a
// record means the token was never issued or already expired and was evicted.
type Store struct {
	client redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func tokenKey(id account.ID, t Type) string {
	return "token:" + string(id) + ":" + string(t)
}

// Get returns the stored token or (nil, nil) when none is stored.
func (s *Store) Get(ctx context.Context, a account.Account, t Type) (*Data, error) {
	raw, err := s.client.Get(ctx, tokenKey(account.Encode(a), t)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Set persists the token with TTL equal to its expiresIn when provided, else
// the type-specific default.
func (s *Store) Set(ctx context.Context, a account.Account, t Type, data Data) error {
	ttl := defaultTTL(t)
	if data.ExpiresIn > 0 {
		ttl = time.Duration(data.ExpiresIn) * time.Second
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tokenKey(account.Encode(a), t), raw, ttl).Err()
}

func defaultTTL(t Type) time.Duration {
	if t == TypeRefresh {
		return DefaultRefreshTTL
	}
	return DefaultAccessTTL
}
