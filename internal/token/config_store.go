package token

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"idbroker/internal/account"
)

// AccountConfig is the upstream issuer/client configuration captured at first
// login. Different accounts of the same (type, structure) may have been issued
// under different upstream realm contexts, so the refresh path reads this
// persisted record instead of re-routing through the static configuration.
type AccountConfig struct {
	Issuer        string `json:"issuer"`
	Realm         string `json:"realm,omitempty"`
	TokenEndpoint string `json:"tokenEndpoint"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	Scopes        string `json:"scopes,omitempty"`

	AccessTokenMaxAgeSeconds  int64 `json:"accessTokenMaxAge,omitempty"`
	RefreshTokenMaxAgeSeconds int64 `json:"refreshTokenMaxAge,omitempty"`

	PreferProviderRefreshExpiry bool `json:"preferProviderRefreshExpiry,omitempty"`
}

// ConfigStore persists AccountConfig records. They live as long as a refresh
// token possibly could, and every login rewrites them (last write wins).
type ConfigStore struct {
	client redis.UniversalClient
}

func NewConfigStore(client redis.UniversalClient) *ConfigStore {
	return &ConfigStore{client: client}
}

func configKey(id account.ID) string {
	return "account-config:" + string(id)
}

// Get returns the stored configuration or (nil, nil) when none is stored.
func (s *ConfigStore) Get(ctx context.Context, a account.Account) (*AccountConfig, error) {
	raw, err := s.client.Get(ctx, configKey(account.Encode(a))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg AccountConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Set persists the configuration for as long as a refresh token could remain
// usable.
func (s *ConfigStore) Set(ctx context.Context, a account.Account, cfg AccountConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, configKey(account.Encode(a)), raw, DefaultRefreshTTL).Err()
}
