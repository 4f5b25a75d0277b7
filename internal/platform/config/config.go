// Package config loads the broker configuration from environment variables so
// main stays lean. Provider records are grouped under one prefix per upstream
// population.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"idbroker/internal/account"
	"idbroker/internal/idp"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	PublicBaseURL   string
	ShutdownTimeout time.Duration
}

// Redis captures the session/token store connection settings.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres captures the audit store connection. Empty URL disables the
// persistent audit sink.
type Postgres struct {
	URL string
}

// Profile captures the downstream profile service client settings.
type Profile struct {
	BaseURL string
	APIKey  string
}

// Resource names the API the broker mints scoped tokens for.
type Resource struct {
	URL   string
	Scope string
}

// RateLimit bounds per-IP calls on the authentication endpoints.
type RateLimit struct {
	Requests int64
	Window   time.Duration
}

// Config is the full broker configuration.
type Config struct {
	Server    Server
	Redis     Redis
	Postgres  Postgres
	Profile   Profile
	Resource  Resource
	RateLimit RateLimit
	LogLevel  string

	Providers map[idp.Key]*idp.Config
}

// envPrefixes maps each canonical population onto its environment prefix.
// Aliased structures need no prefix of their own.
var envPrefixes = map[idp.Key]string{
	{Type: account.TypeJeune, Structure: account.StructureMilo}:             "IDP_MILO_JEUNE",
	{Type: account.TypeConseiller, Structure: account.StructureMilo}:        "IDP_MILO_CONSEILLER",
	{Type: account.TypeJeune, Structure: account.StructurePoleEmploi}:       "IDP_PE_JEUNE",
	{Type: account.TypeConseiller, Structure: account.StructurePoleEmploi}:  "IDP_PE_CONSEILLER",
	{Type: account.TypeConseiller, Structure: account.StructureConseilDept}: "IDP_CD_CONSEILLER",
}

// FromEnv builds the configuration from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: Server{
			Addr:            envOr("IDBROKER_ADDR", ":5050"),
			PublicBaseURL:   envOr("IDBROKER_PUBLIC_BASE_URL", "http://localhost:5050"),
			ShutdownTimeout: envDuration("IDBROKER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: Redis{
			URL:          envOr("REDIS_URL", "redis://localhost:6379"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("DATABASE_URL"),
		},
		Profile: Profile{
			BaseURL: os.Getenv("PROFILE_API_BASE_URL"),
			APIKey:  os.Getenv("PROFILE_API_KEY"),
		},
		Resource: Resource{
			URL:   os.Getenv("RESOURCE_SERVER_URL"),
			Scope: envOr("RESOURCE_SERVER_SCOPE", "api"),
		},
		RateLimit: RateLimit{
			Requests: int64(envInt("IDBROKER_RATE_LIMIT", 30)),
			Window:   envDuration("IDBROKER_RATE_WINDOW", time.Minute),
		},
		LogLevel:  envOr("LOG_LEVEL", "info"),
		Providers: make(map[idp.Key]*idp.Config),
	}
	if cfg.Profile.BaseURL == "" {
		return nil, fmt.Errorf("config: PROFILE_API_BASE_URL is required")
	}

	for key, prefix := range envPrefixes {
		provider, err := providerFromEnv(prefix, cfg.Server.PublicBaseURL, key)
		if err != nil {
			return nil, err
		}
		cfg.Providers[key] = provider
	}
	return cfg, nil
}

func providerFromEnv(prefix, publicBaseURL string, key idp.Key) (*idp.Config, error) {
	issuer := os.Getenv(prefix + "_ISSUER")
	clientID := os.Getenv(prefix + "_CLIENT_ID")
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("config: %s_ISSUER and %s_CLIENT_ID are required", prefix, prefix)
	}
	redirect := os.Getenv(prefix + "_REDIRECT_URI")
	if redirect == "" {
		redirect = fmt.Sprintf("%s/auth/callback/%s/%s",
			publicBaseURL,
			strings.ToLower(string(key.Structure)),
			strings.ToLower(string(key.Type)))
	}
	return &idp.Config{
		Issuer:                issuer,
		BackupIssuer:          os.Getenv(prefix + "_BACKUP_ISSUER"),
		Realm:                 os.Getenv(prefix + "_REALM"),
		AuthorizationEndpoint: os.Getenv(prefix + "_AUTHORIZATION_ENDPOINT"),
		TokenEndpoint:         os.Getenv(prefix + "_TOKEN_ENDPOINT"),
		JWKSEndpoint:          os.Getenv(prefix + "_JWKS_ENDPOINT"),
		UserinfoEndpoint:      os.Getenv(prefix + "_USERINFO_ENDPOINT"),
		ProfileDetailEndpoint: os.Getenv(prefix + "_PROFILE_DETAIL_ENDPOINT"),
		ClientID:              clientID,
		ClientSecret:          os.Getenv(prefix + "_CLIENT_SECRET"),
		Scopes:                envOr(prefix+"_SCOPES", "openid profile email"),
		RedirectURI:           redirect,
		LogoutURL:             os.Getenv(prefix + "_LOGOUT_URL"),
		AccessTokenMaxAge:     envDuration(prefix+"_ACCESS_TOKEN_MAX_AGE", 24*time.Hour),
		RefreshTokenMaxAge:    envDuration(prefix+"_REFRESH_TOKEN_MAX_AGE", 6*30*24*time.Hour),

		PreferProviderRefreshExpiry: os.Getenv(prefix+"_PREFER_PROVIDER_REFRESH_EXPIRY") == "true",
	}, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
