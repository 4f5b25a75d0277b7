// Package idp holds the per-provider upstream configuration records and the
// router that maps a (user type, user structure) pair onto one of them.
package idp

import (
	"time"

	"idbroker/internal/account"
)

// Config describes one upstream identity provider client. Records are loaded
// once at startup and never mutated afterwards.
type Config struct {
	Issuer       string
	BackupIssuer string
	Realm        string

	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSEndpoint          string
	UserinfoEndpoint      string
	// ProfileDetailEndpoint is a richer upstream profile API used to override
	// name/email for beneficiary accounts. Empty when the provider has none.
	ProfileDetailEndpoint string

	ClientID     string
	ClientSecret string
	Scopes       string
	RedirectURI  string
	LogoutURL    string

	// Default token lifetimes, used when the provider response carries no
	// expires_in / refresh_expires_in.
	AccessTokenMaxAge  time.Duration
	RefreshTokenMaxAge time.Duration

	// PreferProviderRefreshExpiry keeps the provider-returned
	// refresh_expires_in ahead of RefreshTokenMaxAge. The precedence differs
	// across providers, so it stays configurable instead of being unified.
	PreferProviderRefreshExpiry bool
}

// Key identifies one federated population.
type Key struct {
	Type      account.UserType
	Structure account.UserStructure
}

func (k Key) String() string {
	return string(k.Type) + "/" + string(k.Structure)
}
