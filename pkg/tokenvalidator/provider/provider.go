// Package provider implements the identity-provider client capability set:
// introspect, refresh, jwks, and logout.
package provider

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// RealmInfo is the subset of OIDC discovery metadata the validator needs
// to check standard claims.
type RealmInfo struct {
	IssuerURL string
	Audience  string
}

// TokenPair is the result of a successful refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IntrospectionResult is the normalized RFC 7662 introspection response.
type IntrospectionResult struct {
	Active    bool
	Subject   string
	ExpiresAt time.Time
	Extra     map[string]any
}

// Provider is the identity-provider client contract. A concrete
// implementation discovers per-realm OIDC metadata and talks to the
// realm's introspection/token/logout endpoints.
type Provider interface {
	// Realm returns cacheable discovery metadata for a realm.
	Realm(ctx context.Context, realm string) (RealmInfo, error)
	// PublicKeys returns the realm's current signing keyset (JWKS).
	PublicKeys(ctx context.Context, realm string) (*jose.JSONWebKeySet, error)
	// Introspect performs a server-side token introspection round-trip.
	Introspect(ctx context.Context, realm, token string) (IntrospectionResult, error)
	// Refresh exchanges a refresh token for a new token pair.
	Refresh(ctx context.Context, realm, refreshToken string) (TokenPair, error)
	// Logout invalidates a refresh token at the provider (RP-initiated
	// logout / Keycloak session revocation).
	Logout(ctx context.Context, realm, refreshToken string) error
}
