package tokenvalidator

import "time"

// Config holds the validator's tunables.
type Config struct {
	KeycloakAdminRealm    string
	JWTAlgorithm          string
	VerifyAudience        bool
	VerifyIssuer          bool
	TokenCacheTTL         time.Duration
	IntrospectionCacheTTL time.Duration
	PublicKeyCacheTTL     time.Duration
	RefreshThreshold      time.Duration
}

func (c Config) withDefaults() Config {
	if c.JWTAlgorithm == "" {
		c.JWTAlgorithm = "RS256"
	}
	if c.TokenCacheTTL <= 0 {
		c.TokenCacheTTL = 60 * time.Second
	}
	if c.IntrospectionCacheTTL <= 0 {
		c.IntrospectionCacheTTL = 60 * time.Second
	}
	if c.PublicKeyCacheTTL <= 0 {
		c.PublicKeyCacheTTL = time.Hour
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = 5 * time.Minute
	}
	return c
}
