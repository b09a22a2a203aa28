package tokenvalidator

import "time"

// Claims is the normalized result of a successful validation, local or
// introspected.
type Claims struct {
	Subject   string
	Realm     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  []string
	Extra     map[string]any
}

// Age reports how long ago the token was issued.
func (c Claims) Age(now time.Time) time.Duration {
	if c.IssuedAt.IsZero() {
		return 0
	}
	return now.Sub(c.IssuedAt)
}

// TimeToExpiry reports the remaining lifetime, clamped to zero.
func (c Claims) TimeToExpiry(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
