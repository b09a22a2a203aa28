package tokenvalidator

// Strategy selects how a token is validated.
type Strategy string

const (
	// StrategyLocal verifies the JWT signature locally. Its result is not
	// cached and the introspection endpoint is never called; the realm's
	// public key set is still read through the cache.
	StrategyLocal Strategy = "LOCAL"
	// StrategyIntrospection always performs a server round-trip, cached
	// under introspection_cache_ttl.
	StrategyIntrospection Strategy = "INTROSPECTION"
	// StrategyDual validates locally first; on local failure it falls
	// back to introspection; on local success (and non-critical) it
	// kicks off a background introspection for defense in depth.
	StrategyDual Strategy = "DUAL"
	// StrategyAdaptive picks LOCAL for tokens younger than 5 minutes,
	// else DUAL.
	StrategyAdaptive Strategy = "ADAPTIVE"
	// StrategyCachedIntrospection always introspects but caches
	// aggressively; identical cache behavior to StrategyIntrospection.
	StrategyCachedIntrospection Strategy = "CACHED_INTROSPECTION"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyLocal, StrategyIntrospection, StrategyDual, StrategyAdaptive, StrategyCachedIntrospection:
		return true
	default:
		return false
	}
}
