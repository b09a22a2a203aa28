// Package tokenvalidator implements a cache-backed wrapper around an
// identity-provider client offering local, introspected, and hybrid token
// validation strategies, refresh coalescing, and revocation.
package tokenvalidator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/neocache/pkg/cacheerr"
	"github.com/wisbric/neocache/pkg/tokenvalidator/provider"
)

// RefreshStatus reports the outcome of RefreshIfNeeded.
type RefreshStatus string

const (
	RefreshSkipped   RefreshStatus = "SKIPPED"
	RefreshInProgress RefreshStatus = "IN_PROGRESS"
	RefreshCompleted RefreshStatus = "COMPLETED"
)

// ValidateOptions configures one ValidateToken call.
type ValidateOptions struct {
	Realm         string
	Critical      bool
	Strategy      Strategy
	CacheResult   bool
	IncludeMetrics bool
}

// ValidationResult is the outcome of ValidateToken.
type ValidationResult struct {
	Valid    bool
	Claims   *Claims
	Strategy Strategy
	Cached   bool
}

// RefreshResult is the outcome of RefreshIfNeeded.
type RefreshResult struct {
	Status RefreshStatus
	Tokens *provider.TokenPair
}

// BatchResult aggregates BatchValidateTokens.
type BatchResult struct {
	Results   []ValidationResult
	Succeeded int
	Failed    int
}

// Validator wraps a Cache and a provider.Provider.
type Validator struct {
	cache    Cache
	provider provider.Provider
	cfg      Config
	logger   *slog.Logger

	localSuccess, localFailure           atomic.Int64
	introspectSuccess, introspectFailure atomic.Int64
	cacheHits, cacheMisses               atomic.Int64

	metricsMu sync.Mutex

	now func() time.Time
}

// New constructs a Validator.
func New(cache Cache, prov provider.Provider, cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cache:    cache,
		provider: prov,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

func introspectCacheKey(hash string) string { return "auth:introspect:" + hash }
func revokedKey(hash string) string         { return "auth:revoked:" + hash }
func publicKeyKey(realm string) string      { return "auth:realm:" + realm + ":public_key" }
func refreshLockKey(userID string) string   { return "auth:refresh_lock:" + userID }
func userTokensKey(userID string) string    { return "auth:user_tokens:" + userID }

const refreshLockTTL = 60 * time.Second

// ValidateToken validates a token per the requested strategy, checking
// revocation first and degrading strategy per critical/ADAPTIVE rules.
func (v *Validator) ValidateToken(ctx context.Context, token string, opts ValidateOptions) (ValidationResult, error) {
	if !opts.Strategy.valid() {
		return ValidationResult{}, fmt.Errorf("validate token: unknown strategy %q", opts.Strategy)
	}

	revoked, err := v.IsTokenRevoked(ctx, token)
	if err != nil {
		v.logger.Warn("revocation check failed, treating as not revoked", "error", err)
	}
	if revoked {
		return ValidationResult{}, &cacheerr.UnauthorizedToken{Reason: "token revoked"}
	}

	strategy := v.resolveStrategy(opts, token)
	start := v.now()
	defer func() {
		v.recordTiming(ctx, opts.Realm, strings.ToLower(string(strategy)), v.now().Sub(start), start)
	}()

	switch strategy {
	case StrategyLocal:
		claims, err := v.localValidate(ctx, token, opts.Realm)
		if err != nil {
			v.localFailure.Add(1)
			return ValidationResult{}, &cacheerr.UnauthorizedToken{Reason: err.Error()}
		}
		v.localSuccess.Add(1)
		return ValidationResult{Valid: true, Claims: claims, Strategy: strategy}, nil

	case StrategyIntrospection, StrategyCachedIntrospection:
		return v.introspectValidate(ctx, token, opts)

	case StrategyDual:
		claims, localErr := v.localValidate(ctx, token, opts.Realm)
		if localErr == nil {
			v.localSuccess.Add(1)
			if !opts.Critical {
				go v.backgroundIntrospect(token, opts)
			}
			return ValidationResult{Valid: true, Claims: claims, Strategy: strategy}, nil
		}
		v.localFailure.Add(1)
		return v.introspectValidate(ctx, token, opts)

	default:
		return ValidationResult{}, fmt.Errorf("validate token: unhandled strategy %q", strategy)
	}
}

// resolveStrategy applies the critical-forces-introspection and
// ADAPTIVE-by-token-age rules.
func (v *Validator) resolveStrategy(opts ValidateOptions, token string) Strategy {
	if opts.Critical {
		return StrategyIntrospection
	}
	if opts.Strategy != StrategyAdaptive {
		return opts.Strategy
	}
	age := v.peekAge(token)
	if age <= 5*time.Minute {
		return StrategyLocal
	}
	return StrategyDual
}

// peekAge reads the iat claim without verifying the signature, used only
// to pick an ADAPTIVE strategy.
func (v *Validator) peekAge(token string) time.Duration {
	tok, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.HS256,
	})
	if err != nil {
		return 0
	}
	var claims josejwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil || claims.IssuedAt == nil {
		return 0
	}
	return v.now().Sub(claims.IssuedAt.Time())
}

func (v *Validator) backgroundIntrospect(token string, opts ValidateOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := v.introspectValidate(ctx, token, opts); err != nil {
		v.logger.Debug("background introspection after dual-strategy local success failed", "error", err)
	}
}

// introspectValidate implements the cached introspection path shared by
// INTROSPECTION, CACHED_INTROSPECTION, and DUAL's fallback.
func (v *Validator) introspectValidate(ctx context.Context, token string, opts ValidateOptions) (ValidationResult, error) {
	hash := tokenHash(token)
	key := introspectCacheKey(hash)

	if raw, found, err := v.cache.Get(ctx, key); err == nil && found {
		var claims Claims
		if err := json.Unmarshal(raw, &claims); err == nil {
			v.cacheHits.Add(1)
			return ValidationResult{Valid: true, Claims: &claims, Strategy: opts.Strategy, Cached: true}, nil
		}
	}
	v.cacheMisses.Add(1)

	result, err := v.provider.Introspect(ctx, opts.Realm, token)
	if err != nil {
		v.introspectFailure.Add(1)
		return ValidationResult{}, fmt.Errorf("introspecting token: %w", err)
	}
	if !result.Active {
		v.introspectFailure.Add(1)
		return ValidationResult{}, &cacheerr.UnauthorizedToken{Reason: "introspection reports token inactive"}
	}
	v.introspectSuccess.Add(1)

	claims := &Claims{
		Subject:   result.Subject,
		Realm:     opts.Realm,
		ExpiresAt: result.ExpiresAt,
		Extra:     result.Extra,
	}

	if opts.CacheResult {
		if raw, err := json.Marshal(claims); err == nil {
			if err := v.cache.Set(ctx, key, raw, v.cfg.IntrospectionCacheTTL); err != nil {
				v.logger.Warn("caching introspection result failed", "error", err)
			} else {
				v.trackUserToken(ctx, claims.Subject, hash)
			}
		}
	}

	return ValidationResult{Valid: true, Claims: claims, Strategy: opts.Strategy}, nil
}

// trackUserToken appends a token hash to the user's index so
// ClearUserTokens can find cached entries to invalidate.
func (v *Validator) trackUserToken(ctx context.Context, userID, hash string) {
	if userID == "" {
		return
	}
	key := userTokensKey(userID)
	hashes := map[string]struct{}{}
	if raw, found, err := v.cache.Get(ctx, key); err == nil && found {
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			for _, h := range list {
				hashes[h] = struct{}{}
			}
		}
	}
	hashes[hash] = struct{}{}

	list := make([]string, 0, len(hashes))
	for h := range hashes {
		list = append(list, h)
	}
	if raw, err := json.Marshal(list); err == nil {
		_ = v.cache.Set(ctx, key, raw, v.cfg.IntrospectionCacheTTL)
	}
}

// localValidate fetches the realm's public keyset (cached), verifies the
// JWT signature, and validates standard claims, retrying once with
// issuer/audience checks relaxed on a mismatch.
func (v *Validator) localValidate(ctx context.Context, token, realm string) (*Claims, error) {
	keySet, err := v.getPublicKeySet(ctx, realm)
	if err != nil {
		return nil, fmt.Errorf("fetching public key for realm %q: %w", realm, err)
	}

	alg := jose.SignatureAlgorithm(v.cfg.JWTAlgorithm)
	tok, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{alg})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	key, err := findKey(keySet, tok)
	if err != nil {
		return nil, err
	}

	var registered josejwt.Claims
	var extra map[string]any
	if err := tok.Claims(key, &registered, &extra); err != nil {
		return nil, fmt.Errorf("verifying signature: %w", err)
	}

	realmInfo, err := v.provider.Realm(ctx, realm)
	if err != nil {
		return nil, fmt.Errorf("resolving realm metadata: %w", err)
	}

	expected := josejwt.Expected{Time: v.now()}
	if v.cfg.VerifyIssuer {
		expected.Issuer = realmInfo.IssuerURL
	}
	if v.cfg.VerifyAudience && realmInfo.Audience != "" {
		expected.AnyAudience = josejwt.Audience{realmInfo.Audience}
	}

	if valErr := registered.Validate(expected); valErr != nil {
		if errors.Is(valErr, josejwt.ErrInvalidIssuer) || errors.Is(valErr, josejwt.ErrInvalidAudience) {
			relaxed := josejwt.Expected{Time: v.now()}
			if relaxErr := registered.Validate(relaxed); relaxErr == nil {
				v.logger.Warn("relaxing issuer/audience verification after mismatch",
					"realm", realm, "error", valErr)
			} else {
				return nil, fmt.Errorf("validating claims: %w", valErr)
			}
		} else {
			return nil, fmt.Errorf("validating claims: %w", valErr)
		}
	}

	claims := &Claims{
		Subject:  registered.Subject,
		Realm:    realm,
		Issuer:   registered.Issuer,
		Audience: []string(registered.Audience),
		Extra:    extra,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time()
	}
	if registered.Expiry != nil {
		claims.ExpiresAt = registered.Expiry.Time()
	}
	return claims, nil
}

func findKey(keySet *jose.JSONWebKeySet, tok *josejwt.JSONWebToken) (any, error) {
	if len(tok.Headers) == 0 {
		return nil, fmt.Errorf("token has no protected header")
	}
	kid := tok.Headers[0].KeyID
	if kid != "" {
		if matches := keySet.Key(kid); len(matches) > 0 {
			return matches[0].Key, nil
		}
	}
	if len(keySet.Keys) == 1 {
		return keySet.Keys[0].Key, nil
	}
	return nil, fmt.Errorf("no matching signing key found (kid=%q, %d candidates)", kid, len(keySet.Keys))
}

// getPublicKeySet returns the realm's JWKS, cached under
// auth:realm:{realm}:public_key for public_key_cache_ttl.
func (v *Validator) getPublicKeySet(ctx context.Context, realm string) (*jose.JSONWebKeySet, error) {
	key := publicKeyKey(realm)
	if raw, found, err := v.cache.Get(ctx, key); err == nil && found {
		var keySet jose.JSONWebKeySet
		if err := json.Unmarshal(raw, &keySet); err == nil {
			return &keySet, nil
		}
	}

	keySet, err := v.provider.PublicKeys(ctx, realm)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(keySet); err == nil {
		if err := v.cache.Set(ctx, key, raw, v.cfg.PublicKeyCacheTTL); err != nil {
			v.logger.Warn("caching public key set failed", "realm", realm, "error", err)
		}
	}
	return keySet, nil
}

// RefreshIfNeeded coalesces concurrent refresh attempts for the same user
// behind a single lock, refreshing only when the access token is within
// refresh_threshold of expiry (unless forceRefresh is set).
func (v *Validator) RefreshIfNeeded(ctx context.Context, accessToken, refreshToken, realm string, forceRefresh bool) (RefreshResult, error) {
	tok, err := josejwt.ParseSigned(accessToken, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.HS256,
	})
	if err != nil {
		return RefreshResult{}, fmt.Errorf("parsing access token: %w", err)
	}
	var claims josejwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return RefreshResult{}, fmt.Errorf("reading access token claims: %w", err)
	}
	if claims.Subject == "" {
		return RefreshResult{}, fmt.Errorf("access token has no sub claim")
	}

	if !forceRefresh && claims.Expiry != nil {
		remaining := claims.Expiry.Time().Sub(v.now())
		if remaining > v.cfg.RefreshThreshold {
			return RefreshResult{Status: RefreshSkipped}, nil
		}
	}

	lockKey := refreshLockKey(claims.Subject)
	acquired, err := v.cache.SetNX(ctx, lockKey, []byte("1"), refreshLockTTL)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("acquiring refresh lock: %w", err)
	}
	if !acquired {
		return RefreshResult{Status: RefreshInProgress}, nil
	}
	defer func() {
		if err := v.cache.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			v.logger.Warn("releasing refresh lock failed", "user_id", claims.Subject, "error", err)
		}
	}()

	tokens, err := v.provider.Refresh(ctx, realm, refreshToken)
	if err != nil {
		return RefreshResult{}, &cacheerr.TokenRefreshFailed{UserID: claims.Subject, Cause: err}
	}

	if err := v.ClearUserTokens(ctx, claims.Subject); err != nil {
		v.logger.Warn("clearing cached tokens after refresh failed", "user_id", claims.Subject, "error", err)
	}

	return RefreshResult{Status: RefreshCompleted, Tokens: &tokens}, nil
}

// RevokeToken records a revocation with TTL equal to the token's
// remaining lifetime, clears its validation cache entry, and optionally
// invokes provider logout.
func (v *Validator) RevokeToken(ctx context.Context, token, realm, logoutRefreshToken string) error {
	hash := tokenHash(token)

	ttl := time.Duration(0)
	tok, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.HS256,
	})
	if err == nil {
		var claims josejwt.Claims
		if tok.UnsafeClaimsWithoutVerification(&claims) == nil && claims.Expiry != nil {
			if remaining := claims.Expiry.Time().Sub(v.now()); remaining > 0 {
				ttl = remaining
			}
		}
	}

	if err := v.cache.Set(ctx, revokedKey(hash), []byte("1"), ttl); err != nil {
		return &cacheerr.TokenRevocationFailed{TokenHash: hash, Cause: err}
	}
	if err := v.cache.Delete(ctx, introspectCacheKey(hash)); err != nil {
		v.logger.Warn("clearing validation cache on revoke failed", "token_hash", hash, "error", err)
	}

	if logoutRefreshToken != "" {
		if err := v.provider.Logout(ctx, realm, logoutRefreshToken); err != nil {
			return &cacheerr.TokenRevocationFailed{TokenHash: hash, Cause: err}
		}
	}
	return nil
}

// IsTokenRevoked reports whether a revocation record exists for the token.
func (v *Validator) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	_, found, err := v.cache.Get(ctx, revokedKey(tokenHash(token)))
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return found, nil
}

// ClearUserTokens invalidates every cached validation entry tracked for a
// user, e.g. after a refresh.
func (v *Validator) ClearUserTokens(ctx context.Context, userID string) error {
	key := userTokensKey(userID)
	raw, found, err := v.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading user token index: %w", err)
	}
	if !found {
		return nil
	}
	var hashes []string
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return fmt.Errorf("decoding user token index: %w", err)
	}
	for _, hash := range hashes {
		if err := v.cache.Delete(ctx, introspectCacheKey(hash)); err != nil {
			v.logger.Warn("clearing cached token during ClearUserTokens", "user_id", userID, "error", err)
		}
	}
	return v.cache.Delete(ctx, key)
}

// BatchValidateTokens validates each token independently, never aborting
// early on a single failure.
func (v *Validator) BatchValidateTokens(ctx context.Context, tokens []string, opts ValidateOptions) BatchResult {
	out := BatchResult{Results: make([]ValidationResult, len(tokens))}
	for i, token := range tokens {
		result, err := v.ValidateToken(ctx, token, opts)
		if err != nil {
			out.Failed++
			out.Results[i] = ValidationResult{Strategy: opts.Strategy}
			continue
		}
		out.Succeeded++
		out.Results[i] = result
	}
	return out
}

// GetValidationStatistics returns the in-process counters plus the
// persisted per-realm daily aggregate for "today" (UTC).
func (v *Validator) GetValidationStatistics(ctx context.Context, realm string) (Statistics, error) {
	daily, err := v.getDailyMetrics(ctx, realm, v.now())
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		LocalSuccess:         v.localSuccess.Load(),
		LocalFailure:         v.localFailure.Load(),
		IntrospectionSuccess: v.introspectSuccess.Load(),
		IntrospectionFailure: v.introspectFailure.Load(),
		CacheHits:            v.cacheHits.Load(),
		CacheMisses:          v.cacheMisses.Load(),
		Daily:                daily,
	}, nil
}
