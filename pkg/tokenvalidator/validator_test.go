package tokenvalidator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/neocache/pkg/cacheerr"
	"github.com/wisbric/neocache/pkg/tokenvalidator/provider"
)

// memCache is an in-memory Cache test double.
type memCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
}

func newMemCache() *memCache {
	return &memCache{values: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (c *memCache) expired(key string) bool {
	exp, ok := c.expires[key]
	return ok && time.Now().After(exp)
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired(key) {
		delete(c.values, key)
		delete(c.expires, key)
		return nil, false, nil
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	if ttl > 0 {
		c.expires[key] = time.Now().Add(ttl)
	} else {
		delete(c.expires, key)
	}
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.expires, key)
	return nil
}

func (c *memCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.expired(key) {
		if _, ok := c.values[key]; ok {
			return false, nil
		}
	}
	c.values[key] = value
	if ttl > 0 {
		c.expires[key] = time.Now().Add(ttl)
	}
	return true, nil
}

// fakeProvider is an in-memory provider.Provider test double.
type fakeProvider struct {
	mu             sync.Mutex
	keySet         *jose.JSONWebKeySet
	issuer         string
	audience       string
	introspectFunc func(token string) (provider.IntrospectionResult, error)
	refreshFunc    func(refreshToken string) (provider.TokenPair, error)
	logoutCalls    int
}

func (p *fakeProvider) Realm(context.Context, string) (provider.RealmInfo, error) {
	return provider.RealmInfo{IssuerURL: p.issuer, Audience: p.audience}, nil
}

func (p *fakeProvider) PublicKeys(context.Context, string) (*jose.JSONWebKeySet, error) {
	return p.keySet, nil
}

func (p *fakeProvider) Introspect(_ context.Context, _ string, token string) (provider.IntrospectionResult, error) {
	if p.introspectFunc != nil {
		return p.introspectFunc(token)
	}
	return provider.IntrospectionResult{}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, _ string, refreshToken string) (provider.TokenPair, error) {
	p.mu.Lock()
	p.mu.Unlock()
	if p.refreshFunc != nil {
		return p.refreshFunc(refreshToken)
	}
	return provider.TokenPair{}, nil
}

func (p *fakeProvider) Logout(context.Context, string, string) error {
	p.mu.Lock()
	p.logoutCalls++
	p.mu.Unlock()
	return nil
}

// signRSAToken builds and signs a test JWT with the given registered
// claims using the go-jose signer.
func signRSAToken(t *testing.T, key *rsa.PrivateKey, kid string, claims josejwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: "RS256", Use: "sig"}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	token, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func newRSATestFixture(t *testing.T) (*rsa.PrivateKey, *jose.JSONWebKeySet, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	const kid = "test-key-1"
	keySet := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &key.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"},
	}}
	return key, keySet, kid
}

func newTestValidator(t *testing.T, prov provider.Provider, cfg Config) (*Validator, *memCache) {
	t.Helper()
	cache := newMemCache()
	v := New(cache, prov, cfg, nil)
	return v, cache
}

func TestValidator_LocalStrategySucceeds(t *testing.T) {
	key, keySet, kid := newRSATestFixture(t)
	prov := &fakeProvider{keySet: keySet, issuer: "https://idp.example.com/realms/test", audience: "neocache"}
	v, _ := newTestValidator(t, prov, Config{VerifyIssuer: true, VerifyAudience: true})

	now := time.Now()
	token := signRSAToken(t, key, kid, josejwt.Claims{
		Subject:  "user-1",
		Issuer:   prov.issuer,
		Audience: josejwt.Audience{"neocache"},
		IssuedAt: josejwt.NewNumericDate(now),
		Expiry:   josejwt.NewNumericDate(now.Add(time.Hour)),
	})

	result, err := v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyLocal})
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !result.Valid || result.Claims.Subject != "user-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestValidator_LocalStrategyRelaxesAudienceMismatch(t *testing.T) {
	key, keySet, kid := newRSATestFixture(t)
	prov := &fakeProvider{keySet: keySet, issuer: "https://idp.example.com/realms/test", audience: "neocache"}
	v, _ := newTestValidator(t, prov, Config{VerifyIssuer: true, VerifyAudience: true})

	now := time.Now()
	token := signRSAToken(t, key, kid, josejwt.Claims{
		Subject:  "user-1",
		Issuer:   prov.issuer,
		Audience: josejwt.Audience{"some-other-client"},
		IssuedAt: josejwt.NewNumericDate(now),
		Expiry:   josejwt.NewNumericDate(now.Add(time.Hour)),
	})

	result, err := v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyLocal})
	if err != nil {
		t.Fatalf("expected relaxed validation to succeed, got error: %v", err)
	}
	if !result.Valid {
		t.Error("expected valid result after audience relaxation")
	}
}

func TestValidator_LocalStrategyRejectsExpired(t *testing.T) {
	key, keySet, kid := newRSATestFixture(t)
	prov := &fakeProvider{keySet: keySet, issuer: "https://idp.example.com/realms/test"}
	v, _ := newTestValidator(t, prov, Config{})

	now := time.Now()
	token := signRSAToken(t, key, kid, josejwt.Claims{
		Subject:  "user-1",
		IssuedAt: josejwt.NewNumericDate(now.Add(-2 * time.Hour)),
		Expiry:   josejwt.NewNumericDate(now.Add(-time.Hour)),
	})

	_, err := v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyLocal})
	if err == nil {
		t.Fatal("expected expired token to fail validation")
	}
	if _, ok := err.(*cacheerr.UnauthorizedToken); !ok {
		t.Errorf("expected *cacheerr.UnauthorizedToken, got %T", err)
	}
}

func TestValidator_IntrospectionCaches(t *testing.T) {
	calls := 0
	prov := &fakeProvider{
		introspectFunc: func(token string) (provider.IntrospectionResult, error) {
			calls++
			return provider.IntrospectionResult{Active: true, Subject: "user-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	opts := ValidateOptions{Realm: "test", Strategy: StrategyIntrospection, CacheResult: true}
	for i := 0; i < 3; i++ {
		result, err := v.ValidateToken(context.Background(), "opaque-token", opts)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !result.Valid {
			t.Fatalf("call %d: expected valid", i)
		}
	}
	if calls != 1 {
		t.Errorf("provider.Introspect called %d times, want 1 (cache should absorb the rest)", calls)
	}
}

func TestValidator_IntrospectionRejectsInactive(t *testing.T) {
	prov := &fakeProvider{
		introspectFunc: func(string) (provider.IntrospectionResult, error) {
			return provider.IntrospectionResult{Active: false}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	_, err := v.ValidateToken(context.Background(), "opaque-token", ValidateOptions{Realm: "test", Strategy: StrategyIntrospection})
	if err == nil {
		t.Fatal("expected inactive token to fail")
	}
}

func TestValidator_CriticalForcesIntrospectionEvenForValidLocalToken(t *testing.T) {
	key, keySet, kid := newRSATestFixture(t)
	introspectCalled := false
	prov := &fakeProvider{
		keySet: keySet,
		introspectFunc: func(string) (provider.IntrospectionResult, error) {
			introspectCalled = true
			return provider.IntrospectionResult{Active: true, Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	now := time.Now()
	token := signRSAToken(t, key, kid, josejwt.Claims{
		Subject: "user-1", IssuedAt: josejwt.NewNumericDate(now), Expiry: josejwt.NewNumericDate(now.Add(time.Hour)),
	})

	_, err := v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyLocal, Critical: true})
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !introspectCalled {
		t.Error("critical=true should force INTROSPECTION regardless of requested strategy")
	}
}

func TestValidator_AdaptivePicksLocalForFreshToken(t *testing.T) {
	key, keySet, kid := newRSATestFixture(t)
	introspectCalled := false
	prov := &fakeProvider{
		keySet: keySet,
		introspectFunc: func(string) (provider.IntrospectionResult, error) {
			introspectCalled = true
			return provider.IntrospectionResult{Active: true}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	now := time.Now()
	token := signRSAToken(t, key, kid, josejwt.Claims{
		Subject: "user-1", IssuedAt: josejwt.NewNumericDate(now), Expiry: josejwt.NewNumericDate(now.Add(time.Hour)),
	})

	result, err := v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyAdaptive})
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if result.Strategy != StrategyLocal {
		t.Errorf("Strategy = %s, want LOCAL for a fresh token", result.Strategy)
	}
	if introspectCalled {
		t.Error("ADAPTIVE should not introspect a fresh token")
	}
}

func TestValidator_RevokedTokenFailsFast(t *testing.T) {
	prov := &fakeProvider{}
	v, _ := newTestValidator(t, prov, Config{})

	token := "some-opaque-token"
	if err := v.RevokeToken(context.Background(), token, "test", ""); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	revoked, err := v.IsTokenRevoked(context.Background(), token)
	if err != nil {
		t.Fatalf("IsTokenRevoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be revoked")
	}

	_, err = v.ValidateToken(context.Background(), token, ValidateOptions{Realm: "test", Strategy: StrategyIntrospection})
	if _, ok := err.(*cacheerr.UnauthorizedToken); !ok {
		t.Errorf("expected UnauthorizedToken for revoked token, got %v", err)
	}
}

func TestValidator_RefreshCoalescesConcurrentCalls(t *testing.T) {
	key, _, _ := newRSATestFixture(t)
	var refreshCalls int
	var mu sync.Mutex
	prov := &fakeProvider{
		refreshFunc: func(refreshToken string) (provider.TokenPair, error) {
			mu.Lock()
			refreshCalls++
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return provider.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{RefreshThreshold: time.Hour})

	now := time.Now()
	accessToken := signRSAToken(t, key, "k1", josejwt.Claims{
		Subject: "user-9", IssuedAt: josejwt.NewNumericDate(now), Expiry: josejwt.NewNumericDate(now.Add(time.Minute)),
	})

	var wg sync.WaitGroup
	results := make([]RefreshResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := v.RefreshIfNeeded(context.Background(), accessToken, "refresh-token", "test", false)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if refreshCalls != 1 {
		t.Errorf("provider.Refresh called %d times, want exactly 1", refreshCalls)
	}
	completed := 0
	for _, r := range results {
		if r.Status == RefreshCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("expected exactly one COMPLETED result, got %d", completed)
	}
}

func TestValidator_RefreshSkippedWhenFarFromExpiry(t *testing.T) {
	key, _, _ := newRSATestFixture(t)
	prov := &fakeProvider{}
	v, _ := newTestValidator(t, prov, Config{RefreshThreshold: 5 * time.Minute})

	now := time.Now()
	accessToken := signRSAToken(t, key, "k1", josejwt.Claims{
		Subject: "user-9", IssuedAt: josejwt.NewNumericDate(now), Expiry: josejwt.NewNumericDate(now.Add(time.Hour)),
	})

	result, err := v.RefreshIfNeeded(context.Background(), accessToken, "refresh-token", "test", false)
	if err != nil {
		t.Fatalf("RefreshIfNeeded: %v", err)
	}
	if result.Status != RefreshSkipped {
		t.Errorf("Status = %s, want SKIPPED", result.Status)
	}
}

func TestValidator_BatchValidateTokensCountsSuccessAndFailure(t *testing.T) {
	prov := &fakeProvider{
		introspectFunc: func(token string) (provider.IntrospectionResult, error) {
			if token == "good" {
				return provider.IntrospectionResult{Active: true, Subject: "user-1"}, nil
			}
			return provider.IntrospectionResult{Active: false}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	batch := v.BatchValidateTokens(context.Background(), []string{"good", "bad"}, ValidateOptions{Realm: "test", Strategy: StrategyIntrospection})
	if batch.Succeeded != 1 || batch.Failed != 1 {
		t.Errorf("batch = %+v, want 1 succeeded and 1 failed", batch)
	}
}

func TestValidator_GetValidationStatisticsTracksCounters(t *testing.T) {
	prov := &fakeProvider{
		introspectFunc: func(string) (provider.IntrospectionResult, error) {
			return provider.IntrospectionResult{Active: true, Subject: "user-1"}, nil
		},
	}
	v, _ := newTestValidator(t, prov, Config{})

	if _, err := v.ValidateToken(context.Background(), "t1", ValidateOptions{Realm: "test", Strategy: StrategyIntrospection}); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	stats, err := v.GetValidationStatistics(context.Background(), "test")
	if err != nil {
		t.Fatalf("GetValidationStatistics: %v", err)
	}
	if stats.IntrospectionSuccess != 1 {
		t.Errorf("IntrospectionSuccess = %d, want 1", stats.IntrospectionSuccess)
	}
}

func TestValidator_ClearUserTokensRemovesCachedIntrospection(t *testing.T) {
	prov := &fakeProvider{
		introspectFunc: func(string) (provider.IntrospectionResult, error) {
			return provider.IntrospectionResult{Active: true, Subject: "user-5"}, nil
		},
	}
	v, cache := newTestValidator(t, prov, Config{})

	opts := ValidateOptions{Realm: "test", Strategy: StrategyIntrospection, CacheResult: true}
	if _, err := v.ValidateToken(context.Background(), "token-a", opts); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	if err := v.ClearUserTokens(context.Background(), "user-5"); err != nil {
		t.Fatalf("ClearUserTokens: %v", err)
	}

	if _, found, _ := cache.Get(context.Background(), introspectCacheKey(tokenHash("token-a"))); found {
		t.Error("expected cached introspection entry to be cleared")
	}
}
