package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

// RealmConfig is the static per-realm configuration an OIDCProvider needs
// to perform discovery: issuer URL plus client credentials.
type RealmConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
}

// RealmResolver resolves a realm name to its static configuration.
type RealmResolver func(realm string) (RealmConfig, bool)

// discovered holds the lazily-fetched OIDC discovery metadata for one
// realm, including the extra endpoints go-oidc's Provider doesn't surface
// directly (introspection_endpoint, end_session_endpoint).
type discovered struct {
	oidcProvider  *oidc.Provider
	cfg           RealmConfig
	introspectURL string
	endSessionURL string
	jwksURL       string
	audience      string
}

// OIDCProvider implements provider.Provider against a Keycloak-flavored
// OIDC identity provider: discovery via go-oidc, JWKS via go-jose,
// refresh via golang.org/x/oauth2, and introspection/logout via direct
// HTTP form posts (RFC 7662 / Keycloak's end_session endpoint). The JWKS,
// introspection, refresh and logout calls are wrapped in a per-realm
// circuit breaker with bounded retry; discovery is not.
type OIDCProvider struct {
	resolve    RealmResolver
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	realms    map[string]*discovered
	breakers  map[string]*gobreaker.CircuitBreaker[any]
}

// New constructs an OIDCProvider. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(resolve RealmResolver, httpClient *http.Client, logger *slog.Logger) *OIDCProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OIDCProvider{
		resolve:    resolve,
		httpClient: httpClient,
		logger:     logger,
		realms:     make(map[string]*discovered),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// ensureRealm performs (and caches) OIDC discovery for a realm.
func (p *OIDCProvider) ensureRealm(ctx context.Context, realm string) (*discovered, error) {
	p.mu.Lock()
	if d, ok := p.realms[realm]; ok {
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	cfg, ok := p.resolve(realm)
	if !ok {
		return nil, fmt.Errorf("no OIDC configuration for realm %q", realm)
	}

	oidcProvider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider for realm %q: %w", realm, err)
	}

	var claims struct {
		JWKSURL       string `json:"jwks_uri"`
		IntrospectURL string `json:"introspection_endpoint"`
		EndSessionURL string `json:"end_session_endpoint"`
	}
	if err := oidcProvider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("reading discovery metadata for realm %q: %w", realm, err)
	}

	d := &discovered{
		oidcProvider:  oidcProvider,
		cfg:           cfg,
		introspectURL: claims.IntrospectURL,
		endSessionURL: claims.EndSessionURL,
		jwksURL:       claims.JWKSURL,
		audience:      cfg.ClientID,
	}

	p.mu.Lock()
	p.realms[realm] = d
	p.mu.Unlock()
	return d, nil
}

func (p *OIDCProvider) breakerFor(realm string) *gobreaker.CircuitBreaker[any] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[realm]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "oidc-provider:" + realm,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("identity provider circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
	p.breakers[realm] = cb
	return cb
}

// callWithRetry executes op through the realm's breaker, retrying
// transient failures with bounded exponential backoff.
func callWithRetry[T any](ctx context.Context, p *OIDCProvider, realm string, op func(ctx context.Context) (T, error)) (T, error) {
	cb := p.breakerFor(realm)
	out, err := cb.Execute(func() (any, error) {
		v, err := backoff.Retry(ctx, func() (T, error) {
			return op(ctx)
		}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
		return v, err
	})
	var zero T
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func (p *OIDCProvider) Realm(ctx context.Context, realm string) (RealmInfo, error) {
	d, err := p.ensureRealm(ctx, realm)
	if err != nil {
		return RealmInfo{}, err
	}
	return RealmInfo{IssuerURL: d.cfg.IssuerURL, Audience: d.audience}, nil
}

func (p *OIDCProvider) PublicKeys(ctx context.Context, realm string) (*jose.JSONWebKeySet, error) {
	d, err := p.ensureRealm(ctx, realm)
	if err != nil {
		return nil, err
	}
	return callWithRetry(ctx, p, realm, func(ctx context.Context) (*jose.JSONWebKeySet, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.jwksURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jwks fetch for realm %q: unexpected status %d", realm, resp.StatusCode)
		}
		var keySet jose.JSONWebKeySet
		if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
			return nil, fmt.Errorf("decoding jwks for realm %q: %w", realm, err)
		}
		return &keySet, nil
	})
}

func (p *OIDCProvider) Introspect(ctx context.Context, realm, token string) (IntrospectionResult, error) {
	d, err := p.ensureRealm(ctx, realm)
	if err != nil {
		return IntrospectionResult{}, err
	}
	if d.introspectURL == "" {
		return IntrospectionResult{}, fmt.Errorf("realm %q has no introspection endpoint", realm)
	}

	return callWithRetry(ctx, p, realm, func(ctx context.Context) (IntrospectionResult, error) {
		form := url.Values{"token": {token}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.introspectURL, strings.NewReader(form.Encode()))
		if err != nil {
			return IntrospectionResult{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(d.cfg.ClientID, d.cfg.ClientSecret)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return IntrospectionResult{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return IntrospectionResult{}, fmt.Errorf("introspection for realm %q: unexpected status %d", realm, resp.StatusCode)
		}

		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return IntrospectionResult{}, fmt.Errorf("decoding introspection response for realm %q: %w", realm, err)
		}

		result := IntrospectionResult{Extra: body}
		if active, ok := body["active"].(bool); ok {
			result.Active = active
		}
		if sub, ok := body["sub"].(string); ok {
			result.Subject = sub
		}
		if exp, ok := body["exp"].(float64); ok {
			result.ExpiresAt = time.Unix(int64(exp), 0)
		}
		return result, nil
	})
}

func (p *OIDCProvider) Refresh(ctx context.Context, realm, refreshToken string) (TokenPair, error) {
	d, err := p.ensureRealm(ctx, realm)
	if err != nil {
		return TokenPair{}, err
	}

	oauth2Cfg := oauth2.Config{
		ClientID:     d.cfg.ClientID,
		ClientSecret: d.cfg.ClientSecret,
		Endpoint:     d.oidcProvider.Endpoint(),
	}

	return callWithRetry(ctx, p, realm, func(ctx context.Context) (TokenPair, error) {
		src := oauth2Cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return TokenPair{}, fmt.Errorf("refreshing token for realm %q: %w", realm, err)
		}
		return TokenPair{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.Expiry,
		}, nil
	})
}

func (p *OIDCProvider) Logout(ctx context.Context, realm, refreshToken string) error {
	d, err := p.ensureRealm(ctx, realm)
	if err != nil {
		return err
	}
	if d.endSessionURL == "" {
		return fmt.Errorf("realm %q has no end-session endpoint", realm)
	}

	_, err = callWithRetry(ctx, p, realm, func(ctx context.Context) (struct{}, error) {
		form := url.Values{
			"client_id":     {d.cfg.ClientID},
			"refresh_token": {refreshToken},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endSessionURL, strings.NewReader(form.Encode()))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(d.cfg.ClientID, d.cfg.ClientSecret)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("logout for realm %q: unexpected status %d", realm, resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}

var _ Provider = (*OIDCProvider)(nil)
