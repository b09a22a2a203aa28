package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
)

// fakeOIDCServer serves the minimal discovery document, JWKS, introspection
// and logout endpoints an OIDCProvider needs, mirroring the shape a real
// Keycloak realm exposes.
type fakeOIDCServer struct {
	server         *httptest.Server
	introspectResp map[string]any
	key            *rsa.PrivateKey
}

func newFakeOIDCServer(t *testing.T) *fakeOIDCServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	f := &fakeOIDCServer{key: key, introspectResp: map[string]any{"active": true, "sub": "user-1", "exp": float64(9999999999)}}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 base,
			"authorization_endpoint": base + "/auth",
			"token_endpoint":         base + "/token",
			"jwks_uri":               base + "/jwks",
			"introspection_endpoint": base + "/introspect",
			"end_session_endpoint":   base + "/logout",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &f.key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"},
		}}
		_ = json.NewEncoder(w).Encode(keySet)
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.introspectResp)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestProvider(t *testing.T, srv *fakeOIDCServer) *OIDCProvider {
	t.Helper()
	resolve := func(realm string) (RealmConfig, bool) {
		if realm != "test" {
			return RealmConfig{}, false
		}
		return RealmConfig{IssuerURL: srv.server.URL, ClientID: "neocache", ClientSecret: "secret"}, true
	}
	return New(resolve, srv.server.Client(), nil)
}

func TestOIDCProvider_PublicKeysAndRealm(t *testing.T) {
	srv := newFakeOIDCServer(t)
	p := newTestProvider(t, srv)
	ctx := context.Background()

	info, err := p.Realm(ctx, "test")
	if err != nil {
		t.Fatalf("Realm: %v", err)
	}
	if info.IssuerURL != srv.server.URL {
		t.Errorf("IssuerURL = %q, want %q", info.IssuerURL, srv.server.URL)
	}

	keySet, err := p.PublicKeys(ctx, "test")
	if err != nil {
		t.Fatalf("PublicKeys: %v", err)
	}
	if len(keySet.Keys) != 1 || keySet.Keys[0].KeyID != "k1" {
		t.Errorf("unexpected keyset: %+v", keySet)
	}
}

func TestOIDCProvider_UnknownRealmFails(t *testing.T) {
	srv := newFakeOIDCServer(t)
	p := newTestProvider(t, srv)

	if _, err := p.Realm(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unresolved realm")
	}
}

func TestOIDCProvider_Introspect(t *testing.T) {
	srv := newFakeOIDCServer(t)
	p := newTestProvider(t, srv)

	result, err := p.Introspect(context.Background(), "test", "some-token")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !result.Active || result.Subject != "user-1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestOIDCProvider_Refresh(t *testing.T) {
	srv := newFakeOIDCServer(t)
	p := newTestProvider(t, srv)

	pair, err := p.Refresh(context.Background(), "test", "old-refresh")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", pair.AccessToken)
	}
}

func TestOIDCProvider_Logout(t *testing.T) {
	srv := newFakeOIDCServer(t)
	p := newTestProvider(t, srv)

	if err := p.Logout(context.Background(), "test", "old-refresh"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}
