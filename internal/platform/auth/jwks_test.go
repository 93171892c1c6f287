package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func rsaPublicKeyToJWK(key *rsa.PrivateKey, kid string) JWKSKey {
	pub := &key.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func jwksServer(t *testing.T, keys func() []JWKSKey) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwksResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestJWKSCache_FetchAndCache(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, calls := jwksServer(t, func() []JWKSKey { return []JWKSKey{rsaPublicKeyToJWK(key, "k1")} })

	cache := NewJWKSCache(srv.URL, 5*time.Minute)
	got, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("fetched key does not match")
	}

	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestJWKSCache_RefetchesUnknownKid(t *testing.T) {
	key1, _ := rsa.GenerateKey(rand.Reader, 2048)
	key2, _ := rsa.GenerateKey(rand.Reader, 2048)
	var rotated atomic.Bool
	srv, calls := jwksServer(t, func() []JWKSKey {
		if rotated.Load() {
			return []JWKSKey{rsaPublicKeyToJWK(key1, "k1"), rsaPublicKeyToJWK(key2, "k2")}
		}
		return []JWKSKey{rsaPublicKeyToJWK(key1, "k1")}
	})

	cache := NewJWKSCache(srv.URL, time.Hour)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rotated.Store(true)

	got, err := cache.GetKey("k2")
	if err != nil {
		t.Fatalf("unexpected error after rotation: %v", err)
	}
	if got.N.Cmp(key2.PublicKey.N) != 0 {
		t.Error("rotated key does not match")
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	srv, _ := jwksServer(t, func() []JWKSKey { return nil })

	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey("missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey("any"); err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	if _, err := parseRSAPublicKey(JWKSKey{N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus")
	}
	n := base64.RawURLEncoding.EncodeToString(big.NewInt(12345).Bytes())
	if _, err := parseRSAPublicKey(JWKSKey{N: n, E: "!!!"}); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestJWKSKeyFunc_NoKidHeader(t *testing.T) {
	keyFunc := jwksKeyFunc(NewJWKSCache("http://127.0.0.1:0", time.Minute))

	_, err := keyFunc(&jwt.Token{Header: map[string]interface{}{}})
	if err == nil || err.Error() != "token has no kid header" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOIDCProvider_Discovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://idp.example.com",
			"jwks_uri": "https://idp.example.com/keys",
		})
	}))
	defer srv.Close()

	provider, err := NewOIDCProvider(srv.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != "https://idp.example.com/keys" {
		t.Errorf("unexpected jwks_uri %s", provider.JWKSURI)
	}
}

func TestOIDCProvider_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	if _, err := NewOIDCProvider(notFound.URL); err == nil {
		t.Error("expected error for 404 discovery endpoint")
	}

	noJWKS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	defer noJWKS.Close()
	if _, err := NewOIDCProvider(noJWKS.URL); err == nil {
		t.Error("expected error for missing jwks_uri")
	}
}
