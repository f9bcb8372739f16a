package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "app.pem")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

// TestMintExchangesAppJWT tests the full mint path against a stub API: the
// request carries a bearer app JWT and the minted token is cached for the
// next call.
func TestMintExchangesAppJWT(t *testing.T) {
	var calls atomic.Int64
	var bearer atomic.Value
	// The enterprise base URL gains an /api/v3/ prefix on the client side.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/app/installations/123/access_tokens" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		bearer.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token":"ghs_testtoken","expires_at":%q}`, expires)
	}))
	defer server.Close()

	minter := NewTokenMinter(AppConfig{
		AppID:          4242,
		PrivateKeyPath: writeTestKey(t),
		BaseURL:        server.URL,
	})

	token, err := minter.Mint(context.Background(), 123)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token.Token != "ghs_testtoken" {
		t.Fatalf("unexpected token %q", token.Token)
	}
	if time.Until(token.ExpiresAt) < 50*time.Minute {
		t.Fatalf("unexpected expiry %s", token.ExpiresAt)
	}

	auth, _ := bearer.Load().(string)
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("expected bearer app JWT, got %q", auth)
	}
	assertAppJWT(t, strings.TrimPrefix(auth, "Bearer "), 4242)

	// Second mint inside the freshness window reuses the cache.
	again, err := minter.Mint(context.Background(), 123)
	if err != nil {
		t.Fatalf("cached mint: %v", err)
	}
	if again.Token != token.Token {
		t.Fatalf("expected cached token, got %q", again.Token)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one API call, got %d", got)
	}
}

func assertAppJWT(t *testing.T, jwt string, appID int64) {
	t.Helper()
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three JWT segments, got %d", len(parts))
	}
	rawClaims, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims struct {
		Iat int64 `json:"iat"`
		Exp int64 `json:"exp"`
		Iss int64 `json:"iss"`
	}
	if err := json.Unmarshal(rawClaims, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims.Iss != appID {
		t.Fatalf("expected iss %d, got %d", appID, claims.Iss)
	}
	now := time.Now().Unix()
	if claims.Iat > now {
		t.Fatalf("iat %d is in the future", claims.Iat)
	}
	if ttl := claims.Exp - now; ttl <= 0 || ttl > 600 {
		t.Fatalf("exp ttl %ds outside GitHub's window", ttl)
	}
}

// TestMintRequiresInstallation tests the zero installation id guard.
func TestMintRequiresInstallation(t *testing.T) {
	minter := NewTokenMinter(AppConfig{AppID: 1, PrivateKeyPath: writeTestKey(t)})
	if _, err := minter.Mint(context.Background(), 0); err == nil {
		t.Fatalf("expected error for missing installation id")
	}
}

// TestMintMissingKey tests that an unreadable key path surfaces as an error.
func TestMintMissingKey(t *testing.T) {
	minter := NewTokenMinter(AppConfig{
		AppID:          1,
		PrivateKeyPath: filepath.Join(t.TempDir(), "absent.pem"),
	})
	if _, err := minter.Mint(context.Background(), 5); err == nil {
		t.Fatalf("expected error for missing private key")
	}
}

// TestMintPKCS8Key tests that PKCS#8 encoded RSA keys load too.
func TestMintPKCS8Key(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	path := filepath.Join(t.TempDir(), "app.pem")
	encoded := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	minter := NewTokenMinter(AppConfig{AppID: 7, PrivateKeyPath: path})
	jwt, err := minter.jwt()
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	assertAppJWT(t, jwt, 7)
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                            defaultBaseURL,
		"  ":                          defaultBaseURL,
		"https://ghe.example.com/":    "https://ghe.example.com",
		"https://api.github.com":      defaultBaseURL,
		"https://ghe.example.com/api": "https://ghe.example.com/api",
	}
	for input, expected := range cases {
		if got := normalizeBaseURL(input); got != expected {
			t.Fatalf("%q: expected %q, got %q", input, expected, got)
		}
	}
}
