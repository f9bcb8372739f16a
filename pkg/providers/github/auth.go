package github

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.github.com"

// AppConfig contains GitHub App authentication settings.
type AppConfig struct {
	AppID          int64
	PrivateKeyPath string
	BaseURL        string
}

// InstallationToken is a short-lived token minted for one installation.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenMinter signs GitHub App JWTs and exchanges them for installation
// tokens. The private key is loaded once per process and minted tokens are
// cached until shortly before expiry, so a warm instance serves repeat
// requests without touching GitHub.
type TokenMinter struct {
	appID   int64
	keyPath string
	baseURL string

	keyOnce  sync.Once
	key      *rsa.PrivateKey
	keyError error

	mu     sync.Mutex
	tokens map[int64]InstallationToken
}

func NewTokenMinter(cfg AppConfig) *TokenMinter {
	return &TokenMinter{
		appID:   cfg.AppID,
		keyPath: cfg.PrivateKeyPath,
		baseURL: normalizeBaseURL(cfg.BaseURL),
		tokens:  make(map[int64]InstallationToken),
	}
}

// Mint returns an installation token, reusing the cached one while it has at
// least two minutes of life left.
func (m *TokenMinter) Mint(ctx context.Context, installationID int64) (InstallationToken, error) {
	if installationID == 0 {
		return InstallationToken{}, errors.New("installation id is required")
	}

	m.mu.Lock()
	cached, ok := m.tokens[installationID]
	m.mu.Unlock()
	if ok && time.Until(cached.ExpiresAt) > 2*time.Minute {
		return cached, nil
	}

	jwt, err := m.jwt()
	if err != nil {
		return InstallationToken{}, err
	}

	client, err := m.apiClient(ctx, jwt)
	if err != nil {
		return InstallationToken{}, err
	}
	minted, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("github token exchange failed: %w", err)
	}
	if minted.GetToken() == "" {
		return InstallationToken{}, errors.New("github installation token missing from response")
	}

	token := InstallationToken{
		Token:     minted.GetToken(),
		ExpiresAt: minted.GetExpiresAt().Time,
	}
	m.mu.Lock()
	m.tokens[installationID] = token
	m.mu.Unlock()
	return token, nil
}

func (m *TokenMinter) apiClient(ctx context.Context, jwt string) (*gh.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: jwt})
	httpClient := oauth2.NewClient(ctx, ts)

	baseURL := strings.TrimRight(m.baseURL, "/")
	if baseURL != "" && baseURL != defaultBaseURL {
		return gh.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	}
	return gh.NewClient(httpClient), nil
}

// jwt builds the RS256 app JWT GitHub expects: iat skewed 30s into the past,
// ttl under GitHub's 10 minute ceiling, iss set to the app id.
func (m *TokenMinter) jwt() (string, error) {
	key, err := m.privateKey()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := map[string]interface{}{
		"iat": now.Add(-30 * time.Second).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": m.appID,
	}
	header := map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
	}
	encodedHeader, err := encodeSegment(header)
	if err != nil {
		return "", err
	}
	encodedClaims, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	unsigned := encodedHeader + "." + encodedClaims
	hash := sha256.Sum256([]byte(unsigned))
	signature, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (m *TokenMinter) privateKey() (*rsa.PrivateKey, error) {
	m.keyOnce.Do(func() {
		keyBytes, err := os.ReadFile(m.keyPath)
		if err != nil {
			m.keyError = err
			return
		}
		block, _ := pem.Decode(keyBytes)
		if block == nil {
			m.keyError = errors.New("github private key PEM decode failed")
			return
		}
		if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			m.key = key
			return
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			m.keyError = err
			return
		}
		typed, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			m.keyError = errors.New("github private key is not RSA")
			return
		}
		m.key = typed
	})
	if m.keyError != nil {
		return nil, m.keyError
	}
	if m.key == nil {
		return nil, errors.New("github private key not loaded")
	}
	return m.key, nil
}

func encodeSegment(data map[string]interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
