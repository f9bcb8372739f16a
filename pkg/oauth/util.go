package oauth

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"

	oauthgithub "golang.org/x/oauth2/github"
)

const stateCookieName = "oauth_state"

// endpoint is a variable so tests can point the exchange at a local server.
var endpoint = oauthgithub.Endpoint

// Config carries the GitHub OAuth client settings shared by the start and
// callback handlers.
type Config struct {
	ClientID      string
	ClientSecret  string
	PublicBaseURL string
	CallbackPath  string
	DashboardURL  string
}

func callbackURL(r *http.Request, cfg Config) string {
	path := cfg.CallbackPath
	if path == "" {
		path = "/oauth/callback"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base != "" {
		return base + path
	}
	scheme := forwardedProto(r)
	host := forwardedHost(r)
	if scheme == "" {
		scheme = "http"
	}
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func forwardedProto(r *http.Request) string {
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return ""
}

func forwardedHost(r *http.Request) string {
	if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
		return host
	}
	return ""
}

func randomState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return fmt.Sprintf("%x", buf)
}
