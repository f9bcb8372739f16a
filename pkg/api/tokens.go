package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	ghprovider "github.com/stackgobrr/actions-dashboard-sub000/pkg/providers/github"
)

// Minter mints installation tokens; satisfied by the GitHub App token
// minter.
type Minter interface {
	Mint(ctx context.Context, installationID int64) (ghprovider.InstallationToken, error)
}

// TokenHandler mints GitHub App installation tokens for the dashboard. The
// dashboard calls it with the installation it is scoped to and uses the
// returned token for REST queries directly against GitHub.
type TokenHandler struct {
	Minter        Minter
	AllowedOrigin string
	Logger        *log.Logger
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	if h.AllowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.AllowedOrigin)
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.Minter == nil {
		logger.Printf("token minter not configured")
		http.Error(w, "app credentials not configured", http.StatusInternalServerError)
		return
	}

	installationID, err := strconv.ParseInt(r.URL.Query().Get("installation_id"), 10, 64)
	if err != nil || installationID <= 0 {
		http.Error(w, "missing or invalid installation_id", http.StatusBadRequest)
		return
	}

	token, err := h.Minter.Mint(r.Context(), installationID)
	if err != nil {
		logger.Printf("token mint failed installation=%d: %v", installationID, err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
