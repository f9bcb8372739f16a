package oauth

import (
	"log"
	"net/http"

	"golang.org/x/oauth2"
)

// StartHandler begins the OAuth flow: it plants the state cookie and
// redirects the browser to GitHub's authorize page. The callback handler
// later requires the same state back.
type StartHandler struct {
	Config Config
	Logger *log.Logger
}

func (h *StartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Config.ClientID == "" {
		logger.Printf("oauth client id not configured")
		http.Error(w, "oauth client config missing", http.StatusInternalServerError)
		return
	}

	state := randomState()
	if state == "" {
		http.Error(w, "state generation failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	conf := &oauth2.Config{
		ClientID:    h.Config.ClientID,
		Endpoint:    endpoint,
		RedirectURL: callbackURL(r, h.Config),
	}
	http.Redirect(w, r, conf.AuthCodeURL(state), http.StatusFound)
}
