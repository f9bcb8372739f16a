package oauth

import (
	"crypto/subtle"
	"html/template"
	"log"
	"net/http"

	"golang.org/x/oauth2"
)

// CallbackHandler finishes the OAuth flow. The state query parameter must
// match the oauth_state cookie planted by StartHandler; the code is then
// exchanged for a user token which is handed to the dashboard through a
// small page that stores it in localStorage and redirects.
type CallbackHandler struct {
	Config Config
	Logger *log.Logger
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Signing in…</title></head>
<body>
<script>
localStorage.setItem("github_token", {{.Token}});
window.location.replace({{.Redirect}});
</script>
<noscript>Sign-in complete. You can close this window.</noscript>
</body>
</html>
`))

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Config.ClientID == "" || h.Config.ClientSecret == "" {
		logger.Printf("oauth client config missing")
		http.Error(w, "oauth client config missing", http.StatusInternalServerError)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		logger.Printf("oauth state mismatch")
		http.Error(w, "state mismatch", http.StatusUnauthorized)
		return
	}

	// One-shot state: clear the cookie whatever happens next.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	conf := &oauth2.Config{
		ClientID:     h.Config.ClientID,
		ClientSecret: h.Config.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  callbackURL(r, h.Config),
	}
	token, err := conf.Exchange(r.Context(), code)
	if err != nil {
		logger.Printf("github oauth exchange failed: %v", err)
		http.Error(w, "token exchange failed", http.StatusBadRequest)
		return
	}

	redirect := h.Config.DashboardURL
	if redirect == "" {
		redirect = "/"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(w, map[string]string{
		"Token":    token.AccessToken,
		"Redirect": redirect,
	}); err != nil {
		logger.Printf("callback page render failed: %v", err)
	}
}
