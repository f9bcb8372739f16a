package webhook

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/stackgobrr/actions-dashboard-sub000/internal"

	"github.com/go-playground/webhooks/v6/github"
)

// GitHubHandler is the webhook ingress: it verifies the delivery signature,
// normalizes the payload and hands the event to the broadcaster and, when
// rules match, to the relay publisher. It holds no per-request state.
type GitHubHandler struct {
	secret      string
	hook        *github.Webhook
	broadcaster *internal.Broadcaster
	rules       *internal.RuleEngine
	relay       internal.Publisher
	logger      *log.Logger
	maxBody     int64
	now         func() time.Time
}

// Only the event kinds the dashboard consumes are parsed; everything else is
// acknowledged and dropped so GitHub never retries deliveries we ignore.
var githubEvents = []github.Event{
	github.WorkflowRunEvent,
	github.WorkflowJobEvent,
	github.PullRequestEvent,
	github.PingEvent,
}

func NewGitHubHandler(secret string, broadcaster *internal.Broadcaster, rules *internal.RuleEngine, relay internal.Publisher, maxBody int64, logger *log.Logger) (*GitHubHandler, error) {
	// The hook is used for typed dispatch only; signature verification runs
	// against the raw body before parsing.
	hook, err := github.New()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}
	return &GitHubHandler{
		secret:      secret,
		hook:        hook,
		broadcaster: broadcaster,
		rules:       rules,
		relay:       relay,
		logger:      logger,
		maxBody:     maxBody,
		now:         time.Now,
	}, nil
}

func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.secret == "" {
		h.logger.Printf("webhook secret not configured")
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}

	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	rawBody, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(rawBody, r.Header.Get("X-Hub-Signature-256"), h.secret) {
		h.logger.Printf("signature verification failed delivery=%q", r.Header.Get("X-GitHub-Delivery"))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	kind := r.Header.Get("X-GitHub-Event")
	internal.IncWebhook(kind)

	r.Body = io.NopCloser(bytes.NewReader(rawBody))
	payload, err := h.hook.Parse(r, githubEvents...)
	if err != nil {
		if errors.Is(err, github.ErrEventNotFound) {
			internal.IncSkipped("unsupported")
			writeText(w, http.StatusOK, "event ignored")
			return
		}
		h.logger.Printf("github parse failed kind=%q: %v", kind, err)
		internal.IncParseError(kind)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if _, ok := payload.(github.PingPayload); ok {
		internal.IncSkipped("ping")
		writeText(w, http.StatusOK, "pong")
		return
	}

	event, err := internal.Normalize(kind, rawBody, h.now())
	switch {
	case errors.Is(err, internal.ErrSkipPing):
		internal.IncSkipped("ping")
		writeText(w, http.StatusOK, "pong")
		return
	case errors.Is(err, internal.ErrSkipUnsupported):
		internal.IncSkipped("unsupported")
		writeText(w, http.StatusOK, "event ignored")
		return
	case err != nil:
		h.logger.Printf("normalize failed kind=%q: %v", kind, err)
		internal.IncParseError(kind)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	h.broadcaster.Broadcast(event)
	internal.IncBroadcast()
	h.relayEvent(r, event, rawBody)

	writeText(w, http.StatusOK, "event processed")
}

// relayEvent forwards the event to external drivers chosen by the routing
// rules. Relay faults never change the webhook response.
func (h *GitHubHandler) relayEvent(r *http.Request, event internal.Event, rawBody []byte) {
	if h.rules == nil || h.relay == nil {
		return
	}
	for _, match := range h.rules.Evaluate(event, rawBody) {
		if err := h.relay.PublishForDrivers(r.Context(), match.Topic, event, match.Drivers); err != nil {
			h.logger.Printf("relay %s failed: %v", match.Topic, err)
		}
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
