package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stackgobrr/actions-dashboard-sub000/internal"
	"github.com/stackgobrr/actions-dashboard-sub000/pkg/api"
	"github.com/stackgobrr/actions-dashboard-sub000/pkg/oauth"
	ghprovider "github.com/stackgobrr/actions-dashboard-sub000/pkg/providers/github"
	"github.com/stackgobrr/actions-dashboard-sub000/pkg/sse"
	"github.com/stackgobrr/actions-dashboard-sub000/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	broadcaster := internal.NewBroadcaster(internal.NewLogger("broadcast"))

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: internal.NewLogger("rules"),
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	// The relay only spins up when rules route somewhere; the SSE fan-out
	// works without it.
	var relay internal.Publisher
	if len(config.Rules) > 0 {
		relay, err = internal.NewPublisher(config.Watermill)
		if err != nil {
			logger.Fatalf("relay publisher: %v", err)
		}
		defer relay.Close()
	}

	mux := http.NewServeMux()

	ghHandler, err := webhook.NewGitHubHandler(
		config.GitHub.WebhookSecret,
		broadcaster,
		ruleEngine,
		relay,
		config.Server.MaxBodyBytes,
		internal.NewLogger("webhook"),
	)
	if err != nil {
		logger.Fatalf("github handler: %v", err)
	}
	mux.Handle(config.GitHub.WebhookPath, internal.NewRateLimitHandler(
		ghHandler,
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
		10*time.Minute,
	))
	logger.Printf("github webhook enabled on %s", config.GitHub.WebhookPath)

	gateway := sse.NewGateway(broadcaster, sse.GatewayConfig{
		HeartbeatInterval: time.Duration(config.SSE.HeartbeatMS) * time.Millisecond,
		MaxSessionAge:     time.Duration(config.SSE.MaxSessionAgeMS) * time.Millisecond,
		AllowedOrigin:     config.SSE.AllowedOrigin,
	}, internal.NewLogger("sse"))
	mux.Handle(config.SSE.Path, gateway)
	logger.Printf("event stream enabled on %s", config.SSE.Path)

	tokenHandler := &api.TokenHandler{
		AllowedOrigin: config.SSE.AllowedOrigin,
		Logger:        internal.NewLogger("api"),
	}
	if config.GitHub.AppID != 0 && config.GitHub.PrivateKeyPath != "" {
		tokenHandler.Minter = ghprovider.NewTokenMinter(ghprovider.AppConfig{
			AppID:          config.GitHub.AppID,
			PrivateKeyPath: config.GitHub.PrivateKeyPath,
			BaseURL:        config.GitHub.BaseURL,
		})
	}
	mux.Handle(config.GitHub.TokenPath, tokenHandler)

	oauthConfig := oauth.Config{
		ClientID:      config.GitHub.OAuthClientID,
		ClientSecret:  config.GitHub.OAuthClientSecret,
		PublicBaseURL: config.GitHub.PublicBaseURL,
		CallbackPath:  config.GitHub.OAuthCallbackPath,
		DashboardURL:  config.GitHub.DashboardURL,
	}
	mux.Handle(config.GitHub.OAuthStartPath, &oauth.StartHandler{
		Config: oauthConfig,
		Logger: internal.NewLogger("oauth"),
	})
	mux.Handle(config.GitHub.OAuthCallbackPath, &oauth.CallbackHandler{
		Config: oauthConfig,
		Logger: internal.NewLogger("oauth"),
	})

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		// No WriteTimeout: SSE sessions stream for up to the configured max
		// session age and a write deadline would sever them mid-stream.
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
