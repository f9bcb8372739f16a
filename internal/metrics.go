package internal

import "expvar"

var (
	webhooksTotal   = expvar.NewMap("actionsrelay_webhooks_total")
	webhooksSkipped = expvar.NewMap("actionsrelay_webhooks_skipped_total")
	parseErrors     = expvar.NewMap("actionsrelay_parse_errors_total")
	broadcastsTotal = expvar.NewInt("actionsrelay_broadcasts_total")
	relayErrors     = expvar.NewMap("actionsrelay_relay_errors_total")
	sseSessions     = expvar.NewInt("actionsrelay_sse_sessions")
)

func IncWebhook(kind string) {
	webhooksTotal.Add(kind, 1)
}

func IncSkipped(reason string) {
	webhooksSkipped.Add(reason, 1)
}

func IncParseError(kind string) {
	parseErrors.Add(kind, 1)
}

func IncBroadcast() {
	broadcastsTotal.Add(1)
}

func IncRelayError(driver string) {
	relayErrors.Add(driver, 1)
}

func AddSSESession(delta int64) {
	sseSessions.Add(delta)
}
