package config

func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:            "http://localhost:18789",
			Model:          "clawdbot:main",
			AgentID:        "main",
			AgentHeader:    "x-agent-id",
			TimeoutSeconds: 60,
		},
		Synology: SynologyConfig{
			TimeoutSeconds: 30,
		},
		Webhook: WebhookConfig{
			Host:           "0.0.0.0",
			Port:           18790,
			Path:           "/synology-chat-webhook",
			MaxBodyBytes:   1 << 20,
			RateLimitBurst: 5,
		},
		Bot: BotConfig{
			Name: "Clawdbot",
			ID:   "clawdbot",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

// Template is what `synobridge init` writes: defaults plus a placeholder the
// operator has to replace. The gateway token is expected from
// SYNOBRIDGE_GATEWAY_TOKEN rather than the file.
func Template() *Config {
	cfg := Defaults()
	cfg.Synology.WebhookURL = placeholderWebhookURL
	return cfg
}
