package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"synobridge/internal/channel"
	"synobridge/internal/config"
	"synobridge/internal/provider"
	"synobridge/internal/relay"
	"synobridge/internal/security"
)

// shutdownGrace is added on top of the upstream timeouts when stopping.
const shutdownGrace = 5 * time.Second

// drainTimeout bounds how long shutdown waits for admitted messages: one
// gateway round-trip followed by one chat delivery.
func drainTimeout(cfg *config.Config) time.Duration {
	return cfg.Gateway.Timeout() + cfg.Synology.Timeout() + shutdownGrace
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long:  "Starts the webhook listener and relays messages until interrupted. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// bridge is the fully wired relay pipeline.
type bridge struct {
	gateway  *provider.Gateway
	notifier *channel.SynologyNotifier
	relay    *relay.Relay
	webhook  *channel.Webhook
}

func newGateway(cfg *config.Config) (*provider.Gateway, error) {
	return provider.NewGateway(provider.GatewayConfig{
		BaseURL:     cfg.Gateway.URL,
		Token:       cfg.Gateway.Token,
		Model:       cfg.Gateway.Model,
		AgentID:     cfg.Gateway.AgentID,
		AgentHeader: cfg.Gateway.AgentHeader,
		Timeout:     cfg.Gateway.Timeout(),
		Logger:      logger.With("component", "gateway"),
	})
}

func newNotifier(cfg *config.Config) (*channel.SynologyNotifier, error) {
	return channel.NewNotifier(channel.NotifierConfig{
		WebhookURL:         cfg.Synology.WebhookURL,
		Timeout:            cfg.Synology.Timeout(),
		InsecureSkipVerify: cfg.Synology.InsecureSkipVerify,
		MaxMessageChars:    cfg.Synology.MaxMessageChars,
		Logger:             logger.With("component", "notifier"),
	})
}

func newBridge(cfg *config.Config) (*bridge, error) {
	gw, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	r, err := relay.New(relay.Config{
		Guard: security.NewLoopGuard(security.LoopGuardConfig{
			BotName: cfg.Bot.Name,
			BotID:   cfg.Bot.ID,
			Logger:  logger.With("component", "guard"),
		}),
		Gateway:          gw,
		Notifier:         notifier,
		Limiter:          security.NewSenderLimiter(cfg.Webhook.RateLimitPerMinute, cfg.Webhook.RateLimitBurst),
		SerializePerUser: cfg.Relay.SerializePerUser,
		Logger:           logger.With("component", "relay"),
	})
	if err != nil {
		return nil, err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	// Requests waiting on the gateway get their answer before the listener
	// gives up on them.
	wh := channel.NewWebhook(channel.WebhookConfig{
		Host:            cfg.Webhook.Host,
		Port:            cfg.Webhook.Port,
		Path:            cfg.Webhook.Path,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		MetricsPath:     metricsPath,
		Relay:           r,
		Logger:          logger.With("component", "webhook"),
		ShutdownTimeout: cfg.Gateway.Timeout() + shutdownGrace,
	})

	return &bridge{gateway: gw, notifier: notifier, relay: r, webhook: wh}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer closeLog()

	b, err := newBridge(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("synobridge starting",
		"version", version,
		"listen", cfg.Webhook.Addr(),
		"webhook_path", cfg.Webhook.Path,
		"gateway", b.gateway.Endpoint(),
		"agent_id", cfg.Gateway.AgentID,
		"synology", config.MaskURL(cfg.Synology.WebhookURL),
	)
	if err := b.gateway.Healthy(ctx); err != nil {
		logger.Warn("gateway not reachable at startup", "err", err)
	}

	serveErr := b.webhook.Start(ctx)

	logger.Info("waiting for pending replies", "pending", b.relay.Pending())
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg))
	defer cancel()
	if err := b.relay.Wait(drainCtx); err != nil {
		logger.Warn("shutdown timed out with replies still pending", "err", err)
	} else {
		logger.Info("shutdown complete")
	}
	return serveErr
}
