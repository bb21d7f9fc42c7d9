// Package relay carries one Synology Chat message through the loop guard,
// the agent gateway and back into the chat.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"synobridge/internal/domain"
	"synobridge/internal/metrics"
	"synobridge/internal/security"
)

const previewRunes = 100

// Config wires the relay's collaborators.
type Config struct {
	Guard    domain.LoopGuard
	Gateway  domain.Gateway
	Notifier domain.Notifier
	Limiter  *security.SenderLimiter // nil disables rate limiting

	// SerializePerUser holds back a sender's next message until the
	// gateway has answered the previous one.
	SerializePerUser bool
	Logger           *slog.Logger
}

// Relay implements the per-request pipeline behind the ingress listener.
type Relay struct {
	guard    domain.LoopGuard
	gateway  domain.Gateway
	notifier domain.Notifier
	limiter  *security.SenderLimiter
	seq      *Sequencer
	logger   *slog.Logger

	pending inflight
}

func New(cfg Config) (*Relay, error) {
	if cfg.Guard == nil || cfg.Gateway == nil || cfg.Notifier == nil {
		return nil, errors.New("relay: guard, gateway and notifier are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Relay{
		guard:    cfg.Guard,
		gateway:  cfg.Gateway,
		notifier: cfg.Notifier,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}
	if cfg.SerializePerUser {
		r.seq = NewSequencer()
	}
	return r, nil
}

// Handle relays msg. Rejected, empty and rate-limited messages succeed
// without reaching the gateway. An error is returned only when the gateway
// could not be reached; the reply is delivered in the background and its
// outcome never affects the result.
func (r *Relay) Handle(ctx context.Context, msg domain.InboundMessage) error {
	logger := r.logger.With("request_id", domain.RequestID(ctx), "user_id", msg.UserID)

	if !r.guard.Allow(msg) {
		metrics.WebhookRejected.Inc()
		return nil
	}

	// Counted from here until the reply is delivered so Wait covers messages
	// still waiting on the gateway.
	r.pending.begin()
	dispatched := false
	defer func() {
		if !dispatched {
			r.pending.end()
		}
	}()

	if strings.TrimSpace(msg.Text) == "" {
		metrics.WebhookEmpty.Inc()
		logger.Debug("ignoring empty message")
		return nil
	}
	if !r.limiter.Allow(msg.UserID) {
		metrics.WebhookLimited.Inc()
		logger.Warn("sender rate limited, message dropped")
		return nil
	}

	logger.Info("message received",
		"user_name", msg.UserName,
		"channel", msg.ChannelName,
		"text", Preview(msg.Text),
	)

	reply, err := r.ask(ctx, msg)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	metrics.WebhookRelayed.Inc()

	if reply == "" {
		logger.Info("no reply to deliver")
		return nil
	}
	logger.Info("gateway replied", "reply", Preview(reply))
	r.dispatch(ctx, logger, reply)
	dispatched = true
	return nil
}

func (r *Relay) ask(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if r.seq != nil {
		release, err := r.seq.Acquire(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		defer release()
	}
	return r.gateway.Ask(ctx, msg.Text, msg.UserID, msg.ChannelID)
}

// dispatch delivers reply without holding up the caller. The delivery
// goroutine takes over the caller's slot in r.pending.
func (r *Relay) dispatch(ctx context.Context, logger *slog.Logger, reply string) {
	ctx = context.WithoutCancel(ctx)
	metrics.PendingDeliveries.Inc()
	go func() {
		defer r.pending.end()
		defer metrics.PendingDeliveries.Dec()

		if err := r.notifier.Send(ctx, reply); err != nil {
			metrics.NotifyFailed.Inc()
			logger.Error("failed to deliver reply to chat", "err", err)
			return
		}
		metrics.NotifyDelivered.Inc()
		logger.Debug("reply delivered to chat")
	}()
}

// Wait blocks until every admitted message has been answered and its reply
// delivered, or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	return r.pending.wait(ctx)
}

// Pending reports how many messages are between admission and delivery.
func (r *Relay) Pending() int {
	return r.pending.count()
}

// Preview shortens s to at most 100 runes for log lines.
func Preview(s string) string {
	if len(s) <= previewRunes {
		return s
	}
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "..."
}
