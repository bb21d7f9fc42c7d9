package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"synobridge/internal/domain"
	"synobridge/internal/metrics"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "synology-chat-bridge"

// Relayer carries a normalized message through guard, gateway and notifier.
// A non-nil error means the request failed and is answered with 500.
type Relayer interface {
	Handle(ctx context.Context, msg domain.InboundMessage) error
}

// WebhookConfig configures the ingress listener.
type WebhookConfig struct {
	Host         string
	Port         int
	Path         string // outgoing-webhook path (default: /synology-chat-webhook)
	MaxBodyBytes int64
	MetricsPath  string // empty disables the metrics endpoint
	Relay        Relayer
	Logger       *slog.Logger

	// ShutdownTimeout bounds how long Serve waits for active requests after
	// cancellation (default 5s). Requests still running are left to finish.
	ShutdownTimeout time.Duration
}

// Webhook receives Synology Chat outgoing-webhook calls and answers
// health checks.
type Webhook struct {
	host        string
	port        int
	path        string
	maxBody     int64
	metricsPath string
	relay       Relayer
	logger      *slog.Logger
	server      *http.Server
	shutdown    time.Duration
	now         func() time.Time
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/synology-chat-webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 18790
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Webhook{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		maxBody:     cfg.MaxBodyBytes,
		metricsPath: cfg.MetricsPath,
		relay:       cfg.Relay,
		logger:      cfg.Logger,
		shutdown:    cfg.ShutdownTimeout,
		now:         time.Now,
	}
}

func (w *Webhook) Addr() string {
	return net.JoinHostPort(w.host, strconv.Itoa(w.port))
}

// Start listens on the configured address and serves until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.Addr())
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	return w.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled, then shuts the
// server down gracefully.
func (w *Webhook) Serve(ctx context.Context, ln net.Listener) error {
	w.server = &http.Server{
		Handler:           w,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", ln.Addr().String(), "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdown)
		defer cancel()
		err := w.server.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn("webhook requests still running at shutdown", "timeout", w.shutdown)
			return nil
		}
		return err
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" || r.URL.Path == "/status":
		w.handleHealth(rw)
	case r.URL.Path == w.path && r.Method == http.MethodPost:
		w.handleWebhook(rw, r)
	case w.metricsPath != "" && r.URL.Path == w.metricsPath && r.Method == http.MethodGet:
		metrics.Collector.Handler()(rw, r)
	default:
		http.Error(rw, "Not Found", http.StatusNotFound)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (w *Webhook) handleHealth(rw http.ResponseWriter) {
	writeJSON(rw, http.StatusOK, healthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Timestamp: w.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	metrics.InflightRequests.Inc()
	defer metrics.InflightRequests.Dec()

	reqID := uuid.NewString()
	log := w.logger.With("request_id", reqID)

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, w.maxBody))
	r.Body.Close()
	if err != nil {
		w.fail(rw, log, "read webhook body", err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	msg, err := Normalize(contentType, body)
	if err != nil {
		w.fail(rw, log, "parse webhook payload", err)
		return
	}

	log.Debug("webhook payload",
		"content_type", contentType,
		"user_id", msg.UserID,
		"user_name", msg.UserName,
		"username", msg.Handle,
		"channel_id", msg.ChannelID,
		"channel_name", msg.ChannelName,
		"post_id", msg.PostID,
		"timestamp", msg.Timestamp,
		"text_len", len(msg.Text),
	)

	// Synology may give up on the request before the gateway answers; the
	// reply should still be delivered.
	ctx := domain.WithRequestID(context.WithoutCancel(r.Context()), reqID)
	if err := w.relay.Handle(ctx, msg); err != nil {
		w.fail(rw, log, "relay message", err)
		return
	}

	writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
}

func (w *Webhook) fail(rw http.ResponseWriter, log *slog.Logger, op string, err error) {
	metrics.WebhookErrored.Inc()
	log.Error("webhook request failed", "op", op, "err", err)
	rw.WriteHeader(http.StatusInternalServerError)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
