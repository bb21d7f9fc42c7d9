package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"synobridge/internal/domain"
	"synobridge/internal/provider"
)

const maxAckBytes = 64 << 10

// SynologyNotifier posts replies to a Synology Chat incoming webhook.
type SynologyNotifier struct {
	webhookURL string
	target     *url.URL
	timeout    time.Duration
	maxChars   int
	client     *http.Client
	logger     *slog.Logger
}

type NotifierConfig struct {
	WebhookURL         string
	Timeout            time.Duration
	InsecureSkipVerify bool
	MaxMessageChars    int          // split longer replies; 0 sends them whole
	Client             *http.Client // optional; built from Timeout/InsecureSkipVerify when nil
	Logger             *slog.Logger
}

func NewNotifier(cfg NotifierConfig) (*SynologyNotifier, error) {
	target, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("synology webhook url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("synology webhook url: unsupported scheme %q", target.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = provider.NewHTTPClient(provider.HTTPClientConfig{
			Timeout:            cfg.Timeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
	}
	if cfg.InsecureSkipVerify && target.Scheme == "https" {
		cfg.Logger.Warn("TLS certificate verification is DISABLED for the Synology webhook",
			"host", target.Host)
	}
	return &SynologyNotifier{
		webhookURL: cfg.WebhookURL,
		target:     target,
		timeout:    cfg.Timeout,
		maxChars:   cfg.MaxMessageChars,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}, nil
}

// Send delivers text to the chat channel. Long text is split into several
// posts when MaxMessageChars is set; delivery stops at the first failure.
// Failures wrap domain.ErrNotifyFailed.
func (n *SynologyNotifier) Send(ctx context.Context, text string) error {
	chunks := []string{text}
	if n.maxChars > 0 {
		chunks = splitMessage(text, n.maxChars)
	}
	for i, chunk := range chunks {
		if err := n.post(ctx, chunk); err != nil {
			if len(chunks) > 1 {
				return fmt.Errorf("part %d/%d: %w", i+1, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

// EncodePayload builds the form body the incoming webhook expects:
// payload=<url-encoded JSON {"text": ...}>.
func EncodePayload(text string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Text string `json:"text"`
	}{text}); err != nil {
		return "", err
	}
	return url.Values{"payload": {strings.TrimSuffix(buf.String(), "\n")}}.Encode(), nil
}

type synologyAck struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (n *SynologyNotifier) post(ctx context.Context, text string) error {
	form, err := EncodePayload(text)
	if err != nil {
		return &domain.NotifyError{Err: fmt.Errorf("encode payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, strings.NewReader(form))
	if err != nil {
		return &domain.NotifyError{Err: err}
	}
	req.Header.Set("Content-Type", formContentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return &domain.NotifyError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.NotifyError{Status: resp.StatusCode, Body: string(body)}
	}

	var ack synologyAck
	if err := json.Unmarshal(body, &ack); err != nil {
		// The acknowledgement format is not guaranteed; a 2xx is enough.
		n.logger.Debug("chat accepted message (non-JSON acknowledgement)", "status", resp.StatusCode)
		return nil
	}
	if ack.Success != nil && !*ack.Success {
		return &domain.NotifyError{Status: resp.StatusCode, Body: string(body)}
	}
	n.logger.Debug("chat accepted message", "status", resp.StatusCode)
	return nil
}

// Reachable dials the webhook host to check that it accepts connections.
func (n *SynologyNotifier) Reachable(ctx context.Context) error {
	host := n.target.Host
	if n.target.Port() == "" {
		port := "80"
		if n.target.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(n.target.Hostname(), port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("synology host not reachable: %w", err)
	}
	return conn.Close()
}
