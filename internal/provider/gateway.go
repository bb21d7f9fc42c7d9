package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"synobridge/internal/domain"
	"synobridge/internal/metrics"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 4 << 20

// Gateway talks to an agent gateway's OpenResponses endpoint (/v1/responses).
type Gateway struct {
	endpoint    string
	baseURL     string
	token       string
	model       string
	agentID     string
	agentHeader string
	timeout     time.Duration
	client      *http.Client
	logger      *slog.Logger
}

type GatewayConfig struct {
	BaseURL     string
	Token       string
	Model       string
	AgentID     string
	AgentHeader string // header carrying AgentID; empty disables it
	Timeout     time.Duration
	Client      *http.Client
	Logger      *slog.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	endpoint, err := url.JoinPath(cfg.BaseURL, "v1", "responses")
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(HTTPClientConfig{Timeout: cfg.Timeout})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		endpoint:    endpoint,
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		model:       cfg.Model,
		agentID:     cfg.AgentID,
		agentHeader: cfg.AgentHeader,
		timeout:     cfg.Timeout,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}, nil
}

// Endpoint is the full /v1/responses URL requests are posted to.
func (g *Gateway) Endpoint() string { return g.endpoint }

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	User  string `json:"user"`
}

type responsesResponse struct {
	Output []responsesItem `json:"output"`
}

type responsesItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type responsesPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Ask forwards text to the gateway under the sender's session tag and returns
// the assistant's reply. See domain.Gateway for the error contract.
func (g *Gateway) Ask(ctx context.Context, text, userID, channelID string) (string, error) {
	logger := g.logger.With("user", domain.SessionTag(userID), "channel_id", channelID)

	body, err := json.Marshal(responsesRequest{
		Model: g.model,
		Input: text,
		User:  domain.SessionTag(userID),
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if g.agentHeader != "" {
		req.Header.Set(g.agentHeader, g.agentID)
	}

	logger.Debug("sending to gateway", "url", g.endpoint, "input_len", len(text))

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if !isDialError(err) && isTimeout(err) {
			return g.decline(logger, "timeout", "err", err, "timeout", g.timeout)
		}
		metrics.GatewayUnavailable.Inc()
		logger.Error("gateway unreachable", "url", g.endpoint, "err", err)
		return "", &domain.GatewayError{URL: g.endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return g.decline(logger, "read body", "err", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return g.decline(logger, "bad status", "status", resp.StatusCode, "body", truncate(string(data), 512))
	}

	reply, err := extractReply(data)
	if err != nil {
		return g.decline(logger, "unparseable response", "err", err, "body", truncate(string(data), 512))
	}
	if reply == "" {
		return g.decline(logger, "no assistant reply in response")
	}

	metrics.GatewayReplies.Inc()
	return reply, nil
}

// decline logs why no reply is available and resolves to "no reply".
func (g *Gateway) decline(logger *slog.Logger, reason string, args ...any) (string, error) {
	metrics.GatewayDeclined.Inc()
	args = append([]any{"reason", reason, "err_kind", domain.ErrGatewayDeclined}, args...)
	logger.Error("gateway returned no reply", args...)
	return "", nil
}

// extractReply returns the text of the first assistant message that carries
// an output_text or text part. An empty string means no such message exists.
func extractReply(data []byte) (string, error) {
	var resp responsesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		var parts []responsesPart
		if err := json.Unmarshal(item.Content, &parts); err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == "output_text" || p.Type == "text" {
				if p.Text != "" {
					return p.Text, nil
				}
				break
			}
		}
	}
	return "", nil
}

// Healthy reports whether the gateway host answers HTTP at all.
func (g *Gateway) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}

// isDialError reports a failure to connect at all. Such hosts are
// unreachable even when the dial itself timed out.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
