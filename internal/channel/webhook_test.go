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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"synobridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRelay struct {
	mu   sync.Mutex
	msgs []domain.InboundMessage
	ids  []string
	err  error
}

func (f *fakeRelay) Handle(ctx context.Context, msg domain.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	f.ids = append(f.ids, domain.RequestID(ctx))
	return f.err
}

func newTestWebhook(relay Relayer) *Webhook {
	w := NewWebhook(WebhookConfig{
		Path:         "/synology-chat-webhook",
		MaxBodyBytes: 1024,
		MetricsPath:  "/metrics",
		Relay:        relay,
		Logger:       testLogger(),
	})
	w.now = func() time.Time {
		return time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.FixedZone("CET", 3600))
	}
	return w
}

func TestWebhook_Health(t *testing.T) {
	w := newTestWebhook(&fakeRelay{})
	for _, path := range []string{"/health", "/status"} {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			rec := httptest.NewRecorder()
			w.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("%s %s: expected 200, got %d", method, path, rec.Code)
			}
			var resp healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != "ok" || resp.Service != ServiceName {
				t.Errorf("unexpected health body %+v", resp)
			}
			if resp.Timestamp != "2024-03-01T11:30:45.123Z" {
				t.Errorf("timestamp = %q", resp.Timestamp)
			}
		}
	}
}

func TestWebhook_NotFound(t *testing.T) {
	relay := &fakeRelay{}
	w := newTestWebhook(relay)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/synology-chat-webhook"},
		{http.MethodPut, "/synology-chat-webhook"},
		{http.MethodPost, "/other"},
		{http.MethodGet, "/"},
		{http.MethodPost, "/metrics"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		w.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader("text=hi")))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tt.method, tt.path, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "Not Found" {
			t.Errorf("%s %s: body %q", tt.method, tt.path, rec.Body.String())
		}
	}
	if len(relay.msgs) != 0 {
		t.Errorf("relay should not be called, got %d messages", len(relay.msgs))
	}
}

func TestWebhook_FormRelayed(t *testing.T) {
	relay := &fakeRelay{}
	w := newTestWebhook(relay)

	req := httptest.NewRequest(http.MethodPost, "/synology-chat-webhook",
		strings.NewReader("username=alice&text=hello&channel_id=3&token=secret"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(relay.msgs) != 1 {
		t.Fatalf("expected 1 relayed message, got %d", len(relay.msgs))
	}
	if relay.msgs[0].UserID != "alice" || relay.msgs[0].Text != "hello" {
		t.Errorf("unexpected message %+v", relay.msgs[0])
	}
	if relay.ids[0] == "" {
		t.Error("relay context should carry a request id")
	}
}

func TestWebhook_JSONRelayed(t *testing.T) {
	relay := &fakeRelay{}
	w := newTestWebhook(relay)

	req := httptest.NewRequest(http.MethodPost, "/synology-chat-webhook",
		strings.NewReader(`{"username":"bob","text":"yo","user_id":5}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(relay.msgs) != 1 || relay.msgs[0].UserID != "bob" {
		t.Fatalf("unexpected relayed messages %+v", relay.msgs)
	}
}

func TestWebhook_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ctype     string
		relayErr  error
		wantCalls int
	}{
		{"malformed json", `{"text":`, "application/json", nil, 0},
		{"non-object json", `[1,2]`, "application/json", nil, 0},
		{"body too large", strings.Repeat("x", 2048), "application/x-www-form-urlencoded", nil, 0},
		{"gateway unavailable", "text=hi", "application/x-www-form-urlencoded",
			&domain.GatewayError{URL: "http://gw", Err: errors.New("connection refused")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &fakeRelay{err: tt.relayErr}
			w := newTestWebhook(relay)

			req := httptest.NewRequest(http.MethodPost, "/synology-chat-webhook", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ctype)
			rec := httptest.NewRecorder()
			w.ServeHTTP(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", rec.Body.String())
			}
			if len(relay.msgs) != tt.wantCalls {
				t.Errorf("relay calls = %d, want %d", len(relay.msgs), tt.wantCalls)
			}
		})
	}
}

func TestWebhook_Metrics(t *testing.T) {
	w := newTestWebhook(&fakeRelay{})
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "synobridge_uptime_seconds") {
		t.Errorf("metrics output missing uptime:\n%s", rec.Body.String())
	}
}

func TestWebhook_MetricsDisabled(t *testing.T) {
	w := NewWebhook(WebhookConfig{Relay: &fakeRelay{}, Logger: testLogger()})
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebhook_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	w := newTestWebhook(&fakeRelay{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx, ln) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/health", ln.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type stalledRelay struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stalledRelay) Handle(ctx context.Context, msg domain.InboundMessage) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestWebhook_ShutdownTimeoutIsNotAnError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	relay := &stalledRelay{entered: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(relay.release)
	w := NewWebhook(WebhookConfig{
		Relay:           relay,
		Logger:          testLogger(),
		ShutdownTimeout: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx, ln) }()

	go func() {
		resp, err := http.Post(fmt.Sprintf("http://%s/synology-chat-webhook", ln.Addr()),
			"application/x-www-form-urlencoded", strings.NewReader("username=alice&text=hello"))
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-relay.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the relay")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the shutdown timeout")
	}
}
