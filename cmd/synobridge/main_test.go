package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"synobridge/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
		want slog.Level
	}{
		{"default", config.LoggingConfig{}, slog.LevelInfo},
		{"warn", config.LoggingConfig{Level: "warn"}, slog.LevelWarn},
		{"verbose wins", config.LoggingConfig{Level: "error", Verbose: true}, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, closeLog, err := newLogger(tt.cfg, &buf)
			if err != nil {
				t.Fatal(err)
			}
			defer closeLog()
			if !l.Enabled(context.Background(), tt.want) {
				t.Errorf("level %v should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %v should be disabled", tt.want)
			}
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, closeLog, err := newLogger(config.LoggingConfig{Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()
	l.Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	var buf bytes.Buffer
	l, closeLog, err := newLogger(config.LoggingConfig{File: path}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("to file")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing record: %q", data)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written to the fallback writer")
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()

	configPath = ""
	t.Setenv("SYNOBRIDGE_CONFIG", "/etc/synobridge.yaml")
	if got := resolveConfigPath(); got != "/etc/synobridge.yaml" {
		t.Errorf("env path: got %q", got)
	}

	configPath = "/tmp/flag.yaml"
	if got := resolveConfigPath(); got != "/tmp/flag.yaml" {
		t.Errorf("flag should win, got %q", got)
	}

	configPath = ""
	t.Setenv("SYNOBRIDGE_CONFIG", "")
	if got := resolveConfigPath(); got != config.DefaultConfigPath() {
		t.Errorf("default path: got %q", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SYNOBRIDGE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNOBRIDGE_TEST_DOTENV", "")
	os.Unsetenv("SYNOBRIDGE_TEST_DOTENV")
	if err := loadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("SYNOBRIDGE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestConfigCmd_ShowMasksSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.Defaults()
	cfg.Gateway.Token = "supersecrettoken"
	cfg.Synology.WebhookURL = "https://nas.local:5001/webapi/entry.cgi?api=SYNO.Chat.External&method=incoming&version=2&token=abcdef123456"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", "--config", path, "--env-file", ""})
	if err := root.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), "supersecrettoken") || strings.Contains(out.String(), "abcdef123456") {
		t.Errorf("secrets leaked:\n%s", out.String())
	}
	configPath = ""
}

func TestConfigCmd_Get(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Defaults()
	cfg.Synology.WebhookURL = "https://nas.local/webapi/entry.cgi"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "get", "webhook.port", "--config", path, "--env-file", ""})
	if err := root.Execute(); err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out.String()) != "18790" {
		t.Errorf("got %q", out.String())
	}
	configPath = ""
}

func TestAskConfig(t *testing.T) {
	cfg := config.Template()
	in := strings.NewReader(strings.Join([]string{
		"http://gw.lan:18789",
		"",
		"ops",
		"https://nas.lan/webapi/entry.cgi?token=x",
		"9000",
		"",
	}, "\n") + "\n")
	var out bytes.Buffer
	if err := askConfig(cfg, in, &out); err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.URL != "http://gw.lan:18789" || cfg.Gateway.AgentID != "ops" {
		t.Errorf("gateway not updated: %+v", cfg.Gateway)
	}
	if cfg.Gateway.Token != "${SYNOBRIDGE_GATEWAY_TOKEN}" {
		t.Errorf("empty answer should keep the default token reference, got %q", cfg.Gateway.Token)
	}
	if cfg.Webhook.Port != 9000 || cfg.Webhook.Path != "/synology-chat-webhook" {
		t.Errorf("listener not updated: %+v", cfg.Webhook)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("wizard result should validate: %v", err)
	}
}

func TestAskConfig_BadPort(t *testing.T) {
	in := strings.NewReader("\n\n\nhttps://nas.lan/x\nnot-a-port\n")
	if err := askConfig(config.Template(), in, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestWizardSave_KeepsEnvSecretsOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := "gateway:\n  token: ${SYNOBRIDGE_GATEWAY_TOKEN}\nsynology:\n  webhookUrl: https://nas.lan/webapi/entry.cgi?token=x\n"
	if err := os.WriteFile(path, []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNOBRIDGE_GATEWAY_TOKEN", "super-secret-token")
	t.Setenv("SYNOBRIDGE_WEBHOOK_PORT", "20003")

	var out bytes.Buffer
	if err := wizardSave(path, strings.NewReader(strings.Repeat("\n", 6)), &out); err != nil {
		t.Fatalf("wizardSave: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	saved := string(data)
	if strings.Contains(saved, "super-secret-token") {
		t.Errorf("environment token written to config file:\n%s", saved)
	}
	if !strings.Contains(saved, "${SYNOBRIDGE_GATEWAY_TOKEN}") {
		t.Errorf("token reference should be kept:\n%s", saved)
	}
	if strings.Contains(saved, "20003") {
		t.Errorf("environment port written to config file:\n%s", saved)
	}
}

func TestWizardSave_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := strings.NewReader("\n\n\nhttps://nas.lan/webapi/entry.cgi?token=x\n\n\n")
	if err := wizardSave(path, in, &bytes.Buffer{}); err != nil {
		t.Fatalf("wizardSave: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Synology.WebhookURL != "https://nas.lan/webapi/entry.cgi?token=x" {
		t.Errorf("webhookUrl: got %q", cfg.Synology.WebhookURL)
	}
	if cfg.Gateway.Token != "${SYNOBRIDGE_GATEWAY_TOKEN}" {
		t.Errorf("token: got %q", cfg.Gateway.Token)
	}
}

func TestRunChecks_ReportsEveryUpstream(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	cfg := config.Defaults()
	cfg.Gateway.URL = gw.URL
	cfg.Synology.WebhookURL = "http://" + closedAddr + "/webapi/entry.cgi?token=x"

	rep := &report{}
	err = runChecks(context.Background(), cfg, rep)
	if err == nil || !strings.Contains(err.Error(), "synology") {
		t.Fatalf("expected synology failure, got %v", err)
	}

	status := map[string]string{}
	for _, r := range rep.results {
		status[r.name] = r.status
	}
	if status["Gateway"] != "PASS" {
		t.Errorf("gateway: got %q", status["Gateway"])
	}
	if status["Synology"] != "FAIL" {
		t.Errorf("synology: got %q", status["Synology"])
	}
}

func TestRunChecks_AllReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Gateway.URL = srv.URL
	cfg.Synology.WebhookURL = srv.URL + "/webapi/entry.cgi?token=x"

	rep := &report{}
	if err := runChecks(context.Background(), cfg, rep); err != nil {
		t.Fatalf("runChecks: %v", err)
	}
	if rep.count("PASS") != 2 {
		t.Errorf("expected 2 passes, got %+v", rep.results)
	}
}

func TestRenderServiceFiles(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/synobridge", "/etc/synobridge.yaml")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/synobridge serve --config /etc/synobridge.yaml") {
		t.Errorf("unexpected unit:\n%s", unit)
	}
	plist := renderLaunchd("/bin/sb", "/cfg.yaml", "/log", "/err")
	for _, want := range []string{"<string>/bin/sb</string>", "<string>serve</string>", launchdLabel, "<string>/err</string>"} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "{{") {
		t.Error("plist has unreplaced placeholders")
	}
}

func TestDrainTimeout_CoversGatewayAndDelivery(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.TimeoutSeconds = 60
	cfg.Synology.TimeoutSeconds = 30
	if got, want := drainTimeout(cfg), 95*time.Second; got != want {
		t.Errorf("drainTimeout = %v, want %v", got, want)
	}
}
