package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_NotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("expected no error for missing %s, got: %v", ConfigFile, err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Server.BootstrapPath != "/api/socket" {
		t.Errorf("Server.BootstrapPath = %q, want /api/socket", cfg.Server.BootstrapPath)
	}
	if cfg.Server.SocketPath != "/socket" {
		t.Errorf("Server.SocketPath = %q, want /socket", cfg.Server.SocketPath)
	}
	if cfg.Server.HealthAddr != "" {
		t.Errorf("expected health endpoint disabled by default, got %q", cfg.Server.HealthAddr)
	}
	if cfg.Completion.Model != "gpt-3.5-turbo" {
		t.Errorf("Completion.Model = %q, want gpt-3.5-turbo", cfg.Completion.Model)
	}
	if cfg.Completion.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("Completion.APIKeyEnv = %q", cfg.Completion.APIKeyEnv)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadConfig_Valid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `server:
  addr: ":8080"
  bootstrap_path: /bootstrap
  socket_path: /ws
  health_addr: ":9090"
  send_queue: 32
  allowed_origins:
    - https://chat.example.com
completion:
  api_key_env: MY_KEY
  model: gpt-4o-mini
  base_url: http://localhost:11434/v1
  timeout: 45s
log:
  level: debug
  pretty: true
client:
  url: http://relay:8080
  seed: seed.yaml
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.BootstrapPath != "/bootstrap" {
		t.Errorf("Server.BootstrapPath = %q", cfg.Server.BootstrapPath)
	}
	if cfg.Server.HealthAddr != ":9090" {
		t.Errorf("Server.HealthAddr = %q", cfg.Server.HealthAddr)
	}
	if cfg.Server.SocketPath != "/ws" {
		t.Errorf("Server.SocketPath = %q", cfg.Server.SocketPath)
	}
	if cfg.Server.SendQueue != 32 {
		t.Errorf("Server.SendQueue = %d", cfg.Server.SendQueue)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Completion.Model != "gpt-4o-mini" {
		t.Errorf("Completion.Model = %q", cfg.Completion.Model)
	}
	if cfg.Completion.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Completion.BaseURL = %q", cfg.Completion.BaseURL)
	}
	d, err := cfg.Completion.RequestTimeout()
	if err != nil || d != 45*time.Second {
		t.Errorf("RequestTimeout = %v, %v; want 45s", d, err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Client.URL != "http://relay:8080" || cfg.Client.Seed != "seed.yaml" {
		t.Errorf("Client = %+v", cfg.Client)
	}
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "completion:\n  model: gpt-4o\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.Model != "gpt-4o" {
		t.Errorf("Completion.Model = %q", cfg.Completion.Model)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadConfig_InvalidTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("completion:\n  timeout: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := CompletionSettings{Timeout: tt.in}.RequestTimeout()
		if (err != nil) != tt.wantErr {
			t.Errorf("RequestTimeout(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("RequestTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAPIKey_FromEnv(t *testing.T) {
	t.Setenv("STREAMCHAT_TEST_KEY", "sk-from-env")

	s := CompletionSettings{APIKeyEnv: "STREAMCHAT_TEST_KEY"}
	if got := s.APIKey(); got != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", got)
	}
}

func TestAPIKey_DefaultEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")

	if got := (CompletionSettings{}).APIKey(); got != "sk-default" {
		t.Errorf("APIKey = %q, want sk-default", got)
	}
}
