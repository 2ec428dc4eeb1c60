package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Errorf("Sync.Interval = %v, want 10m", cfg.Sync.Interval)
	}
	if cfg.Sync.CallTimeout != 15*time.Second {
		t.Errorf("Sync.CallTimeout = %v", cfg.Sync.CallTimeout)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("Sync.MaxAttempts = %d", cfg.Sync.MaxAttempts)
	}
	if cfg.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("GitHub.APIURL = %q", cfg.GitHub.APIURL)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path is empty")
	}
	if cfg.Dashboard.Host != "127.0.0.1" {
		t.Errorf("Dashboard.Host = %q, want loopback", cfg.Dashboard.Host)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
user = "ada@example.com"

[sync]
interval = "30m"
max_attempts = 2

[trello]
api_key = "from-file"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BLIQ_TRELLO_API_KEY", "from-env")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.User != "ada@example.com" {
		t.Errorf("User = %q", cfg.User)
	}
	if cfg.Sync.Interval != 30*time.Minute || cfg.Sync.MaxAttempts != 2 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Trello.APIKey != "from-env" {
		t.Errorf("env did not override file: %q", cfg.Trello.APIKey)
	}
	if cfg.Sync.CallTimeout != 15*time.Second {
		t.Errorf("unset key lost its default: %v", cfg.Sync.CallTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"interval too short", "[sync]\ninterval = \"1s\"\n", "sync.interval"},
		{"zero attempts", "[sync]\nmax_attempts = 0\n", "sync.max_attempts"},
		{"bad port", "[dashboard]\nport = 70000\n", "dashboard.port"},
		{"not toml", "this is = = not toml", "failed to read config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := NewLoader(path).Load()
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("got %v, want error mentioning %q", err, tt.errMsg)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("expected error when config exists")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("force overwrite failed: %v", err)
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		t.Fatalf("written config is not TOML: %v", err)
	}
	sync, ok := raw["sync"].(map[string]interface{})
	if !ok || sync["interval"] != "10m" {
		t.Errorf("sync section = %v", raw["sync"])
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load of written defaults failed: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Errorf("Interval = %v", cfg.Sync.Interval)
	}
}

func TestWriteTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \":9000\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := l.WriteTOML(&buf); err != nil {
		t.Fatalf("WriteTOML failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `addr = ":9000"`) || !strings.Contains(out, "[sync]") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bliq.log")
	cfg := LogConfig{File: path, MaxSizeMB: 1}
	defer CloseLogs()

	a := NewLogger(cfg, "[sync] ")
	b := NewLogger(cfg, "[daemon] ")
	if a.Writer() != b.Writer() {
		t.Error("loggers for one file should share a writer")
	}
	a.Printf("pulled %d", 3)
	b.Printf("tick")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[sync] ") || !strings.Contains(string(data), "[daemon] ") {
		t.Errorf("unexpected log contents: %s", data)
	}

	if NewLogger(LogConfig{}, "[x] ").Writer() != os.Stderr {
		t.Error("empty file should log to stderr")
	}
}
