package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskforge-sync/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskforge.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.WebsocketURL(); got != "ws://localhost:8080/ws" {
		t.Fatalf("unexpected websocket url %q", got)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `{
		// shared team server
		"serverUrl": "https://boards.example.com/",
		"board": "from-file",
		"token": "file-token",
		"cacheTtl": "1m",
		"reconnectAttempts": 7,
	}`)
	environ := map[string]string{
		"TASKFORGE_CONFIG": path,
		"TASKFORGE_BOARD":  "from-env",
		"TASKFORGE_TOKEN":  "env-token",
	}

	cfg, err := loadConfig([]string{"--board", "from-flag"}, environ)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Board != "from-flag" {
		t.Fatalf("flag must win, got %q", cfg.Board)
	}
	if cfg.Token != "env-token" {
		t.Fatalf("env must override the file, got %q", cfg.Token)
	}
	if cfg.CacheTTL != time.Minute || cfg.ReconnectAttempts != 7 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if got := cfg.WebsocketURL(); got != "wss://boards.example.com/ws" {
		t.Fatalf("unexpected websocket url %q", got)
	}
}

func TestLoadConfigFlagPathWinsOverEnvPath(t *testing.T) {
	envPath := writeConfig(t, `{"board": "env-file"}`)
	flagPath := writeConfig(t, `{"board": "flag-file"}`)

	cfg, err := loadConfig([]string{"-c", flagPath}, map[string]string{"TASKFORGE_CONFIG": envPath})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Board != "flag-file" {
		t.Fatalf("unexpected board %q", cfg.Board)
	}
}

func TestLoadConfigRejectsUnknownFileKeys(t *testing.T) {
	path := writeConfig(t, `{"serverURL": "http://typo"}`)
	if _, err := loadConfig([]string{"--config", path}, map[string]string{}); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoadConfigMove(t *testing.T) {
	cfg, err := loadConfig([]string{"--move", "A", "--to", "doing", "--index", "2"}, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MoveCard != "A" || cfg.MoveTo != domain.Doing || cfg.MoveToIndex != 2 {
		t.Fatalf("unexpected move %+v", cfg)
	}

	if _, err := loadConfig([]string{"--move", "A", "--to", "archive"}, map[string]string{}); err == nil {
		t.Fatalf("expected unknown destination list to be rejected")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string][]string{
		"redis without user": {"--redis", "localhost:6379"},
		"negative ttl":       {"--cache-ttl=-1s"},
		"no attempts":        {"--reconnect-attempts", "0"},
		"unknown flag":       {"--nope"},
	}
	for name, args := range cases {
		if _, err := loadConfig(args, map[string]string{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
