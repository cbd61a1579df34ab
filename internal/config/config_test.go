package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"conveyor/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "conveyor")
	if cfg.Store.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Store.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "conveyor.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Node.Bind != "127.0.0.1:7440" {
		t.Fatalf("unexpected bind: %q", cfg.Node.Bind)
	}
	if cfg.Worker.HoldIntervalMS != 2000 || cfg.Worker.ShutdownTimeoutMS != 2000 || cfg.Worker.RecurringIntervalMS != 2000 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Status.FlushIntervalMS != 1000 {
		t.Fatalf("unexpected flush interval: %d", cfg.Status.FlushIntervalMS)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomConfigWithStages(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := `
[node]
bind = "0.0.0.0:9000"
url = "http://pipeline.local:9000/"
allowed_hosts = ["10.0.0.5", " LOCALHOST ", "localhost"]

[store]
data_dir = "~/pipeline"

[logging]
format = "JSON"
level = "DEBUG"

[stages.enrich]
type = "set"
threads = 4
field = "source"
value = "crawler"

[stages.enrich.query]
exists = { url = true }
`
	if err := os.WriteFile(configPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Store.DataDir != filepath.Join(tempHome, "pipeline") {
		t.Fatalf("unexpected data dir: %q", cfg.Store.DataDir)
	}
	if cfg.Node.URL != "http://pipeline.local:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Node.URL)
	}
	if got := strings.Join(cfg.Node.AllowedHosts, ","); got != "10.0.0.5,localhost" {
		t.Fatalf("unexpected allowed hosts: %q", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}

	props, ok := cfg.StageProperties("enrich")
	if !ok {
		t.Fatal("expected enrich stage properties")
	}
	if props["type"] != "set" {
		t.Fatalf("unexpected type: %v", props["type"])
	}
	if threads, ok := props["threads"].(int64); !ok || threads != 4 {
		t.Fatalf("unexpected threads: %#v", props["threads"])
	}
	query, ok := props["query"].(map[string]any)
	if !ok {
		t.Fatalf("expected query table, got %#v", props["query"])
	}
	if _, ok := query["exists"]; !ok {
		t.Fatalf("expected exists predicate in %#v", query)
	}

	props["type"] = "mutated"
	again, _ := cfg.StageProperties("enrich")
	if again["type"] != "set" {
		t.Fatal("expected StageProperties to return a copy")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONVEYOR_NODE_URL", "https://node.example:8443")
	t.Setenv("CONVEYOR_LOG_LEVEL", "warn")
	t.Setenv("CONVEYOR_ALLOWED_HOSTS", "a.example, b.example")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Node.URL != "https://node.example:8443" {
		t.Fatalf("unexpected url: %q", cfg.Node.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected level: %q", cfg.Logging.Level)
	}
	if len(cfg.Node.AllowedHosts) != 2 || cfg.Node.AllowedHosts[1] != "b.example" {
		t.Fatalf("unexpected hosts: %v", cfg.Node.AllowedHosts)
	}
}

func TestValidateRejectsStageWithoutType(t *testing.T) {
	cfg := config.Default()
	cfg.Stages["broken"] = config.StageProperties{"threads": 1}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "stages.broken.type") {
		t.Fatalf("expected missing type error, got %v", err)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsArchiveSmallerThanDocument(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.MaxBytes = 1024
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "archive.max_bytes") {
		t.Fatalf("expected archive bound error, got %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("expected 3 sample stages, got %d", len(cfg.Stages))
	}
}
