package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
telegram:
  token: "123:abc"
  send_timeout: 5s
feed:
  route_ids: [red, blue]
  active_only: true
watcher:
  enabled: true
  interval: 10s
  rate_per_sec: 10
storage:
  driver: sqlite
  path: /tmp/ctawatch.db
  busy_timeout: 1s
metrics:
  enabled: true
  listen: ":9177"
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token: %q", cfg.Telegram.Token)
	}
	if !cfg.Watcher.Enabled || cfg.Watcher.Interval != "10s" {
		t.Fatalf("watcher: %+v", cfg.Watcher)
	}
	if len(cfg.Feed.RouteIDs) != 2 || cfg.Feed.RouteIDs[1] != "blue" {
		t.Fatalf("route_ids: %v", cfg.Feed.RouteIDs)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"watcher":{"enabled":true,"interval":"30s"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Watcher.Interval != "30s" {
		t.Fatalf("interval: %q", cfg.Watcher.Interval)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "watcher:\n  intervall: 10s\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected strict decode to reject unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{"watcher":{}}{"extra":true}`))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("watcher.interval", "1m30s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("watcher.interval", "  "); err != nil || d != 0 {
		t.Fatalf("blank must parse to zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("watcher.interval", "ten seconds"); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
	if _, err := ParseDurationField("watcher.interval", "-5s"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("watcher.interval", "", 10*time.Second)
	if err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("watcher.interval", "3s", 10*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	sub := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatalf("wrong config delivered")
		}
	case <-time.After(time.Second):
		t.Fatalf("publish did not deliver")
	}

	// A full buffer drops the oldest update, never blocks the publisher.
	stale := &Config{}
	m.publish(stale)
	newest := &Config{}
	m.publish(newest)
	select {
	case got := <-sub:
		if got != newest {
			t.Fatalf("expected newest config after drop-oldest")
		}
	case <-time.After(time.Second):
		t.Fatalf("newest config not delivered")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("unsubscribe must close the channel")
	}
}
