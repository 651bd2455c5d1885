package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
storage:
  root_dir: /tmp/mapstash-test
catalog:
  path: /tmp/mapstash-test/catalog.yaml
downloader:
  base_url: https://maps.example.com/v1
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Downloader.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", cfg.Downloader.Attempts)
	}
	if got := cfg.Downloader.GetTimeout(); got != 30*time.Minute {
		t.Errorf("GetTimeout() = %v, want 30m", got)
	}
	if got := cfg.Downloader.GetProgressInterval(); got != 300*time.Millisecond {
		t.Errorf("GetProgressInterval() = %v, want 300ms", got)
	}
	if !cfg.Journal.Enabled {
		t.Error("journal disabled by default")
	}
	if got := cfg.Journal.GetRetention(); got != 720*time.Hour {
		t.Errorf("GetRetention() = %v, want 720h", got)
	}
	if cfg.HTTP.BindAddr != "0.0.0.0:8080" {
		t.Errorf("BindAddr = %q, want 0.0.0.0:8080", cfg.HTTP.BindAddr)
	}
	if got := cfg.HTTP.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
	if !cfg.Catalog.Watch {
		t.Error("catalog watch disabled by default")
	}
	if got := cfg.Maintenance.GetRescanInterval(); got != time.Hour {
		t.Errorf("GetRescanInterval() = %v, want 1h", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
storage:
  root_dir: /data/maps
catalog:
  path: /data/catalog.yaml
  watch: false
downloader:
  base_url: https://maps.example.com/v1
  timeout: 10m
  attempts: 5
  retry_backoff: 500ms
journal:
  enabled: false
  retention: 48h
http:
  bind_addr: 127.0.0.1:9090
  debug_username: ops
  debug_password: secret
logging:
  level: debug
  format: text
maintenance:
  rescan_interval: 15m
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.RootDir != "/data/maps" {
		t.Errorf("RootDir = %q, want /data/maps", cfg.Storage.RootDir)
	}
	if cfg.Catalog.Watch {
		t.Error("catalog watch = true, want false")
	}
	if got := cfg.Downloader.GetTimeout(); got != 10*time.Minute {
		t.Errorf("GetTimeout() = %v, want 10m", got)
	}
	if cfg.Downloader.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", cfg.Downloader.Attempts)
	}
	if got := cfg.Downloader.GetRetryBackoff(); got != 500*time.Millisecond {
		t.Errorf("GetRetryBackoff() = %v, want 500ms", got)
	}
	if cfg.Journal.Enabled {
		t.Error("journal enabled, want disabled")
	}
	if got := cfg.Journal.GetRetention(); got != 48*time.Hour {
		t.Errorf("GetRetention() = %v, want 48h", got)
	}
	if cfg.HTTP.BindAddr != "127.0.0.1:9090" {
		t.Errorf("BindAddr = %q, want 127.0.0.1:9090", cfg.HTTP.BindAddr)
	}
	if cfg.HTTP.DebugUsername != "ops" {
		t.Errorf("DebugUsername = %q, want ops", cfg.HTTP.DebugUsername)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.Maintenance.GetRescanInterval(); got != 15*time.Minute {
		t.Errorf("GetRescanInterval() = %v, want 15m", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing base url",
			body: `
storage:
  root_dir: /tmp/x
catalog:
  path: /tmp/x/catalog.yaml
`,
			want: "downloader.base_url",
		},
		{
			name: "bad attempts",
			body: minimalConfig + `
  attempts: 0
`,
			want: "downloader.attempts",
		},
		{
			name: "bad timeout",
			body: minimalConfig + `
  timeout: soon
`,
			want: "downloader.timeout",
		},
		{
			name: "bad log level",
			body: minimalConfig + `
logging:
  level: loud
`,
			want: "logging.level",
		},
		{
			name: "bad log format",
			body: minimalConfig + `
logging:
  format: xml
`,
			want: "logging.format",
		},
		{
			name: "bad retention",
			body: minimalConfig + `
journal:
  retention: forever
`,
			want: "journal.retention",
		},
		{
			name: "bad rescan interval",
			body: minimalConfig + `
maintenance:
  rescan_interval: hourly
`,
			want: "maintenance.rescan_interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() succeeded on a missing file")
	}
}
