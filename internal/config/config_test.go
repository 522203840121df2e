package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hro-mesh/meshapp/internal/config"
	"github.com/hro-mesh/meshapp/internal/devicetype"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.CoAP.Addr != "[::]:5683" {
		t.Errorf("CoAP.Addr = %q, want %q", cfg.CoAP.Addr, "[::]:5683")
	}

	if cfg.Admin.Addr != "127.0.0.1:8780" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, "127.0.0.1:8780")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Flash.SlotSize != 2048 {
		t.Errorf("Flash.SlotSize = %d, want %d", cfg.Flash.SlotSize, 2048)
	}

	if cfg.Flash.PageSize != 8192 {
		t.Errorf("Flash.PageSize = %d, want %d", cfg.Flash.PageSize, 8192)
	}

	if cfg.Discovery.WatchdogPeriod != 300*time.Second {
		t.Errorf("Discovery.WatchdogPeriod = %v, want %v", cfg.Discovery.WatchdogPeriod, 300*time.Second)
	}

	if cfg.Discovery.RefreshGuard != 1200*time.Second {
		t.Errorf("Discovery.RefreshGuard = %v, want %v", cfg.Discovery.RefreshGuard, 1200*time.Second)
	}

	if cfg.Radio.Backend != "fake" {
		t.Errorf("Radio.Backend = %q, want %q", cfg.Radio.Backend, "fake")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
coap:
  addr: "[::]:6000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
identity:
  group: "kitchen"
  type: "SWITCH"
flash:
  slot_size: 1024
  page_size: 4096
  debounce: "5s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.CoAP.Addr != "[::]:6000" {
		t.Errorf("CoAP.Addr = %q, want %q", cfg.CoAP.Addr, "[::]:6000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Identity.Group != "kitchen" {
		t.Errorf("Identity.Group = %q, want %q", cfg.Identity.Group, "kitchen")
	}

	if cfg.Flash.SlotSize != 1024 {
		t.Errorf("Flash.SlotSize = %d, want %d", cfg.Flash.SlotSize, 1024)
	}

	if cfg.Flash.Debounce != 5*time.Second {
		t.Errorf("Flash.Debounce = %v, want %v", cfg.Flash.Debounce, 5*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override coap.addr and log.level.
	yamlContent := `
coap:
  addr: "[::]:7000"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.CoAP.Addr != "[::]:7000" {
		t.Errorf("CoAP.Addr = %q, want %q", cfg.CoAP.Addr, "[::]:7000")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Flash.SlotSize != 2048 {
		t.Errorf("Flash.SlotSize = %d, want default %d", cfg.Flash.SlotSize, 2048)
	}

	if cfg.Radio.Backend != "fake" {
		t.Errorf("Radio.Backend = %q, want default %q", cfg.Radio.Backend, "fake")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty coap addr",
			modify: func(cfg *config.Config) {
				cfg.CoAP.Addr = ""
			},
			wantErr: config.ErrEmptyCoAPAddr,
		},
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "group too long",
			modify: func(cfg *config.Config) {
				cfg.Identity.Group = "way_too_long_group"
			},
			wantErr: config.ErrInvalidGroup,
		},
		{
			name: "group contains underscore",
			modify: func(cfg *config.Config) {
				cfg.Identity.Group = "has_sep"
			},
			wantErr: config.ErrInvalidGroup,
		},
		{
			name: "zero slot size",
			modify: func(cfg *config.Config) {
				cfg.Flash.SlotSize = 0
			},
			wantErr: config.ErrInvalidSlotSize,
		},
		{
			name: "misaligned slot size",
			modify: func(cfg *config.Config) {
				cfg.Flash.SlotSize = 17
			},
			wantErr: config.ErrInvalidSlotSize,
		},
		{
			name: "page size not multiple of slot size",
			modify: func(cfg *config.Config) {
				cfg.Flash.PageSize = 4097
			},
			wantErr: config.ErrInvalidPageSize,
		},
		{
			name: "bad radio backend",
			modify: func(cfg *config.Config) {
				cfg.Radio.Backend = "bogus"
			},
			wantErr: config.ErrInvalidRadioBack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadWithPairs(t *testing.T) {
	t.Parallel()

	yamlContent := `
coap:
  addr: "[::]:5683"
pairs:
  - name: "kitchen_3_aabbccddeeff0011"
    addr: "fd00::1"
  - name: "hall_4_112233445566aabb"
    addr: "fd00::2"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Pairs) != 2 {
		t.Fatalf("Pairs count = %d, want 2", len(cfg.Pairs))
	}

	p1 := cfg.Pairs[0]
	if p1.Name != "kitchen_3_aabbccddeeff0011" {
		t.Errorf("Pairs[0].Name = %q, want %q", p1.Name, "kitchen_3_aabbccddeeff0011")
	}
	addr, err := p1.IPAddr()
	if err != nil {
		t.Fatalf("Pairs[0].IPAddr() error: %v", err)
	}
	if addr.String() != "fd00::1" {
		t.Errorf("Pairs[0].IPAddr() = %s, want fd00::1", addr)
	}

	if cfg.Pairs[0].PairKey() == cfg.Pairs[1].PairKey() {
		t.Error("Pairs[0] and Pairs[1] have the same key, expected different")
	}
}

func TestValidatePairErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty pair addr",
			modify: func(cfg *config.Config) {
				cfg.Pairs = []config.PairConfig{{Name: "a_1_aabbccddeeff0011", Addr: ""}}
			},
			wantErr: config.ErrInvalidPairAddr,
		},
		{
			name: "invalid pair addr",
			modify: func(cfg *config.Config) {
				cfg.Pairs = []config.PairConfig{{Name: "a_1_aabbccddeeff0011", Addr: "not-an-ip"}}
			},
			wantErr: config.ErrInvalidPairAddr,
		},
		{
			name: "duplicate pair keys",
			modify: func(cfg *config.Config) {
				cfg.Pairs = []config.PairConfig{
					{Name: "a_1_aabbccddeeff0011", Addr: "fd00::1"},
					{Name: "a_1_aabbccddeeff0011", Addr: "fd00::1"},
				}
			},
			wantErr: config.ErrDuplicatePairKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
coap:
  addr: "[::]:5683"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("MESHAPP_COAP_ADDR", "[::]:6001")
	t.Setenv("MESHAPP_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.CoAP.Addr != "[::]:6001" {
		t.Errorf("CoAP.Addr = %q, want %q (from env)", cfg.CoAP.Addr, "[::]:6001")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
coap:
  addr: "[::]:5683"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("MESHAPP_METRICS_ADDR", ":9200")
	t.Setenv("MESHAPP_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "meshapp.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}

func TestValidateURIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{
			name: "too many uris",
			modify: func(cfg *config.Config) {
				cfg.URIs = []config.URIConfig{
					{Path: "a", Type: "LIGHTING"},
					{Path: "b", Type: "LIGHTING"},
					{Path: "c", Type: "LIGHTING"},
					{Path: "d", Type: "LIGHTING"},
				}
			},
		},
		{
			name: "empty path",
			modify: func(cfg *config.Config) {
				cfg.URIs = []config.URIConfig{{Path: "", Type: "LIGHTING"}}
			},
		},
		{
			name: "path exceeds 24 bytes",
			modify: func(cfg *config.Config) {
				cfg.URIs = []config.URIConfig{{Path: "a/very/long/resource/path/x", Type: "LIGHTING"}}
			},
		},
		{
			name: "unknown type name",
			modify: func(cfg *config.Config) {
				cfg.URIs = []config.URIConfig{{Path: "light/on_off", Type: "TOASTER"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestIdentityRuleSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rules     []string
		wantAllow map[devicetype.Type]bool
		wantErr   bool
	}{
		{
			name:      "empty list denies all",
			rules:     nil,
			wantAllow: map[devicetype.Type]bool{devicetype.Lighting: false},
		},
		{
			name:      "NO_RULES allows all",
			rules:     []string{"NO_RULES"},
			wantAllow: map[devicetype.Type]bool{devicetype.Lighting: true, devicetype.Alarm: true},
		},
		{
			name:  "membership list",
			rules: []string{"LIGHTING", "SENSOR"},
			wantAllow: map[devicetype.Type]bool{
				devicetype.Lighting: true,
				devicetype.Sensor:   true,
				devicetype.Alarm:    false,
			},
		},
		{
			name:    "unknown name",
			rules:   []string{"TOASTER"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ic := config.IdentityConfig{Rules: tt.rules}
			rs, err := ic.RuleSet()
			if tt.wantErr {
				if err == nil {
					t.Fatal("RuleSet() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("RuleSet() error: %v", err)
			}
			for typ, want := range tt.wantAllow {
				if got := rs.Allowed(typ); got != want {
					t.Errorf("Allowed(%s) = %v, want %v", typ, got, want)
				}
			}
		})
	}
}
