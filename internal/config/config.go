// Package config manages meshapp daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables, layered: defaults,
// then file, then env overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hro-mesh/meshapp/internal/devicetype"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete meshapp configuration.
type Config struct {
	CoAP      CoAPConfig      `koanf:"coap"`
	Admin     AdminConfig     `koanf:"admin"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Identity  IdentityConfig  `koanf:"identity"`
	Flash     FlashConfig     `koanf:"flash"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Radio     RadioConfig     `koanf:"radio"`
	Pairs     []PairConfig    `koanf:"pairs"`
	URIs      []URIConfig     `koanf:"uris"`
}

// CoAPConfig holds the CoAP server listen configuration.
type CoAPConfig struct {
	// Addr is the CoAP (UDP) listen address, e.g. "[::]:5683".
	Addr string `koanf:"addr"`
}

// AdminConfig holds the local admin HTTP/JSON API configuration
// consumed by meshappctl.
type AdminConfig struct {
	// Addr is the admin HTTP listen address, e.g. "127.0.0.1:8780".
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// IdentityConfig holds the local node's group/type identity.
// EUI-64 is never configured here — it is acquired from the radio at
// startup.
type IdentityConfig struct {
	// Group is the administrator-assigned group name, 1-9 bytes, no '_'.
	Group string `koanf:"group"`
	// Type is the device-type wire name (e.g. "LIGHTING_ON_OFF").
	Type string `koanf:"type"`
	// Rules is the admission rule set applied by the pair worker.
	// Empty means deny-all; the literal "NO_RULES" means allow-all;
	// otherwise a list of type wire names.
	Rules []string `koanf:"rules"`
}

// FlashConfig holds the wear-leveled settings store geometry.
type FlashConfig struct {
	// Path, if set, is a flash/MTD device node backing the settings
	// store. Empty uses an in-memory FlashDevice (development/testing).
	Path string `koanf:"path"`
	// PageSize is the flash page size in bytes (default 8192).
	PageSize int `koanf:"page_size"`
	// SlotSize is the per-slot size in bytes (default 2048).
	SlotSize int `koanf:"slot_size"`
	// Debounce is the flush debounce period (default 10s).
	Debounce time.Duration `koanf:"debounce"`
}

// DiscoveryConfig holds the DNS-SD/SRP service lifecycle
// configuration.
type DiscoveryConfig struct {
	// Domain is the DNS-SD domain browsed for peers, e.g.
	// "default.service.arpa.".
	Domain string `koanf:"domain"`
	// SRPServer is the address of the SRP/DNS Update server, e.g.
	// "[::1]:53".
	SRPServer string `koanf:"srp_server"`
	// ServiceLease is the SRP service lease interval (default 7200s).
	ServiceLease time.Duration `koanf:"service_lease"`
	// KeyLease is the SRP key lease interval (default 86400s).
	KeyLease time.Duration `koanf:"key_lease"`
	// WatchdogPeriod is the lease-watchdog tick period (default 300s).
	WatchdogPeriod time.Duration `koanf:"watchdog_period"`
	// RefreshGuard is the remaining-lease threshold that triggers a
	// refresh (default 1200s, i.e. 4x WatchdogPeriod).
	RefreshGuard time.Duration `koanf:"refresh_guard"`
}

// RadioConfig selects and configures the Thread/IPv6 radio backend.
type RadioConfig struct {
	// Backend is "dbus" (real otbr-agent) or "fake" (development).
	Backend string `koanf:"backend"`
	// DBusObjectPath is the otbr-agent D-Bus object path, e.g.
	// "/io/openthread/BorderRouter/wpan0".
	DBusObjectPath string `koanf:"dbus_object_path"`
}

// PairConfig describes an administrator-pinned peer from the
// declarative "pairs:" list, reconciled into the pair queue at startup
// and on SIGHUP.
type PairConfig struct {
	// Name is the peer's canonical name.
	Name string `koanf:"name"`
	// Addr is the peer's IPv6 address.
	Addr string `koanf:"addr"`
}

// URIConfig describes one device-specific resource the node
// advertises in its catalog. Declaring these in config lets the daemon
// serve a concrete device's surface without recompiling.
type URIConfig struct {
	// Path is the resource path, at most 24 bytes.
	Path string `koanf:"path"`
	// Type is the resource's device-type wire name.
	Type string `koanf:"type"`
	// Observable marks the resource as subscribe-able.
	Observable bool `koanf:"observable"`
}

// PairKey returns a unique identifier for the declarative pair, used by
// validation to reject duplicate entries.
func (pc PairConfig) PairKey() string {
	return pc.Name + "|" + pc.Addr
}

// IPAddr parses Addr as a netip.Addr.
func (pc PairConfig) IPAddr() (netip.Addr, error) {
	if pc.Addr == "" {
		return netip.Addr{}, fmt.Errorf("pair addr: %w", ErrInvalidPairAddr)
	}
	addr, err := netip.ParseAddr(pc.Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse pair addr %q: %w", pc.Addr, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults:
// the standard CoAP port, the DNS-SD default domain, and the stock
// lease, flash, and debounce intervals.
func DefaultConfig() *Config {
	return &Config{
		CoAP: CoAPConfig{
			Addr: "[::]:5683",
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:8780",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Identity: IdentityConfig{
			Group: "mesh",
			Type:  "SWITCH",
			Rules: []string{"NO_RULES"},
		},
		Flash: FlashConfig{
			PageSize: 8192,
			SlotSize: 2048,
			Debounce: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Domain:         "default.service.arpa.",
			ServiceLease:   7200 * time.Second,
			KeyLease:       86400 * time.Second,
			WatchdogPeriod: 300 * time.Second,
			RefreshGuard:   1200 * time.Second,
		},
		Radio: RadioConfig{
			Backend:        "fake",
			DBusObjectPath: "/io/openthread/BorderRouter/wpan0",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshapp configuration.
// Variables are named MESHAPP_<section>_<key>, e.g., MESHAPP_COAP_ADDR.
const envPrefix = "MESHAPP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MESHAPP_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MESHAPP_COAP_ADDR -> coap.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"coap.addr":                defaults.CoAP.Addr,
		"admin.addr":               defaults.Admin.Addr,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"identity.group":           defaults.Identity.Group,
		"identity.type":            defaults.Identity.Type,
		"identity.rules":           defaults.Identity.Rules,
		"flash.page_size":          defaults.Flash.PageSize,
		"flash.slot_size":          defaults.Flash.SlotSize,
		"flash.debounce":           defaults.Flash.Debounce.String(),
		"discovery.domain":         defaults.Discovery.Domain,
		"discovery.service_lease":  defaults.Discovery.ServiceLease.String(),
		"discovery.key_lease":      defaults.Discovery.KeyLease.String(),
		"discovery.watchdog_period": defaults.Discovery.WatchdogPeriod.String(),
		"discovery.refresh_guard":  defaults.Discovery.RefreshGuard.String(),
		"radio.backend":            defaults.Radio.Backend,
		"radio.dbus_object_path":   defaults.Radio.DBusObjectPath,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyCoAPAddr     = errors.New("coap.addr must not be empty")
	ErrEmptyAdminAddr    = errors.New("admin.addr must not be empty")
	ErrInvalidGroup      = errors.New("identity.group must be 1-9 bytes and must not contain '_'")
	ErrInvalidPageSize   = errors.New("flash.page_size must be a positive multiple of flash.slot_size")
	ErrInvalidSlotSize   = errors.New("flash.slot_size must be > 0 and a multiple of 16")
	ErrInvalidRadioBack  = errors.New("radio.backend must be \"dbus\" or \"fake\"")
	ErrInvalidPairAddr   = errors.New("pair address is invalid")
	ErrDuplicatePairKey  = errors.New("duplicate pair key")
	ErrTooManyURIs       = errors.New("uris may carry at most 3 entries")
	ErrInvalidURIPath    = errors.New("uri path must be 1-24 bytes")
)

// ValidRadioBackends lists the recognized radio backend names.
var ValidRadioBackends = map[string]bool{
	"dbus": true,
	"fake": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.CoAP.Addr == "" {
		return ErrEmptyCoAPAddr
	}
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if cfg.Identity.Group != "" {
		if len(cfg.Identity.Group) > 9 || strings.Contains(cfg.Identity.Group, "_") {
			return ErrInvalidGroup
		}
	}

	if cfg.Identity.Type != "" {
		if _, err := devicetype.ParseName(cfg.Identity.Type); err != nil {
			return fmt.Errorf("identity.type: %w", err)
		}
	}

	if cfg.Flash.SlotSize <= 0 || cfg.Flash.SlotSize%16 != 0 {
		return ErrInvalidSlotSize
	}
	if cfg.Flash.PageSize <= 0 || cfg.Flash.PageSize%cfg.Flash.SlotSize != 0 {
		return ErrInvalidPageSize
	}

	if cfg.Radio.Backend != "" && !ValidRadioBackends[cfg.Radio.Backend] {
		return ErrInvalidRadioBack
	}

	if err := validatePairs(cfg.Pairs); err != nil {
		return err
	}

	if err := validateURIs(cfg.URIs); err != nil {
		return err
	}

	return nil
}

// maxDeviceURIs bounds the advertised catalog.
const maxDeviceURIs = 3

// maxURIPathLen is the catalog record's fixed path-field width.
const maxURIPathLen = 24

// validateURIs checks each advertised resource entry for correctness.
func validateURIs(uris []URIConfig) error {
	if len(uris) > maxDeviceURIs {
		return fmt.Errorf("uris: %d entries: %w", len(uris), ErrTooManyURIs)
	}
	for i, u := range uris {
		if u.Path == "" || len(u.Path) > maxURIPathLen {
			return fmt.Errorf("uris[%d] path %q: %w", i, u.Path, ErrInvalidURIPath)
		}
		if _, err := devicetype.ParseName(u.Type); err != nil {
			return fmt.Errorf("uris[%d]: %w", i, err)
		}
	}
	return nil
}

// RuleSet resolves the Identity.Rules name list into the admission
// policy sum type: an empty list denies
// all, the "NO_RULES" sentinel allows all, otherwise membership in the
// named set is required.
func (ic IdentityConfig) RuleSet() (devicetype.RuleSet, error) {
	if len(ic.Rules) == 0 {
		return devicetype.DenyAll(), nil
	}
	types := make([]devicetype.Type, 0, len(ic.Rules))
	for _, name := range ic.Rules {
		if name == "NO_RULES" {
			return devicetype.AllowAll(), nil
		}
		t, err := devicetype.ParseName(name)
		if err != nil {
			return devicetype.DenyAll(), fmt.Errorf("identity.rules: %w", err)
		}
		types = append(types, t)
	}
	return devicetype.Only(types...), nil
}

// validatePairs checks each declarative pair entry for correctness.
func validatePairs(pairs []PairConfig) error {
	seen := make(map[string]struct{}, len(pairs))

	for i, pc := range pairs {
		if _, err := pc.IPAddr(); err != nil {
			return fmt.Errorf("pairs[%d]: %w: %w", i, ErrInvalidPairAddr, err)
		}

		key := pc.PairKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pairs[%d] key %q: %w", i, key, ErrDuplicatePairKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
