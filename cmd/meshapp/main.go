// Meshapp daemon -- CoAP application framework for IPv6 mesh nodes.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hro-mesh/meshapp/internal/adminapi"
	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/config"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/discovery"
	"github.com/hro-mesh/meshapp/internal/identity"
	meshmetrics "github.com/hro-mesh/meshapp/internal/metrics"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/pair"
	"github.com/hro-mesh/meshapp/internal/radio"
	"github.com/hro-mesh/meshapp/internal/settings"
	"github.com/hro-mesh/meshapp/internal/uris"
	appversion "github.com/hro-mesh/meshapp/internal/version"
)

// gaugeRefreshPeriod is how often the table-occupancy gauges are
// resampled into Prometheus.
const gaugeRefreshPeriod = 15 * time.Second

// keyFakeRadioEUI persists the development radio's generated EUI-64 in
// the application key space so a
// radio-less node keeps its canonical name across restarts.
const keyFakeRadioEUI uint16 = 0x0101

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("meshapp starting",
		slog.String("version", appversion.Version),
		slog.String("coap_addr", cfg.CoAP.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	if err := runDaemon(cfg, *configPath, logLevel, logger); err != nil {
		logger.Error("meshapp exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("meshapp stopped")
	return 0
}

// loadConfig loads from path, or returns validated defaults when no
// path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// newLoggerWithLevel builds the daemon logger from the log config and a
// shared LevelVar so SIGHUP reloads can retune verbosity in place.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// runDaemon wires every component together and supervises the worker
// goroutines until a signal arrives.
func runDaemon(cfg *config.Config, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// Settings store first: the fake radio's persisted EUI and any
	// future per-key configuration live here.
	dev, closeDev, err := openFlashDevice(cfg.Flash)
	if err != nil {
		return fmt.Errorf("open flash device: %w", err)
	}
	defer closeDev()

	store, err := settings.New(ctx, dev,
		settings.WithSlotSize(cfg.Flash.SlotSize),
		settings.WithDebounce(cfg.Flash.Debounce),
		settings.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("init settings store: %w", err)
	}

	rad, closeRadio, err := openRadio(cfg.Radio, store, logger)
	if err != nil {
		return fmt.Errorf("open radio: %w", err)
	}
	defer closeRadio()

	if err := rad.ConfigureDataset(ctx); err != nil {
		return fmt.Errorf("configure Thread dataset: %w", err)
	}

	eui, err := rad.EUI64(ctx)
	if err != nil {
		return fmt.Errorf("read EUI-64: %w", err)
	}

	localAddr, err := rad.LocalAddr(ctx)
	if err != nil {
		return fmt.Errorf("read local address: %w", err)
	}

	typ, err := devicetype.ParseName(cfg.Identity.Type)
	if err != nil {
		return fmt.Errorf("identity.type: %w", err)
	}

	ident := &naming.Identity{}
	if err := ident.SetIdentity(cfg.Identity.Group, typ, eui); err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	name, _ := ident.Full()
	logger.Info("identity set", slog.String("name", name), slog.String("addr", localAddr.String()))

	policy, err := newConfigPolicy(cfg.Identity)
	if err != nil {
		return err
	}
	provider, err := newConfigURIProvider(cfg.URIs)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := meshmetrics.NewCollector(reg)

	fw := identity.New(store, ident, observer.NewEngine(), policy, provider, logger)
	client := coapapi.NewClient()
	pairs := pair.New(fw, client, logger)

	coapSrv, err := uris.New(fw, pairs, client, collector, logger)
	if err != nil {
		return fmt.Errorf("build CoAP mux: %w", err)
	}

	var ctrl *discovery.Controller
	if cfg.Discovery.SRPServer != "" {
		srp := discovery.NewSRPClient(cfg.Discovery.SRPServer, cfg.Discovery.Domain,
			cfg.Discovery.ServiceLease, cfg.Discovery.KeyLease)
		browser := discovery.NewBrowser(cfg.Discovery.SRPServer, cfg.Discovery.Domain)
		ctrl = discovery.New(srp, browser, pairs, name, cfg.Discovery.Domain,
			cfg.Discovery.WatchdogPeriod, cfg.Discovery.RefreshGuard, cfg.Discovery.ServiceLease, logger)
	} else {
		logger.Warn("discovery.srp_server not set, running without DNS-SD/SRP")
	}

	adminSrv := adminapi.New(fw, pairs, store, ctrl, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return store.Run(gCtx) })
	g.Go(func() error { return pairs.Run(gCtx) })
	g.Go(func() error {
		logger.Info("CoAP server listening", slog.String("addr", cfg.CoAP.Addr))
		return coapSrv.Serve(gCtx, cfg.CoAP.Addr)
	})
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return adminSrv.Run(gCtx, cfg.Admin.Addr)
	})
	g.Go(func() error {
		return runMetricsServer(gCtx, cfg.Metrics, reg, logger)
	})
	if ctrl != nil {
		g.Go(func() error { return ctrl.Run(gCtx, localAddr) })
	}
	g.Go(func() error {
		return watchAddrChurn(gCtx, rad, ctrl, pairs, name, logger)
	})
	g.Go(func() error {
		return refreshGauges(gCtx, collector, pairs, fw, store)
	})
	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, pairs, logger)
		return nil
	})

	// Seed declarative pairs once the workers are up.
	pairs.Reconcile(cfg.Pairs)

	notifyReady(logger)

	err = g.Wait()
	notifyStopping(logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run workers: %w", err)
	}
	return nil
}

// openFlashDevice picks the settings backing medium: a file/MTD node
// when flash.path is set, an in-memory page otherwise.
func openFlashDevice(cfg config.FlashConfig) (settings.FlashDevice, func(), error) {
	if cfg.Path == "" {
		return settings.NewMemFlashDevice(cfg.PageSize), func() {}, nil
	}
	dev, err := settings.OpenFileFlashDevice(cfg.Path, cfg.PageSize)
	if err != nil {
		return nil, nil, err
	}
	return dev, func() { _ = dev.Close() }, nil
}

// openRadio picks the Thread substrate. The fake backend persists its
// generated EUI-64 in the settings store so the canonical name survives
// restarts the same way a real radio's factory address would.
func openRadio(cfg config.RadioConfig, store *settings.Store, logger *slog.Logger) (radio.Radio, func(), error) {
	switch cfg.Backend {
	case "dbus":
		r, err := radio.NewDBusRadio(cfg.DBusObjectPath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "", "fake":
		eui, err := fakeEUI(store)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using fake radio", slog.String("eui", eui.Hex()))
		return radio.NewFakeRadio(eui, netip.IPv6Loopback()), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown radio backend %q", cfg.Backend)
	}
}

// fakeEUI loads the persisted development EUI-64, generating and
// storing one on first boot.
func fakeEUI(store *settings.Store) (naming.EUI64, error) {
	var eui naming.EUI64
	if v, found := store.Get(keyFakeRadioEUI, 0); found && len(v) == len(eui) {
		copy(eui[:], v)
		return eui, nil
	}
	if _, err := rand.Read(eui[:]); err != nil {
		return naming.EUI64{}, fmt.Errorf("generate fake EUI: %w", err)
	}
	// Locally-administered unicast, like a software MAC.
	eui[0] = (eui[0] | 0x02) &^ 0x01
	if err := store.Set(keyFakeRadioEUI, eui[:]); err != nil {
		return naming.EUI64{}, fmt.Errorf("persist fake EUI: %w", err)
	}
	return eui, nil
}

// runMetricsServer serves the Prometheus endpoint until ctx cancels.
func runMetricsServer(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics server listening",
		slog.String("addr", cfg.Addr),
		slog.String("path", cfg.Path),
	)

	errCh := make(chan error, 1)
	go func() {
		lc := net.ListenConfig{}
		ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
		if err != nil {
			errCh <- err
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// watchAddrChurn consumes radio RLOC events and reacts per spec: on a
// new routing locator, refresh the SRP host record, re-announce the
// canonical name to every paired peer, and push Observe-refresh updates
// so subscriptions rebind to the new source address.
func watchAddrChurn(
	ctx context.Context,
	rad radio.Radio,
	ctrl *discovery.Controller,
	pairs *pair.Registry,
	name string,
	logger *slog.Logger,
) error {
	events, err := rad.WatchRLOC(ctx)
	if err != nil {
		return fmt.Errorf("watch RLOC: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != radio.RLOCAdded {
				continue
			}
			logger.Info("local address changed", slog.String("addr", ev.Addr.String()))
			if ctrl != nil {
				ctrl.OnLocalAddrChanged(ctx, ev.Addr)
			} else {
				pairs.SendUpdateIP(ctx, pairs.Names())
			}
			pairs.BroadcastName(ctx, name)
		}
	}
}

// refreshGauges periodically resamples table occupancy into Prometheus.
func refreshGauges(
	ctx context.Context,
	collector *meshmetrics.Collector,
	pairs *pair.Registry,
	fw *identity.Framework,
	store *settings.Store,
) error {
	ticker := time.NewTicker(gaugeRefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			collector.SetPeerCount(pairs.Count())
			collector.SetSubscriberCount(fw.Observer.Count())
			collector.SetSettingsBufBytes(store.BufPos())
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd once every worker is up.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 as graceful shutdown begins.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic keepalives at half the configured
// WatchdogSec. Exits immediately when the watchdog is not configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + declarative pair reconciliation
// -------------------------------------------------------------------------

// handleSIGHUP blocks on the signal channel, reloading configuration on
// each SIGHUP until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	pairs *pair.Registry,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, pairs, logger)
		}
	}
}

// reloadConfig re-reads the config file, retunes the log level, and
// re-seeds declarative pairs. Errors keep the previous configuration in
// effect.
func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	pairs *pair.Registry,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	pairs.Reconcile(newCfg.Pairs)
}
