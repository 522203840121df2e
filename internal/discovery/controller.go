package discovery

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/hro-mesh/meshapp/internal/pair"
)

// Controller drives the SRP registration FSM and the periodic DNS
// browse/lease watchdog, enqueuing discovered peers into a
// pair.Registry: a single owning struct with a mutex-guarded piece of
// mutable state (the FSM's current State) and background goroutines
// started from Run.
type Controller struct {
	srp     *SRPClient
	browser *Browser
	pairs   *pair.Registry
	logger  *slog.Logger

	hostFQDN     string
	instanceFQDN string

	watchdogPeriod time.Duration
	refreshGuard   time.Duration
	serviceLease   time.Duration

	mu    sync.Mutex
	state State
	addr  netip.Addr
}

// New builds a Controller. name is the local canonical name (no domain
// suffix); it is combined with zone to build the SRP host/instance
// FQDNs.
func New(srp *SRPClient, browser *Browser, pairs *pair.Registry, name, zone string, watchdogPeriod, refreshGuard, serviceLease time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	fqdn := name + "." + zone
	return &Controller{
		srp:            srp,
		browser:        browser,
		pairs:          pairs,
		logger:         logger.With(slog.String("component", "discovery.controller")),
		hostFQDN:       fqdn,
		instanceFQDN:   fqdn,
		watchdogPeriod: watchdogPeriod,
		refreshGuard:   refreshGuard,
		serviceLease:   serviceLease,
		state:          StateStopped,
	}
}

// Run starts registration and blocks running the lease watchdog until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context, localAddr netip.Addr) error {
	c.mu.Lock()
	c.addr = localAddr
	c.mu.Unlock()

	if err := c.apply(ctx, EventStart); err != nil {
		return err
	}

	remaining := c.serviceLease
	ticker := time.NewTicker(c.watchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining -= c.watchdogPeriod
			if remaining <= c.refreshGuard {
				if err := c.apply(ctx, EventLeaseLow); err != nil {
					c.logger.Warn("lease refresh failed", slog.Any("error", err))
				}
				remaining = c.serviceLease
			}
		}
	}
}

// apply runs one FSM transition and executes its actions in order,
// feeding follow-up events back into the FSM synchronously.
func (c *Controller) apply(ctx context.Context, event Event) error {
	c.mu.Lock()
	current := c.state
	c.mu.Unlock()

	result := ApplyEvent(current, event)
	c.mu.Lock()
	c.state = result.NewState
	c.mu.Unlock()

	for _, action := range result.Actions {
		next, err := c.execute(ctx, action)
		if err != nil {
			return err
		}
		if next != 0 {
			if err := c.apply(ctx, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// execute runs a single action and returns the follow-up event it
// completes with, if any (0 means none).
func (c *Controller) execute(ctx context.Context, action Action) (Event, error) {
	switch action {
	case ActionSetHost:
		c.mu.Lock()
		addr := c.addr
		c.mu.Unlock()
		if err := c.srp.SetHost(ctx, c.hostFQDN, addr); err != nil {
			return 0, err
		}
		return EventHostSet, nil
	case ActionAddService:
		if err := c.srp.AddService(ctx, c.instanceFQDN, c.hostFQDN, false); err != nil {
			return 0, err
		}
		return EventServiceAdded, nil
	case ActionBrowse:
		c.browseOnce(ctx)
		return 0, nil
	case ActionRefresh:
		if err := c.srp.AddService(ctx, c.instanceFQDN, c.hostFQDN, true); err != nil {
			return 0, err
		}
		return EventRefreshed, nil
	default:
		return 0, nil
	}
}

// browseOnce runs a single DNS-SD browse pass, enqueuing every resolved
// peer into the pair worker.
func (c *Controller) browseOnce(ctx context.Context) {
	found, err := c.browser.Browse(ctx)
	if err != nil {
		c.logger.Warn("DNS browse failed", slog.Any("error", err))
		return
	}
	for _, f := range found {
		if err := c.pairs.Enqueue(f.Name, f.Addr); err != nil {
			c.logger.Debug("dropping browse result", slog.String("name", f.Name), slog.Any("error", err))
		}
	}
}

// OnLocalAddrChanged handles a routing-locator address change:
// refresh the SRP host address and push an IP update to every paired
// peer.
func (c *Controller) OnLocalAddrChanged(ctx context.Context, addr netip.Addr) {
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()

	if err := c.srp.SetHost(ctx, c.hostFQDN, addr); err != nil {
		c.logger.Warn("SRP host address refresh failed", slog.Any("error", err))
	}

	c.pairs.SendUpdateIP(ctx, c.pairs.Names())
}

// State reports the current SRP lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
