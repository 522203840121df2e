// Package identity implements the process-wide aggregate root:
// a single Framework struct built once at startup that holds references to
// the settings store, the naming identity and the observer engine (the
// pair registry is built over it and holds it, not the other way round),
// plus the capability interfaces a device driver implements to
// participate in pairing, resource advertisement, and subscription
// delivery. One struct, constructed once, referenced by pointer
// everywhere else, no teardown.
package identity

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/settings"
)

// URIDescriptor is the in-memory form of a single resource-catalog
// entry: a URI path, its device-type tag, and whether it is
// observable. Encoding to/from the 26-byte wire record lives in
// internal/coapapi, which is the only package that needs the packed form.
type URIDescriptor struct {
	Path         string
	FunctionType devicetype.Type
	Observable   bool
}

// PairPolicy is implemented by a device driver to report which peer
// device types it is willing to pair with.
type PairPolicy interface {
	Rules() devicetype.RuleSet
}

// URIProvider is implemented by a device driver to advertise its
// observable and non-observable resources.
type URIProvider interface {
	URIs() []URIDescriptor
}

// Device is a paired peer as reported to PairedObserver listeners: enough
// identifying information to look the peer up again without re-parsing
// its canonical name.
type Device struct {
	Name string
	IP   netip.Addr
	Type devicetype.Type
}

// PairedObserver is implemented by anything that wants to learn about
// newly paired devices.
type PairedObserver interface {
	OnPaired(Device)
}

// SubscribedObserver is implemented by a device driver to react to an
// inbound subscription-update frame delivered to subscribed_uris.
type SubscribedObserver interface {
	OnSubscriptionUpdate(token observer.Token, payload []byte)
}

// Framework is the single process-wide owner of component state. It is built
// once by cmd/meshapp's main and handed by reference to the CoAP mux, the
// pair worker, and the admin API — never duplicated, never torn down.
type Framework struct {
	Settings *settings.Store
	Naming   *naming.Identity
	Observer *observer.Engine

	// Policy and URIProvider are supplied by the concrete device driver
	// running on top of this framework; either may be nil, in which case
	// Rules()/URIs() report conservative defaults (deny-all / empty
	// catalog).
	Policy      PairPolicy
	URIProvider URIProvider

	logger *slog.Logger

	pairedMu       sync.Mutex
	pairedObserver []PairedObserver

	subscribedMu       sync.Mutex
	subscribedObserver []SubscribedObserver
}

// New builds a Framework over the given settings store, naming identity,
// and observer engine. Policy and uriProvider may be nil.
func New(store *settings.Store, ident *naming.Identity, obs *observer.Engine, policy PairPolicy, uriProvider URIProvider, logger *slog.Logger) *Framework {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framework{
		Settings:    store,
		Naming:      ident,
		Observer:    obs,
		Policy:      policy,
		URIProvider: uriProvider,
		logger:      logger.With(slog.String("component", "identity.framework")),
	}
}

// Rules reports the current pairing policy, defaulting to deny-all when no
// PairPolicy is installed.
func (f *Framework) Rules() devicetype.RuleSet {
	if f.Policy == nil {
		return devicetype.DenyAll()
	}
	return f.Policy.Rules()
}

// URIs reports the current resource catalog, defaulting to empty when no
// URIProvider is installed.
func (f *Framework) URIs() []URIDescriptor {
	if f.URIProvider == nil {
		return nil
	}
	return f.URIProvider.URIs()
}

// RegisterPairedObserver adds cb to the paired-device listener list.
// internal/pair's worker calls NotifyPaired after each admission.
func (f *Framework) RegisterPairedObserver(cb PairedObserver) {
	f.pairedMu.Lock()
	defer f.pairedMu.Unlock()
	f.pairedObserver = append(f.pairedObserver, cb)
}

// NotifyPaired invokes every registered PairedObserver for a newly
// admitted device. Called by internal/pair's worker after an Add that
// inserted a new peer row; updates of an existing row do not call it.
func (f *Framework) NotifyPaired(d Device) {
	f.pairedMu.Lock()
	observers := append([]PairedObserver(nil), f.pairedObserver...)
	f.pairedMu.Unlock()

	for _, cb := range observers {
		cb.OnPaired(d)
	}
}

// RegisterSubscribedObserver adds cb to the subscription-update listener
// list (replaces the single on_subscription_update callback field; a
// slice here since Go has no reason to cap this at one).
func (f *Framework) RegisterSubscribedObserver(cb SubscribedObserver) {
	f.subscribedMu.Lock()
	defer f.subscribedMu.Unlock()
	f.subscribedObserver = append(f.subscribedObserver, cb)
}

// NotifySubscriptionUpdate invokes every registered SubscribedObserver for
// an inbound subscribed_uris PUT.
func (f *Framework) NotifySubscriptionUpdate(token observer.Token, payload []byte) {
	f.subscribedMu.Lock()
	observers := append([]SubscribedObserver(nil), f.subscribedObserver...)
	f.subscribedMu.Unlock()

	for _, cb := range observers {
		cb.OnSubscriptionUpdate(token, payload)
	}
}

// Logger returns the framework's component logger, for subsystems that
// want a child logger scoped under "identity.framework".
func (f *Framework) Logger() *slog.Logger {
	return f.logger
}
