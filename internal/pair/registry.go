// Package pair implements the peer registry and pairing worker: a
// bounded peer table behind a sync.RWMutex, a single-consumer queue
// that decouples discovery callbacks from admission and catalog work,
// URI-catalog fetch/parse, and the IP-broadcast re-subscription path.
// Queued admissions are applied on the one worker goroutine draining
// the queue; Delete (used by the admin API) and direct Add calls mutate
// the table from their caller's goroutine, under the same mutex.
package pair

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
)

// Fixed table and queue capacities.
const (
	MaxPeers        = 10
	MaxQueueLen     = 10
	MaxURISlotsPeer = 3
)

// AddOutcome is the result of Add.
type AddOutcome int

const (
	AddedNew AddOutcome = iota
	Updated
	NoNeedUpdate
)

func (o AddOutcome) String() string {
	switch o {
	case AddedNew:
		return "added"
	case Updated:
		return "updated"
	case NoNeedUpdate:
		return "no_need_update"
	default:
		return "unknown"
	}
}

var (
	ErrNoSpace    = errors.New("pair: peer table full")
	ErrQueueFull  = errors.New("pair: queue full, item dropped")
	ErrNotAllowed = errors.New("pair: peer type rejected by admission policy")
	ErrNotLocal   = errors.New("pair: name is not in the local group")
)

// uriSlot is one resource a peer has advertised, with the observer token
// we hold for it if it is observable and we have subscribed.
type uriSlot struct {
	path         string
	functionType devicetype.Type
	observable   bool
	token        observer.Token
	occupied     bool
}

// peer is one row of the peer table.
type peer struct {
	name     string
	ip       netip.Addr
	typ      devicetype.Type
	uris     [MaxURISlotsPeer]uriSlot
	occupied bool
}

// queueItem is one `{CHECK_AND_ADD, name, ip}` entry.
type queueItem struct {
	name string
	ip   netip.Addr
}

// Registry owns the peer table and the pairing worker.
type Registry struct {
	fw     *identity.Framework
	client *coapapi.Client
	logger *slog.Logger
	tokens *observer.TokenAllocator

	mu    sync.RWMutex
	peers [MaxPeers]peer

	queue chan queueItem
}

// New builds a Registry bound to fw (for MatchesLocal/Rules/
// NotifyPaired) and client (for catalog fetch and subscribe/update
// sends).
func New(fw *identity.Framework, client *coapapi.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fw:     fw,
		client: client,
		logger: logger.With(slog.String("component", "pair.registry")),
		tokens: observer.NewTokenAllocator(),
		queue:  make(chan queueItem, MaxQueueLen),
	}
}

// Enqueue offers a `{CHECK_AND_ADD, name, ip}` item to the worker queue.
// Non-blocking: a full queue drops the item and returns
// ErrQueueFull.
func (r *Registry) Enqueue(name string, ip netip.Addr) error {
	select {
	case r.queue <- queueItem{name: name, ip: ip}:
		return nil
	default:
		r.logger.Warn("pair queue full, dropping item", slog.String("name", name))
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is cancelled, processing one item at a time.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-r.queue:
			r.process(ctx, item)
		}
	}
}

// process is the worker-loop body: admission check,
// Add, and the post-Add catalog fetch / re-subscribe / IP-broadcast
// follow-ups.
func (r *Registry) process(ctx context.Context, item queueItem) {
	if !r.fw.Naming.MatchesLocal(item.name) {
		r.logger.Debug("dropping non-local peer", slog.String("name", item.name))
		return
	}

	typ, err := naming.TypeOf(item.name)
	if err != nil {
		r.logger.Warn("dropping peer with unparsable name", slog.String("name", item.name), slog.Any("error", err))
		return
	}

	if !r.Allowed(typ) {
		r.logger.Debug("peer rejected by admission policy", slog.String("name", item.name), slog.String("type", typ.String()))
		return
	}

	outcome, err := r.Add(item.name, item.ip, typ)
	if err != nil {
		r.logger.Warn("add failed", slog.String("name", item.name), slog.Any("error", err))
		return
	}

	switch outcome {
	case AddedNew:
		r.fetchCatalog(ctx, item.name, item.ip)
		r.fw.NotifyPaired(identity.Device{Name: item.name, IP: item.ip, Type: typ})
	case Updated:
		r.resubscribeAll(ctx, item.name)
	case NoNeedUpdate:
		r.broadcastIP(ctx, []string{item.name})
	}
}

// Allowed reports whether typ may be admitted under the current
// policy.
func (r *Registry) Allowed(typ devicetype.Type) bool {
	return r.fw.Rules().Allowed(typ)
}

// Add inserts or updates a peer row directly (exposed
// separately from the worker loop so tests can drive it without going
// through the queue; declarative pairs are admitted via Enqueue).
func (r *Registry) Add(name string, ip netip.Addr, typ devicetype.Type) (AddOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.findLocked(name); p != nil {
		if p.ip == ip {
			return NoNeedUpdate, nil
		}
		p.ip = ip
		return Updated, nil
	}

	free := r.freeLocked()
	if free == nil {
		return 0, ErrNoSpace
	}
	*free = peer{name: name, ip: ip, typ: typ, occupied: true}
	return AddedNew, nil
}

func (r *Registry) findLocked(name string) *peer {
	for i := range r.peers {
		if r.peers[i].occupied && r.peers[i].name == name {
			return &r.peers[i]
		}
	}
	return nil
}

func (r *Registry) freeLocked() *peer {
	for i := range r.peers {
		if !r.peers[i].occupied {
			return &r.peers[i]
		}
	}
	return nil
}

// Count returns the number of live peer-table rows, for the Prometheus
// gauge.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for i := range r.peers {
		if r.peers[i].occupied {
			n++
		}
	}
	return n
}

// URIInfo is the exported view of one peer URI slot, for the admin API
// and meshappctl.
type URIInfo struct {
	Path         string          `json:"path"`
	FunctionType devicetype.Type `json:"function_type"`
	Observable   bool            `json:"observable"`
	Subscribed   bool            `json:"subscribed"`
}

// PeerInfo is the exported view of one peer-table row.
type PeerInfo struct {
	Name string          `json:"name"`
	IP   netip.Addr      `json:"ip"`
	Type devicetype.Type `json:"type"`
	URIs []URIInfo       `json:"uris,omitempty"`
}

// Peers returns a snapshot of every live peer-table row, in table-scan
// order.
func (r *Registry) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, MaxPeers)
	for i := range r.peers {
		p := &r.peers[i]
		if !p.occupied {
			continue
		}
		info := PeerInfo{Name: p.name, IP: p.ip, Type: p.typ}
		for _, slot := range p.uris {
			if !slot.occupied {
				continue
			}
			info.URIs = append(info.URIs, URIInfo{
				Path:         slot.path,
				FunctionType: slot.functionType,
				Observable:   slot.observable,
				Subscribed:   !slot.token.IsZero(),
			})
		}
		out = append(out, info)
	}
	return out
}

// Delete removes the named peer from the table, releasing any observe
// tokens its URI slots held. Exposed for the admin surface; discovery
// never deletes peers on its own.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(name)
	if p == nil {
		return false
	}
	for _, slot := range p.uris {
		if slot.occupied && !slot.token.IsZero() {
			r.tokens.Release(slot.token)
		}
	}
	*p = peer{}
	return true
}
