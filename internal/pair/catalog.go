package pair

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/observer"
)

// wellKnownCorePath is the fixed resource-catalog path every peer
// serves.
const wellKnownCorePath = "/.well-known/core"

// localName returns the local canonical name carried in every observe
// request body, so the receiving peer can key its subscriber row.
func (r *Registry) localName() (string, bool) {
	name, err := r.fw.Naming.Full()
	if err != nil {
		r.logger.Error("local identity not set, cannot send observe request", slog.Any("error", err))
		return "", false
	}
	return name, true
}

// fetchCatalog GETs the peer's
// `.well-known/core`, parse up to MaxURIRecords descriptors, and for each
// observable one call SendSubscribeRequest to obtain and store a token.
func (r *Registry) fetchCatalog(ctx context.Context, name string, ip netip.Addr) {
	resp, err := r.client.SendGetBytes(ctx, ip, wellKnownCorePath)
	if err != nil {
		r.logger.Warn("catalog fetch failed", slog.String("name", name), slog.Any("error", err))
		return
	}

	descriptors, err := coapapi.DecodeCatalog(resp.Payload)
	if err != nil {
		r.logger.Warn("catalog parse failed", slog.String("name", name), slog.Any("error", err))
		return
	}

	local, ok := r.localName()
	if !ok {
		return
	}

	for i, d := range descriptors {
		if i >= MaxURISlotsPeer {
			r.logger.Warn("catalog exceeds local URI slot capacity, dropping remainder",
				slog.String("name", name), slog.Int("count", len(descriptors)))
			break
		}

		slot := uriSlot{path: d.Path, functionType: d.FunctionType, observable: d.Observable, occupied: true}
		if d.Observable {
			token, err := r.tokens.Allocate()
			if err != nil {
				r.logger.Warn("token allocation failed", slog.String("name", name), slog.String("uri", d.Path), slog.Any("error", err))
			} else if _, err := r.client.SendSubscribeRequest(ctx, ip, d.Path, local, token); err != nil {
				r.logger.Warn("subscribe request failed", slog.String("name", name), slog.String("uri", d.Path), slog.Any("error", err))
				r.tokens.Release(token)
			} else {
				slot.token = token
			}
		}

		r.mu.Lock()
		if p := r.findLocked(name); p != nil {
			p.uris[i] = slot
		}
		r.mu.Unlock()
	}
}

// resubscribeAll re-issues SendSubscribeRequest for every observable URI
// slot of an updated peer, since its IP just changed and the old
// subscription was bound to the stale address.
func (r *Registry) resubscribeAll(ctx context.Context, name string) {
	r.mu.RLock()
	p := r.findLocked(name)
	var ip netip.Addr
	var slots [MaxURISlotsPeer]uriSlot
	if p != nil {
		ip = p.ip
		slots = p.uris
	}
	r.mu.RUnlock()
	if p == nil {
		return
	}

	local, ok := r.localName()
	if !ok {
		return
	}

	for _, slot := range slots {
		if !slot.occupied || !slot.observable {
			continue
		}
		if _, err := r.client.SendSubscribeRequest(ctx, ip, slot.path, local, slot.token); err != nil {
			r.logger.Warn("resubscribe failed", slog.String("name", name), slog.String("uri", slot.path), slog.Any("error", err))
		}
	}
}

// broadcastIP re-binds our outbound subscriptions: for each named peer
// and each of its observable URI slots, send an Observe=2 update to
// rebind the subscription to our own, possibly-new, local IPv6. Returns
// the count of updates attempted.
func (r *Registry) broadcastIP(ctx context.Context, names []string) int {
	local, ok := r.localName()
	if !ok {
		return 0
	}

	attempted := 0
	for _, name := range names {
		r.mu.RLock()
		p := r.findLocked(name)
		var ip netip.Addr
		var slots [MaxURISlotsPeer]uriSlot
		if p != nil {
			ip = p.ip
			slots = p.uris
		}
		r.mu.RUnlock()
		if p == nil {
			continue
		}

		for _, slot := range slots {
			if !slot.occupied || !slot.observable {
				continue
			}
			attempted++
			if _, err := r.client.SendUpdateSubscription(ctx, ip, slot.path, local, slot.token); err != nil {
				r.logger.Warn("IP broadcast update failed", slog.String("name", name), slog.String("uri", slot.path), slog.Any("error", err))
			}
		}
	}
	return attempted
}

// SendUpdateIP broadcasts an Observe=2 refresh to every peer in
// names; exported for internal/discovery's local-IPv6-change handler
// to call directly against the full peer set.
func (r *Registry) SendUpdateIP(ctx context.Context, names []string) int {
	return r.broadcastIP(ctx, names)
}

// TokenGetUriSlot maps an observe token back to its URI slot: a linear
// scan over the peer table and each peer's URI slots, returning the slot
// whose token matches. Used when an inbound notification arrives on our
// subscribed_uris path and the caller needs to know which local resource
// it corresponds to.
func (r *Registry) TokenGetUriSlot(token observer.Token) (name, path string, functionType devicetype.Type, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.peers {
		if !r.peers[i].occupied {
			continue
		}
		for _, slot := range r.peers[i].uris {
			if slot.occupied && slot.token == token {
				return r.peers[i].name, slot.path, slot.functionType, true
			}
		}
	}
	return "", "", devicetype.None, false
}

// Names returns a snapshot of every currently live peer's canonical name,
// for callers that need to iterate the whole table (SendUpdateIP's
// "all peers" broadcast on a local address change).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, MaxPeers)
	for i := range r.peers {
		if r.peers[i].occupied {
			out = append(out, r.peers[i].name)
		}
	}
	return out
}

// paringServicesPath is the fixed pairing announcement path.
const paringServicesPath = "/paring_services"

// BroadcastName PUTs the local canonical name to every live peer's
// paring_services URI, re-announcing ourselves after a local IPv6
// change.
func (r *Registry) BroadcastName(ctx context.Context, name string) int {
	sent := 0
	for _, info := range r.Peers() {
		if _, err := r.client.SendPutBytes(ctx, info.IP, paringServicesPath, []byte(name)); err != nil {
			r.logger.Warn("name broadcast failed", slog.String("peer", info.Name), slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent
}
