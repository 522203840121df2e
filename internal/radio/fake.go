package radio

import (
	"context"
	"net/netip"
	"sync"

	"github.com/hro-mesh/meshapp/internal/naming"
)

// FakeRadio is an in-memory Radio for tests and for running the daemon
// without a Thread substrate (radio.backend: "fake"). Address changes
// are injected with SetLocalAddr and fan out to every active watcher.
type FakeRadio struct {
	mu       sync.Mutex
	eui      naming.EUI64
	addr     netip.Addr
	attached bool
	watchers []chan RLOCEvent
}

// NewFakeRadio returns a fake radio with the given identity and
// starting address.
func NewFakeRadio(eui naming.EUI64, addr netip.Addr) *FakeRadio {
	return &FakeRadio{eui: eui, addr: addr}
}

func (r *FakeRadio) EUI64(_ context.Context) (naming.EUI64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eui, nil
}

func (r *FakeRadio) ConfigureDataset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = true
	return nil
}

func (r *FakeRadio) LocalAddr(_ context.Context) (netip.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached {
		return netip.Addr{}, ErrNotAttached
	}
	return r.addr, nil
}

// WatchRLOC returns a channel the next SetLocalAddr calls will deliver
// to. The channel closes when ctx is cancelled.
func (r *FakeRadio) WatchRLOC(ctx context.Context) (<-chan RLOCEvent, error) {
	ch := make(chan RLOCEvent, 4)

	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// SetLocalAddr swaps the node's address and notifies watchers with a
// removed/added pair, the order real address churn arrives in.
func (r *FakeRadio) SetLocalAddr(addr netip.Addr) {
	r.mu.Lock()
	old := r.addr
	r.addr = addr
	watchers := append([]chan RLOCEvent(nil), r.watchers...)
	r.mu.Unlock()

	for _, w := range watchers {
		if old.IsValid() {
			select {
			case w <- RLOCEvent{Kind: RLOCRemoved, Addr: old}:
			default:
			}
		}
		select {
		case w <- RLOCEvent{Kind: RLOCAdded, Addr: addr}:
		default:
		}
	}
}
