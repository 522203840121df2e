// Package radio abstracts the Thread/IPv6 radio substrate the
// application framework sits on: EUI-64 acquisition, dataset
// configuration, the node's mesh-local address, and address-churn
// notifications.
// The concrete drivers are external collaborators; this
// package defines the contract they satisfy, one real implementation
// against the OpenThread Border Router agent's D-Bus API, and an
// in-memory fake for tests and radio-less development.
package radio

import (
	"context"
	"errors"
	"net/netip"

	"github.com/hro-mesh/meshapp/internal/naming"
)

// RLOCEventKind distinguishes routing-locator address transitions.
type RLOCEventKind uint8

const (
	// RLOCAdded signals a new routing-locator address was assigned.
	RLOCAdded RLOCEventKind = iota
	// RLOCRemoved signals the previous routing locator went away.
	RLOCRemoved
)

func (k RLOCEventKind) String() string {
	switch k {
	case RLOCAdded:
		return "added"
	case RLOCRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RLOCEvent is one address-churn notification.
type RLOCEvent struct {
	Kind RLOCEventKind
	Addr netip.Addr
}

// Radio is the capability contract a Thread/IPv6 substrate satisfies.
type Radio interface {
	// EUI64 returns the radio's factory IEEE identifier, required
	// before SetIdentity can compose the canonical name.
	EUI64(ctx context.Context) (naming.EUI64, error)

	// ConfigureDataset attaches the node to its Thread network using
	// the operational dataset the substrate already holds.
	ConfigureDataset(ctx context.Context) error

	// LocalAddr returns the node's current mesh-local IPv6 address.
	LocalAddr(ctx context.Context) (netip.Addr, error)

	// WatchRLOC streams address-churn events until ctx is cancelled.
	// The returned channel is closed when the watch ends.
	WatchRLOC(ctx context.Context) (<-chan RLOCEvent, error)
}

// ErrNotAttached is returned when an operation needs a Thread
// attachment the radio does not currently have.
var ErrNotAttached = errors.New("radio: not attached to a Thread network")
