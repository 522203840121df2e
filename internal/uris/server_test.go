package uris_test

import (
	"context"
	"testing"

	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/pair"
	"github.com/hro-mesh/meshapp/internal/settings"
	"github.com/hro-mesh/meshapp/internal/uris"
)

type staticProvider struct {
	uris []identity.URIDescriptor
}

func (p *staticProvider) URIs() []identity.URIDescriptor {
	return p.uris
}

func newFramework(t *testing.T, provider identity.URIProvider) (*identity.Framework, *pair.Registry) {
	t.Helper()

	store, err := settings.New(context.Background(), settings.NewMemFlashDevice(8192))
	if err != nil {
		t.Fatalf("settings.New() error: %v", err)
	}

	ident := &naming.Identity{}
	eui := naming.EUI64{0x58, 0x8c, 0x81, 0xff, 0xfe, 0x30, 0x1e, 0xa4}
	if err := ident.SetIdentity("kitchen", devicetype.Switch, eui); err != nil {
		t.Fatalf("SetIdentity() error: %v", err)
	}

	fw := identity.New(store, ident, observer.NewEngine(), nil, provider, nil)
	return fw, pair.New(fw, coapapi.NewClient(), nil)
}

func TestNewRegistersDeviceURIs(t *testing.T) {
	t.Parallel()

	provider := &staticProvider{uris: []identity.URIDescriptor{
		{Path: "light/on_off", FunctionType: devicetype.LightingOnOff, Observable: true},
		{Path: "light/dimm", FunctionType: devicetype.LightingDimm, Observable: true},
	}}
	fw, pairs := newFramework(t, provider)

	if _, err := uris.New(fw, pairs, coapapi.NewClient(), nil, nil); err != nil {
		t.Fatalf("New() error: %v", err)
	}
}

func TestNewWithoutProviderServesDefaultsOnly(t *testing.T) {
	t.Parallel()

	fw, pairs := newFramework(t, nil)

	if _, err := uris.New(fw, pairs, coapapi.NewClient(), nil, nil); err != nil {
		t.Fatalf("New() error: %v", err)
	}
}

func TestDeviceURIBaseClearsDefaults(t *testing.T) {
	t.Parallel()

	// The subscriber table's uriIndex space reserves the defaults'
	// indexes; the first device URI must land past all four of them.
	if uris.DeviceURIBase != 4 {
		t.Errorf("DeviceURIBase = %d, want 4", uris.DeviceURIBase)
	}
}
