package identity_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/settings"
)

type fakePolicy struct{ rules devicetype.RuleSet }

func (f fakePolicy) Rules() devicetype.RuleSet { return f.rules }

type fakeURIProvider struct{ uris []identity.URIDescriptor }

func (f fakeURIProvider) URIs() []identity.URIDescriptor { return f.uris }

func newTestFramework(t *testing.T, policy identity.PairPolicy, provider identity.URIProvider) *identity.Framework {
	t.Helper()
	store, err := settings.New(context.Background(), settings.NewMemFlashDevice(8192))
	if err != nil {
		t.Fatalf("settings.New() error: %v", err)
	}
	var ident naming.Identity
	if err := ident.SetIdentity("kitchen", devicetype.Lighting, naming.EUI64{0, 1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("SetIdentity() error: %v", err)
	}
	return identity.New(store, &ident, observer.NewEngine(), policy, provider, nil)
}

func TestRulesDefaultsToDenyAll(t *testing.T) {
	t.Parallel()

	f := newTestFramework(t, nil, nil)
	if f.Rules().Allowed(devicetype.Lighting) {
		t.Error("Rules() with no policy installed should deny everything")
	}
}

func TestRulesDelegatesToPolicy(t *testing.T) {
	t.Parallel()

	f := newTestFramework(t, fakePolicy{rules: devicetype.AllowAll()}, nil)
	if !f.Rules().Allowed(devicetype.Lighting) {
		t.Error("Rules() should delegate to the installed PairPolicy")
	}
}

func TestURIsDefaultsToEmpty(t *testing.T) {
	t.Parallel()

	f := newTestFramework(t, nil, nil)
	if got := f.URIs(); got != nil {
		t.Errorf("URIs() with no provider = %v, want nil", got)
	}
}

func TestURIsDelegatesToProvider(t *testing.T) {
	t.Parallel()

	want := []identity.URIDescriptor{{Path: "light/on_off", FunctionType: devicetype.Lighting, Observable: true}}
	f := newTestFramework(t, nil, fakeURIProvider{uris: want})
	got := f.URIs()
	if len(got) != 1 || got[0].Path != "light/on_off" {
		t.Errorf("URIs() = %+v, want %+v", got, want)
	}
}

func TestNotifyPairedInvokesAllObservers(t *testing.T) {
	t.Parallel()

	f := newTestFramework(t, nil, nil)

	var seen []identity.Device
	f.RegisterPairedObserver(pairedObserverFunc(func(d identity.Device) {
		seen = append(seen, d)
	}))
	f.RegisterPairedObserver(pairedObserverFunc(func(d identity.Device) {
		seen = append(seen, d)
	}))

	dev := identity.Device{Name: "kitchen_3_aabbccddeeff0011", IP: netip.MustParseAddr("fd00::2"), Type: devicetype.Lighting}
	f.NotifyPaired(dev)

	if len(seen) != 2 {
		t.Fatalf("observers invoked = %d, want 2", len(seen))
	}
	if seen[0] != dev || seen[1] != dev {
		t.Errorf("observers saw %+v, want both to see %+v", seen, dev)
	}
}

func TestNotifySubscriptionUpdateInvokesAllObservers(t *testing.T) {
	t.Parallel()

	f := newTestFramework(t, nil, nil)

	var gotToken observer.Token
	var gotPayload []byte
	f.RegisterSubscribedObserver(subscribedObserverFunc(func(tok observer.Token, payload []byte) {
		gotToken = tok
		gotPayload = payload
	}))

	token := observer.Token{1, 2, 3, 4}
	f.NotifySubscriptionUpdate(token, []byte("on"))

	if gotToken != token {
		t.Errorf("observer saw token %v, want %v", gotToken, token)
	}
	if string(gotPayload) != "on" {
		t.Errorf("observer saw payload %q, want %q", gotPayload, "on")
	}
}

type pairedObserverFunc func(identity.Device)

func (f pairedObserverFunc) OnPaired(d identity.Device) { f(d) }

type subscribedObserverFunc func(observer.Token, []byte)

func (f subscribedObserverFunc) OnSubscriptionUpdate(tok observer.Token, payload []byte) {
	f(tok, payload)
}
