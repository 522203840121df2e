package radio_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/radio"
)

func TestFakeRadioIdentity(t *testing.T) {
	t.Parallel()

	eui := naming.EUI64{0x58, 0x8c, 0x81, 0xff, 0xfe, 0x30, 0x1e, 0xa4}
	r := radio.NewFakeRadio(eui, netip.MustParseAddr("fd00::7"))

	got, err := r.EUI64(context.Background())
	if err != nil {
		t.Fatalf("EUI64() error: %v", err)
	}
	if got.Hex() != "588c81fffe301ea4" {
		t.Errorf("EUI64().Hex() = %q, want %q", got.Hex(), "588c81fffe301ea4")
	}
}

func TestFakeRadioLocalAddrRequiresAttach(t *testing.T) {
	t.Parallel()

	r := radio.NewFakeRadio(naming.EUI64{}, netip.MustParseAddr("fd00::7"))
	ctx := context.Background()

	if _, err := r.LocalAddr(ctx); err == nil {
		t.Fatal("LocalAddr() before ConfigureDataset() should fail")
	}

	if err := r.ConfigureDataset(ctx); err != nil {
		t.Fatalf("ConfigureDataset() error: %v", err)
	}
	addr, err := r.LocalAddr(ctx)
	if err != nil {
		t.Fatalf("LocalAddr() error: %v", err)
	}
	if addr != netip.MustParseAddr("fd00::7") {
		t.Errorf("LocalAddr() = %s, want fd00::7", addr)
	}
}

func TestFakeRadioWatchRLOCSeesChurn(t *testing.T) {
	t.Parallel()

	r := radio.NewFakeRadio(naming.EUI64{}, netip.MustParseAddr("fd00::7"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := r.WatchRLOC(ctx)
	if err != nil {
		t.Fatalf("WatchRLOC() error: %v", err)
	}

	r.SetLocalAddr(netip.MustParseAddr("fd00::8"))

	var got []radio.RLOCEvent
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	if got[0].Kind != radio.RLOCRemoved || got[0].Addr != netip.MustParseAddr("fd00::7") {
		t.Errorf("first event = %+v, want removal of fd00::7", got[0])
	}
	if got[1].Kind != radio.RLOCAdded || got[1].Addr != netip.MustParseAddr("fd00::8") {
		t.Errorf("second event = %+v, want addition of fd00::8", got[1])
	}
}

func TestFakeRadioWatchChannelClosesOnCancel(t *testing.T) {
	t.Parallel()

	r := radio.NewFakeRadio(naming.EUI64{}, netip.MustParseAddr("fd00::7"))
	ctx, cancel := context.WithCancel(context.Background())

	events, err := r.WatchRLOC(ctx)
	if err != nil {
		t.Fatalf("WatchRLOC() error: %v", err)
	}
	cancel()

	select {
	case _, open := <-events:
		if open {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
