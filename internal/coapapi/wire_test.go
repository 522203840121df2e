package coapapi_test

import (
	"strings"
	"testing"

	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
)

func TestEncodeDecodeURIDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	d := identity.URIDescriptor{Path: "light/on_off", FunctionType: devicetype.Lighting, Observable: true}

	rec, err := coapapi.EncodeURIDescriptor(d)
	if err != nil {
		t.Fatalf("EncodeURIDescriptor() error: %v", err)
	}
	if len(rec) != coapapi.URIRecordLen {
		t.Fatalf("EncodeURIDescriptor() len = %d, want %d", len(rec), coapapi.URIRecordLen)
	}

	got, err := coapapi.DecodeURIDescriptor(rec)
	if err != nil {
		t.Fatalf("DecodeURIDescriptor() error: %v", err)
	}
	if got != d {
		t.Errorf("DecodeURIDescriptor() = %+v, want %+v", got, d)
	}
}

func TestEncodeURIDescriptorPathTooLong(t *testing.T) {
	t.Parallel()

	_, err := coapapi.EncodeURIDescriptor(identity.URIDescriptor{Path: strings.Repeat("a", 25)})
	if err == nil {
		t.Fatal("EncodeURIDescriptor() with 25-byte path should fail")
	}
}

func TestEncodeCatalogTruncatesAtThreeRecords(t *testing.T) {
	t.Parallel()

	descs := []identity.URIDescriptor{
		{Path: "a", FunctionType: devicetype.Lighting},
		{Path: "b", FunctionType: devicetype.Lighting},
		{Path: "c", FunctionType: devicetype.Lighting},
		{Path: "d", FunctionType: devicetype.Lighting},
	}

	body, err := coapapi.EncodeCatalog(descs)
	if err != nil {
		t.Fatalf("EncodeCatalog() error: %v", err)
	}
	if len(body) != coapapi.MaxURIRecords*coapapi.URIRecordLen {
		t.Errorf("EncodeCatalog() len = %d, want %d", len(body), coapapi.MaxURIRecords*coapapi.URIRecordLen)
	}
}

func TestDecodeCatalogRoundTrip(t *testing.T) {
	t.Parallel()

	descs := []identity.URIDescriptor{
		{Path: "light/on_off", FunctionType: devicetype.Lighting, Observable: true},
		{Path: "light/dimm", FunctionType: devicetype.LightingDimm, Observable: false},
	}

	body, err := coapapi.EncodeCatalog(descs)
	if err != nil {
		t.Fatalf("EncodeCatalog() error: %v", err)
	}

	got, err := coapapi.DecodeCatalog(body)
	if err != nil {
		t.Fatalf("DecodeCatalog() error: %v", err)
	}
	if len(got) != len(descs) {
		t.Fatalf("DecodeCatalog() len = %d, want %d", len(got), len(descs))
	}
	for i := range descs {
		if got[i] != descs[i] {
			t.Errorf("DecodeCatalog()[%d] = %+v, want %+v", i, got[i], descs[i])
		}
	}
}

func TestDecodeCatalogRejectsMisalignedBody(t *testing.T) {
	t.Parallel()

	_, err := coapapi.DecodeCatalog(make([]byte, coapapi.URIRecordLen+1))
	if err == nil {
		t.Fatal("DecodeCatalog() with misaligned body should fail")
	}
}

func TestEncodeNotifyFrame(t *testing.T) {
	t.Parallel()

	token := [4]byte{0x01, 0x02, 0x03, 0x04}
	frame := coapapi.EncodeNotifyFrame(token, []byte("on"))

	if len(frame) != 6 {
		t.Fatalf("EncodeNotifyFrame() len = %d, want 6", len(frame))
	}
	if string(frame[:4]) != string(token[:]) {
		t.Errorf("EncodeNotifyFrame() token = %v, want %v", frame[:4], token)
	}
	if string(frame[4:]) != "on" {
		t.Errorf("EncodeNotifyFrame() payload = %q, want %q", frame[4:], "on")
	}
}
