package naming_test

import (
	"encoding/hex"
	"testing"

	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/naming"
)

func mustEUI(t *testing.T, s string) naming.EUI64 {
	t.Helper()
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != naming.EUILen/2 {
		t.Fatalf("bad test EUI %q: %v", s, err)
	}
	var e naming.EUI64
	copy(e[:], raw)
	return e
}

func TestSetIdentityAndFull(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")

	if err := id.SetIdentity("kitchen", devicetype.Switch, eui); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	full, err := id.Full()
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	want := "kitchen_2_588c81fffe301ea4"
	if full != want {
		t.Errorf("Full() = %q, want %q", full, want)
	}
}

func TestFullBeforeSetIdentity(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	if _, err := id.Full(); err != naming.ErrNotInitialised {
		t.Errorf("Full() error = %v, want ErrNotInitialised", err)
	}
}

func TestSetIdentityTooLongGroup(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")
	if err := id.SetIdentity("way-too-long-group", devicetype.Switch, eui); err != naming.ErrTooLong {
		t.Errorf("SetIdentity error = %v, want ErrTooLong", err)
	}
}

func TestSetIdentityGroupHasSeparator(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")
	if err := id.SetIdentity("bad_group", devicetype.Switch, eui); err != naming.ErrGroupHasSep {
		t.Errorf("SetIdentity error = %v, want ErrGroupHasSep", err)
	}
}

func TestTypeOfRoundTrip(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")
	if err := id.SetIdentity("kitchen", devicetype.Lighting, eui); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	full, _ := id.Full()

	got, err := naming.TypeOf(full)
	if err != nil {
		t.Fatalf("TypeOf: %v", err)
	}
	if got != devicetype.Lighting {
		t.Errorf("TypeOf() = %v, want %v", got, devicetype.Lighting)
	}
}

func TestTypeOfRejectsEndSentinel(t *testing.T) {
	t.Parallel()

	name := "kitchen_20_588c81fffe301ea4" // 20 == devicetype.End
	if _, err := naming.TypeOf(name); err != naming.ErrBadType {
		t.Errorf("TypeOf(%q) error = %v, want ErrBadType", name, err)
	}
}

func TestEuiOfLength(t *testing.T) {
	t.Parallel()

	eui, err := naming.EuiOf("kitchen_2_588c81fffe301ea4")
	if err != nil {
		t.Fatalf("EuiOf: %v", err)
	}
	if len(eui) != naming.EUILen {
		t.Errorf("EuiOf len = %d, want %d", len(eui), naming.EUILen)
	}
}

func TestAddDomainStripDomainRoundTrip(t *testing.T) {
	t.Parallel()

	name := "kitchen_2_588c81fffe301ea4"
	withDomain, err := naming.AddDomain(name, naming.MaxDomainLen)
	if err != nil {
		t.Fatalf("AddDomain: %v", err)
	}
	if got := naming.StripDomain(withDomain); got != name {
		t.Errorf("StripDomain(AddDomain(s)) = %q, want %q", got, name)
	}
}

func TestAddDomainBufferTooSmall(t *testing.T) {
	t.Parallel()

	_, err := naming.AddDomain("kitchen_2_588c81fffe301ea4", naming.MaxDomainLen-1)
	if err != naming.ErrBufferTooSmall {
		t.Errorf("AddDomain error = %v, want ErrBufferTooSmall", err)
	}
}

func TestMatchesLocal(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")
	if err := id.SetIdentity("kitchen", devicetype.Switch, eui); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	tests := []struct {
		name string
		peer string
		want bool
	}{
		{"same group, different device", "kitchen_3_aabbccddeeff0011", true},
		{"self", "kitchen_2_588c81fffe301ea4", false},
		{"different group", "garage_3_aabbccddeeff0011", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := id.MatchesLocal(tt.peer); got != tt.want {
				t.Errorf("MatchesLocal(%q) = %v, want %v", tt.peer, got, tt.want)
			}
		})
	}
}

func TestCanonicalNameBoundary(t *testing.T) {
	t.Parallel()

	var id naming.Identity
	eui := mustEUI(t, "588c81fffe301ea4")
	// "abcdefghi" (9 bytes) is the maximum group length (MaxGroupLen).
	if err := id.SetIdentity("abcdefghi", devicetype.Switch, eui); err != nil {
		t.Fatalf("SetIdentity at max group length: %v", err)
	}
	full, _ := id.Full()
	if len(full) > naming.MaxFullLen {
		t.Errorf("composed name length %d exceeds MaxFullLen %d", len(full), naming.MaxFullLen)
	}
}
