// Package naming implements the mesh node's canonical identity
// string: composition, parsing, and the group/EUI-64 comparisons used
// by pairing and discovery.
package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hro-mesh/meshapp/internal/devicetype"
)

// Size limits of the canonical identity string.
const (
	// MaxGroupLen is the maximum length of the group field, in bytes.
	MaxGroupLen = 9
	// EUILen is the fixed length of the lowercase-hex EUI-64 field.
	EUILen = 16
	// MaxFullLen is the maximum length of a canonical name, excluding
	// the terminator.
	MaxFullLen = 31
	// Domain is the fixed DNS domain suffix canonical names are
	// registered under.
	Domain = ".default.service.arpa."
	// MaxDomainLen is the maximum length of a domain-suffixed name,
	// including a reserved terminator byte.
	MaxDomainLen = 63
	// minFullLen is the shortest a canonical name can legally be:
	// one group byte + "_" + one type digit + "_" + 16 hex EUI digits.
	minFullLen = 1 + 1 + 1 + 1 + EUILen
)

// Errors returned by this package.
var (
	ErrBadPointer     = errors.New("naming: nil input")
	ErrTooLong        = errors.New("naming: value exceeds maximum length")
	ErrTooShort       = errors.New("naming: value shorter than minimum length")
	ErrBufferTooSmall = errors.New("naming: destination buffer too small")
	ErrNotInitialised = errors.New("naming: identity not set")
	ErrBadType        = errors.New("naming: unrecognized device type")
	ErrMalformed      = errors.New("naming: could not locate expected field separator")
	ErrGroupHasSep    = errors.New("naming: group must not contain '_'")
)

// EUI64 is an IEEE 64-bit extended unique identifier, the radio's
// factory address.
type EUI64 [8]byte

// Hex renders e as 16 lowercase hex digits, the wire form used in every
// canonical name.
func (e EUI64) Hex() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x%02x%02x",
		e[0], e[1], e[2], e[3], e[4], e[5], e[6], e[7])
}

// Identity holds the local node's canonical name once SetIdentity has
// been called. The zero value is "not yet set".
type Identity struct {
	full string
}

// SetIdentity composes the canonical name group_type_eui64hex and
// stores it.
func (id *Identity) SetIdentity(group string, typ devicetype.Type, eui EUI64) error {
	if strings.Contains(group, "_") {
		return ErrGroupHasSep
	}
	if len(group) == 0 || len(group) > MaxGroupLen {
		return ErrTooLong
	}
	if !typ.Valid() || typ == devicetype.None {
		return ErrBadType
	}

	full := fmt.Sprintf("%s_%d_%s", group, uint8(typ), eui.Hex())
	if len(full) > MaxFullLen {
		return ErrTooLong
	}

	id.full = full
	return nil
}

// Full returns the canonical name, or ErrNotInitialised if SetIdentity
// has not been called.
func (id *Identity) Full() (string, error) {
	if id.full == "" {
		return "", ErrNotInitialised
	}
	return id.full, nil
}

// IsFull reports whether s is exactly the local canonical name.
func (id *Identity) IsFull(s string) bool {
	return id.full != "" && s == id.full
}

// IsGroupPrefix reports whether s shares this identity's group prefix
// (the substring before the first '_'), ignoring the type and EUI-64
// tail.
func (id *Identity) IsGroupPrefix(s string) bool {
	if id.full == "" {
		return false
	}
	return groupOf(s) == groupOf(id.full) && groupOf(s) != ""
}

// MatchesLocal reports whether s names a peer in the same group as the
// local identity but is not the local identity itself.
func (id *Identity) MatchesLocal(s string) bool {
	return id.IsGroupPrefix(s) && !id.IsFull(s)
}

func groupOf(s string) string {
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return ""
	}
	return s[:i]
}

// TypeOf parses the second underscore-separated field of a canonical
// name as a device type.
func TypeOf(s string) (devicetype.Type, error) {
	if len(s) == 0 {
		return devicetype.None, ErrBadPointer
	}
	if len(s) > MaxFullLen {
		return devicetype.None, ErrTooLong
	}
	if len(s) < minFullLen {
		return devicetype.None, ErrTooShort
	}

	fields := strings.SplitN(s, "_", 3)
	if len(fields) < 3 {
		return devicetype.None, ErrMalformed
	}

	n, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return devicetype.None, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	t, err := devicetype.ParseType(uint8(n))
	if err != nil || t == devicetype.None || t == devicetype.End {
		return devicetype.None, ErrBadType
	}
	return t, nil
}

// EuiOf locates the last underscore-separated field of a canonical
// name and returns it as the EUI-64 hex string. The search anchors to
// the final underscore, never a split on all of them.
func EuiOf(s string) (string, error) {
	if len(s) == 0 {
		return "", ErrBadPointer
	}
	if len(s) > MaxFullLen {
		return "", ErrTooLong
	}

	i := strings.LastIndexByte(s, '_')
	if i < 0 || i == len(s)-1 {
		return "", ErrMalformed
	}
	eui := s[i+1:]
	if len(eui) != EUILen {
		return "", ErrMalformed
	}
	return eui, nil
}

// AddDomain appends the fixed DNS domain suffix to a canonical name,
// for use in DNS-SD queries. Returns ErrBufferTooSmall if maxLen
// cannot hold a maximum-length suffixed name.
func AddDomain(name string, maxLen int) (string, error) {
	if maxLen < MaxDomainLen {
		return "", ErrBufferTooSmall
	}
	if len(name) > MaxFullLen {
		return "", ErrTooLong
	}
	if len(name) < minFullLen {
		return "", ErrTooShort
	}
	return name + Domain, nil
}

// StripDomain removes the fixed DNS domain suffix, if present.
func StripDomain(name string) string {
	return strings.TrimSuffix(name, Domain)
}
