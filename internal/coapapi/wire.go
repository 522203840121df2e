// Package coapapi implements the CoAP adapter over
// github.com/matrix-org/go-coap/v2: explicit typed send operations, the
// response builder, payload reads, and the ProcessUriRequest dispatcher
// that ties an inbound request to the observer engine. The 26-byte
// URI-descriptor records are packed on-wire structs and get explicit
// encoding/binary code, never a Go struct cast.
package coapapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
)

// Wire sizes of the resource-catalog and notification framing.
const (
	// URIPathFieldLen is the fixed, NUL-padded width of a catalog
	// record's path field.
	URIPathFieldLen = 24

	// URIRecordLen is the total size of one catalog record: path +
	// functionType + observable.
	URIRecordLen = URIPathFieldLen + 1 + 1

	// MaxURIRecords bounds the number of records a single catalog may
	// carry.
	MaxURIRecords = 3

	// MaxNotifyPayload is the largest payload a subscribed_uris frame
	// may carry (a 260-byte frame minus the 4-byte token).
	MaxNotifyPayload = 256

	// MaxNotifyFrame is the largest legal subscribed_uris frame
	// (token + payload).
	MaxNotifyFrame = 4 + MaxNotifyPayload
)

var (
	ErrPathTooLong     = errors.New("coapapi: URI path exceeds 24 bytes")
	ErrBadFunctionType = errors.New("coapapi: unrecognized functionType byte")
	ErrShortRecord     = errors.New("coapapi: catalog record shorter than 26 bytes")
	ErrTooManyRecords  = errors.New("coapapi: catalog exceeds 3 records")
	ErrBodyTooLarge    = errors.New("coapapi: response body exceeds destination buffer")
)

// EncodeURIDescriptor serializes one catalog record:
// path[24] NUL-padded, functionType u8, observable u8.
func EncodeURIDescriptor(d identity.URIDescriptor) ([]byte, error) {
	if len(d.Path) > URIPathFieldLen {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrPathTooLong, d.Path, len(d.Path))
	}

	rec := make([]byte, URIRecordLen)
	copy(rec[:URIPathFieldLen], d.Path)
	rec[URIPathFieldLen] = uint8(d.FunctionType)
	if d.Observable {
		rec[URIPathFieldLen+1] = 1
	}
	return rec, nil
}

// DecodeURIDescriptor parses one 26-byte catalog record back into a
// URIDescriptor.
func DecodeURIDescriptor(rec []byte) (identity.URIDescriptor, error) {
	if len(rec) < URIRecordLen {
		return identity.URIDescriptor{}, ErrShortRecord
	}

	path := string(bytes.TrimRight(rec[:URIPathFieldLen], "\x00"))
	typ, err := devicetype.ParseType(rec[URIPathFieldLen])
	if err != nil {
		return identity.URIDescriptor{}, fmt.Errorf("%w: %w", ErrBadFunctionType, err)
	}

	return identity.URIDescriptor{
		Path:         path,
		FunctionType: typ,
		Observable:   rec[URIPathFieldLen+1] != 0,
	}, nil
}

// EncodeCatalog serializes up to MaxURIRecords descriptors into the
// `.well-known/core` response body. Descriptors beyond the third are
// dropped.
func EncodeCatalog(descriptors []identity.URIDescriptor) ([]byte, error) {
	if len(descriptors) > MaxURIRecords {
		descriptors = descriptors[:MaxURIRecords]
	}
	buf := make([]byte, 0, len(descriptors)*URIRecordLen)
	for _, d := range descriptors {
		rec, err := EncodeURIDescriptor(d)
		if err != nil {
			return nil, err
		}
		buf = append(buf, rec...)
	}
	return buf, nil
}

// DecodeCatalog splits a `.well-known/core` response body into its
// constituent 26-byte records. A body whose length
// is not a multiple of 26, or that would carry more than MaxURIRecords,
// is rejected rather than silently truncated.
func DecodeCatalog(body []byte) ([]identity.URIDescriptor, error) {
	if len(body)%URIRecordLen != 0 {
		return nil, ErrShortRecord
	}
	n := len(body) / URIRecordLen
	if n > MaxURIRecords {
		return nil, ErrTooManyRecords
	}

	out := make([]identity.URIDescriptor, 0, n)
	for i := 0; i < n; i++ {
		rec := body[i*URIRecordLen : (i+1)*URIRecordLen]
		d, err := DecodeURIDescriptor(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// EncodeNotifyFrame builds the wire body of a subscribed_uris PUT: the
// 4-byte token followed by the raw payload. token is passed
// as a plain 4-byte array so callers outside internal/observer (e.g.
// internal/pair, which only ever treats tokens as opaque wire bytes)
// don't need to import the observer package just to build a frame.
func EncodeNotifyFrame(token [4]byte, payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	copy(frame[:4], token[:])
	copy(frame[4:], payload)
	return frame
}

// notifySeqFromToken derives an Observe sequence number from a token's
// own bytes (read as a big-endian uint32), so two independent goroutines
// notifying the same subscriber don't need shared state. The value is
// fixed for a given token; it does not increase between notifications.
func notifySeqFromToken(token [4]byte) uint32 {
	return binary.BigEndian.Uint32(token[:])
}
