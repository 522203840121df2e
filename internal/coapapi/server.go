package coapapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/matrix-org/go-coap/v2/message"
	"github.com/matrix-org/go-coap/v2/message/codes"
	"github.com/matrix-org/go-coap/v2/mux"

	"github.com/hro-mesh/meshapp/internal/observer"
)

var (
	// ErrBodyOversize is returned by ReadPayload when the inbound body
	// exceeds the caller's buffer.
	ErrBodyOversize = errors.New("coapapi: request body exceeds destination buffer")
)

// SendResponse builds and writes an ACK for r: Content for a GET, Changed
// for a PUT, with a payload marker added iff body is non-empty.
func SendResponse(w mux.ResponseWriter, r *mux.Message, body []byte) error {
	code := codes.Changed
	if r.Code == codes.GET {
		code = codes.Content
	}

	if len(body) == 0 {
		return w.SetResponse(code, message.TextPlain, nil)
	}
	return w.SetResponse(code, message.AppOctets, bytes.NewReader(body))
}

// SendErrorResponse writes an ACK carrying an InternalServerError code,
// used by ProcessUriRequest's error branch.
func SendErrorResponse(w mux.ResponseWriter, _ *mux.Message) error {
	return w.SetResponse(codes.InternalServerError, message.TextPlain, nil)
}

// ReadPayload copies up to maxLen bytes of r's body. Returns
// ErrBodyOversize if the body is longer than maxLen.
func ReadPayload(r *mux.Message, maxLen int) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limited := io.LimitReader(r.Body, int64(maxLen)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("coapapi: read request body: %w", err)
	}
	if len(body) > maxLen {
		return nil, ErrBodyOversize
	}
	return body, nil
}

// SenderIP extracts the requester's address from the mux message's
// underlying connection.
func SenderIP(w mux.ResponseWriter) (netip.Addr, error) {
	return senderIP(w)
}

// senderIP extracts the requester's address from the mux message's
// underlying connection.
func senderIP(w mux.ResponseWriter) (netip.Addr, error) {
	addrPort, err := netip.ParseAddrPort(w.Client().RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("coapapi: parse sender address: %w", err)
	}
	return addrPort.Addr(), nil
}

// ProcessUriRequestOutcome reports what ProcessUriRequest did, letting
// the caller (internal/uris) decide what to log without ProcessUriRequest
// itself knowing about the device driver's logger.
type ProcessUriRequestOutcome struct {
	// PlainWrite is true when the request carried no Observe option and
	// was simply fanned out to other subscribers.
	PlainWrite bool

	// NotifyCount is the number of other subscribers the payload was
	// fanned out to, valid only when PlainWrite is true.
	NotifyCount int

	// Subscribe holds the observer engine's result when the request was
	// a subscribe/unsubscribe.
	Subscribe observer.SubscribeResult
}

// ProcessUriRequest dispatches an inbound request on an observable
// URI: read the body, ask the observer engine whether this was a subscribe,
// unsubscribe, or plain write, respond accordingly, and — for a plain
// write — fan the payload out to every other subscriber of uriIndex.
// A subscribe/unsubscribe request carries the subscriber's canonical
// name as its body, so the name handed to the observer engine is the
// payload itself. notify is internal/observer.Engine.Notify already
// bound to a transport sender (internal/uris supplies a closure that
// calls Client.SendPutBytes against each recipient's subscribed_uris
// path).
func ProcessUriRequest(
	w mux.ResponseWriter,
	r *mux.Message,
	uriIndex int,
	maxBodyLen int,
	obs *observer.Engine,
	notify func(excludedIP netip.Addr, uriIndex int, payload []byte) (int, error),
) (ProcessUriRequestOutcome, error) {
	payload, err := ReadPayload(r, maxBodyLen)
	if err != nil {
		_ = SendErrorResponse(w, r)
		return ProcessUriRequestOutcome{}, err
	}

	ip, err := senderIP(w)
	if err != nil {
		_ = SendErrorResponse(w, r)
		return ProcessUriRequestOutcome{}, err
	}

	hasObserve := false
	observeVal := uint32(0)
	if v, err := r.Options.Observe(); err == nil {
		hasObserve = true
		observeVal = v
	}

	var token observer.Token
	copy(token[:], r.Token)

	result, err := obs.SubscribeFromUri(hasObserve, observer.ObserveOption(observeVal), string(payload), ip, uriIndex, token)
	if err != nil {
		_ = SendErrorResponse(w, r)
		return ProcessUriRequestOutcome{}, err
	}

	if result.NotSubRequest {
		if err := SendResponse(w, r, nil); err != nil {
			return ProcessUriRequestOutcome{}, err
		}
		count, err := notify(ip, uriIndex, payload)
		if err != nil {
			return ProcessUriRequestOutcome{PlainWrite: true, NotifyCount: count}, err
		}
		return ProcessUriRequestOutcome{PlainWrite: true, NotifyCount: count}, nil
	}

	if err := SendResponse(w, r, nil); err != nil {
		return ProcessUriRequestOutcome{}, err
	}
	return ProcessUriRequestOutcome{Subscribe: result}, nil
}
