// Package observer implements the subscriber table and notify
// fan-out for observable CoAP resources: who has subscribed to which
// local URI, and delivering PUT notifications to them when that URI's
// value changes.
package observer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// Fixed subscriber-table capacities.
const (
	MaxSubscribers   = 20
	MaxURISlotsPerID = 3
)

// UpdateKind is a bitmask describing what Subscribe mutated on an
// existing row.
type UpdateKind uint8

const (
	IPUpdated      UpdateKind = 1 << iota // the subscriber's IP address changed
	URITokenUpdated                       // an existing URI slot's token was replaced
	URIAdded                              // a new URI slot was inserted into an existing row
)

// Result is the outcome of a Subscribe call.
type Result struct {
	AddedNewDevice bool
	NoNeedUpdate   bool
	Mutated        UpdateKind
}

// Sentinel errors for table-capacity and argument failures.
var (
	ErrListFull    = errors.New("observer: subscriber table full")
	ErrZeroToken   = errors.New("observer: zero token is reserved and cannot be subscribed")
	ErrNoSuchPeer  = errors.New("observer: no subscriber row for that name")
	ErrNoSuchToken = errors.New("observer: no URI slot carries that token")
	ErrShortFrame  = errors.New("observer: notify frame shorter than the 4-byte token")
)

// uriSlot is one observed-URI subscription within a subscriber row.
type uriSlot struct {
	uriIndex int
	token    Token
	occupied bool
}

// subscriber is one row of the subscriber table.
type subscriber struct {
	name     string
	ip       netip.Addr
	slots    [MaxURISlotsPerID]uriSlot
	occupied bool
}

func (s *subscriber) liveSlotCount() int {
	n := 0
	for _, sl := range s.slots {
		if sl.occupied {
			n++
		}
	}
	return n
}

// Engine is the subscriber table plus notify fan-out.
type Engine struct {
	mu   sync.Mutex
	rows [MaxSubscribers]subscriber
}

// NewEngine returns an empty subscriber table.
func NewEngine() *Engine {
	return &Engine{}
}

// Subscribe registers or updates a subscription for (name, uriIndex).
func (e *Engine) Subscribe(name string, ip netip.Addr, uriIndex int, token Token) (Result, error) {
	if token.IsZero() {
		return Result{}, ErrZeroToken
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	row := e.findRow(name)
	if row == nil {
		return e.addNewRow(name, ip, uriIndex, token)
	}

	var mutated UpdateKind
	if row.ip != ip {
		row.ip = ip
		mutated |= IPUpdated
	}

	slot := e.findSlot(row, uriIndex)
	switch {
	case slot == nil:
		free := freeSlot(row)
		if free == nil {
			return Result{}, ErrListFull
		}
		*free = uriSlot{uriIndex: uriIndex, token: token, occupied: true}
		mutated |= URIAdded
	case slot.token != token:
		slot.token = token
		mutated |= URITokenUpdated
	}

	if mutated == 0 {
		return Result{NoNeedUpdate: true}, nil
	}
	return Result{Mutated: mutated}, nil
}

func (e *Engine) addNewRow(name string, ip netip.Addr, uriIndex int, token Token) (Result, error) {
	free := e.freeRow()
	if free == nil {
		return Result{}, ErrListFull
	}
	*free = subscriber{
		name:     name,
		ip:       ip,
		occupied: true,
	}
	free.slots[0] = uriSlot{uriIndex: uriIndex, token: token, occupied: true}
	return Result{AddedNewDevice: true}, nil
}

// Unsubscribe clears the URI slot carrying token. If the peer has no
// remaining URI slots, the row is freed entirely.
func (e *Engine) Unsubscribe(name string, token Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row := e.findRow(name)
	if row == nil {
		return ErrNoSuchPeer
	}
	found := false
	for i := range row.slots {
		if row.slots[i].occupied && row.slots[i].token == token {
			row.slots[i] = uriSlot{}
			found = true
			break
		}
	}
	if !found {
		return ErrNoSuchToken
	}
	if row.liveSlotCount() == 0 {
		*row = subscriber{}
	}
	return nil
}

// Notify emits payload to every live subscriber slot whose uriIndex
// matches, excluding the peer at excludedIP (so a change is never
// echoed back to its originator). send is invoked once per recipient
// with the subscriber's address, frame, and token; it is the caller's
// CoAP-layer responsibility to actually transmit. Notify returns the number of recipients.
func (e *Engine) Notify(excludedIP netip.Addr, uriIndex int, payload []byte, send func(ip netip.Addr, token Token, frame []byte) error) (int, error) {
	e.mu.Lock()
	type target struct {
		ip    netip.Addr
		token Token
	}
	var targets []target
	for i := range e.rows {
		row := &e.rows[i]
		if !row.occupied || row.ip == excludedIP {
			continue
		}
		for _, slot := range row.slots {
			if slot.occupied && slot.uriIndex == uriIndex {
				targets = append(targets, target{ip: row.ip, token: slot.token})
			}
		}
	}
	e.mu.Unlock()

	count := 0
	for _, t := range targets {
		frame := EncodeNotify(t.token, payload)
		if err := send(t.ip, t.token, frame); err != nil {
			return count, fmt.Errorf("observer: notify %s: %w", t.ip, err)
		}
		count++
	}
	return count, nil
}

// EncodeNotify builds the wire frame for a notification: the 4-byte
// token followed by the raw payload.
func EncodeNotify(token Token, payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	copy(frame[0:4], token[:])
	copy(frame[4:], payload)
	return frame
}

// ParseNotify splits a received notify frame into its token and
// payload.
func ParseNotify(frame []byte) (Token, []byte, error) {
	if len(frame) < 4 {
		return Token{}, nil, ErrShortFrame
	}
	var token Token
	copy(token[:], frame[0:4])
	return token, frame[4:], nil
}

func (e *Engine) findRow(name string) *subscriber {
	for i := range e.rows {
		if e.rows[i].occupied && e.rows[i].name == name {
			return &e.rows[i]
		}
	}
	return nil
}

func (e *Engine) freeRow() *subscriber {
	for i := range e.rows {
		if !e.rows[i].occupied {
			return &e.rows[i]
		}
	}
	return nil
}

func (e *Engine) findSlot(row *subscriber, uriIndex int) *uriSlot {
	for i := range row.slots {
		if row.slots[i].occupied && row.slots[i].uriIndex == uriIndex {
			return &row.slots[i]
		}
	}
	return nil
}

func freeSlot(row *subscriber) *uriSlot {
	for i := range row.slots {
		if !row.slots[i].occupied {
			return &row.slots[i]
		}
	}
	return nil
}

// TokenFromBytes builds a Token from a 4-byte slice, as carried by a CoAP
// Observe-response token or a pair-registry URI slot.
func TokenFromBytes(b []byte) Token {
	var t Token
	copy(t[:], b)
	return t
}

// Uint32 renders t as a big-endian integer, for callers (e.g.
// Subscribers, whose admin-API view reports tokens) that show tokens as
// plain integers rather than 4-byte arrays.
func (t Token) Uint32() uint32 {
	return binary.BigEndian.Uint32(t[:])
}

// ObserveOption is the CoAP Observe option value: 0 registers, 1 deregisters, 2 refreshes an
// existing subscription with the same token.
type ObserveOption int

const (
	ObserveRegister   ObserveOption = 0
	ObserveDeregister ObserveOption = 1
	ObserveRefresh    ObserveOption = 2
)

// SubscribeResult is the outcome of SubscribeFromUri: either the
// request was not a subscribe/unsubscribe at all (a plain write), or
// it was handled as a Subscribe/Unsubscribe and the corresponding
// result/error is returned.
type SubscribeResult struct {
	// NotSubRequest is true when no Observe option was present — the
	// caller should treat the request as a plain write and fan it out
	// via Notify instead.
	NotSubRequest bool
	Result        Result
}

// SubscribeFromUri dispatches an inbound
// request against an observable URI: an Observe value of 0 subscribes,
// 2 refreshes (also routed through Subscribe, which already treats a
// same-token re-registration as NoNeedUpdate / a different token as
// URITokenUpdated), 1 unsubscribes, and a missing option means this is
// not a subscribe request at all.
func (e *Engine) SubscribeFromUri(hasObserve bool, observe ObserveOption, name string, ip netip.Addr, uriIndex int, token Token) (SubscribeResult, error) {
	if !hasObserve {
		return SubscribeResult{NotSubRequest: true}, nil
	}

	switch observe {
	case ObserveRegister, ObserveRefresh:
		res, err := e.Subscribe(name, ip, uriIndex, token)
		return SubscribeResult{Result: res}, err
	case ObserveDeregister:
		if err := e.Unsubscribe(name, token); err != nil {
			return SubscribeResult{}, err
		}
		return SubscribeResult{}, nil
	default:
		return SubscribeResult{}, fmt.Errorf("observer: unrecognized observe option %d", observe)
	}
}

// SubscriptionInfo is the exported view of one URI-subscription slot,
// for the admin API and meshappctl.
type SubscriptionInfo struct {
	URIIndex int    `json:"uri_index"`
	Token    uint32 `json:"token"`
}

// SubscriberInfo is the exported view of one subscriber-table row.
type SubscriberInfo struct {
	Name string             `json:"name"`
	IP   netip.Addr         `json:"ip"`
	URIs []SubscriptionInfo `json:"uris,omitempty"`
}

// Subscribers returns a snapshot of every live subscriber row, in
// table-scan order.
func (e *Engine) Subscribers() []SubscriberInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SubscriberInfo, 0, MaxSubscribers)
	for i := range e.rows {
		row := &e.rows[i]
		if !row.occupied {
			continue
		}
		info := SubscriberInfo{Name: row.name, IP: row.ip}
		for _, slot := range row.slots {
			if slot.occupied {
				info.URIs = append(info.URIs, SubscriptionInfo{URIIndex: slot.uriIndex, Token: slot.token.Uint32()})
			}
		}
		out = append(out, info)
	}
	return out
}

// Count returns the number of live subscriber rows, for the Prometheus
// gauge.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for i := range e.rows {
		if e.rows[i].occupied {
			n++
		}
	}
	return n
}
