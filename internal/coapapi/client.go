package coapapi

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/matrix-org/go-coap/v2/message"
	"github.com/matrix-org/go-coap/v2/message/codes"
	"github.com/matrix-org/go-coap/v2/message/pool"
	"github.com/matrix-org/go-coap/v2/udp"
	udpclient "github.com/matrix-org/go-coap/v2/udp/client"
)

// DefaultPort is the CoAP default port.
const DefaultPort = 5683

// Response is the typed result of an outbound confirmable request.
type Response struct {
	Code    codes.Code
	Payload []byte
}

func responseFromMessage(m *pool.Message) (Response, error) {
	body, err := m.ReadBody()
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: read response body: %w", err)
	}
	return Response{Code: m.Code(), Payload: body}, nil
}

// Client issues the outbound confirmable operations: SendPutBytes,
// SendGetBytes, and the subscribe/update variants that add an Observe
// option. Every call dials a short-lived connection per peer; the
// mesh's CoAP traffic is low-rate control plane chatter, not a
// high-throughput data path, so connection reuse is not worth the
// extra state.
type Client struct {
	// DialTimeout bounds each outbound request: it is applied as a
	// context deadline on the request exchange. The UDP dial itself does
	// not take the context.
	DialTimeout time.Duration
}

// NewClient returns a Client with conservative defaults.
func NewClient() *Client {
	return &Client{DialTimeout: 5 * time.Second}
}

func (c *Client) dial(ctx context.Context, addr netip.Addr) (*udpclient.ClientConn, error) {
	return udp.Dial(netip.AddrPortFrom(addr, DefaultPort).String())
}

// SendPutBytes issues a confirmable PUT of payload to path on addr.
func (c *Client) SendPutBytes(ctx context.Context, addr netip.Addr, path string, payload []byte) (Response, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}

	cc, err := c.dial(ctx, addr)
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: dial %s: %w", addr, err)
	}
	defer cc.Close()

	resp, err := cc.Put(ctx, path, message.AppOctets, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: PUT %s%s: %w", addr, path, err)
	}
	return responseFromMessage(resp)
}

// SendGetBytes issues a confirmable GET of path on addr.
func (c *Client) SendGetBytes(ctx context.Context, addr netip.Addr, path string) (Response, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}

	cc, err := c.dial(ctx, addr)
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: dial %s: %w", addr, err)
	}
	defer cc.Close()

	resp, err := cc.Get(ctx, path)
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: GET %s%s: %w", addr, path, err)
	}
	return responseFromMessage(resp)
}

// SendSubscribeRequest issues a PUT carrying the local canonical name
// with the given token and Observe=0, registering a new
// subscription. The receiver keys its subscriber row on the name in
// the body, so name must be the sender's canonical identity.
func (c *Client) SendSubscribeRequest(ctx context.Context, addr netip.Addr, path, name string, token [4]byte) (Response, error) {
	return c.sendObserve(ctx, addr, path, name, token, 0)
}

// SendUpdateSubscription reuses an existing token with Observe=2 to
// refresh a subscription against a possibly-changed local IPv6.
func (c *Client) SendUpdateSubscription(ctx context.Context, addr netip.Addr, path, name string, token [4]byte) (Response, error) {
	return c.sendObserve(ctx, addr, path, name, token, 2)
}

// SendUnsubscribe sends Observe=1 to cancel an existing subscription.
func (c *Client) SendUnsubscribe(ctx context.Context, addr netip.Addr, path, name string, token [4]byte) (Response, error) {
	return c.sendObserve(ctx, addr, path, name, token, 1)
}

func (c *Client) sendObserve(ctx context.Context, addr netip.Addr, path, name string, token [4]byte, observe uint32) (Response, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}

	cc, err := c.dial(ctx, addr)
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: dial %s: %w", addr, err)
	}
	defer cc.Close()

	req, err := cc.NewPutRequest(ctx, path, message.TextPlain, bytes.NewReader([]byte(name)))
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: build observe request for %s%s: %w", addr, path, err)
	}
	req.SetToken(token[:])
	req.SetObserve(observe)

	resp, err := cc.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("coapapi: observe %s%s: %w", addr, path, err)
	}
	return responseFromMessage(resp)
}
