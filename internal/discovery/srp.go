package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// serviceName is the fixed SRP service type registered.
const serviceName = "_coap._udp"

// coapPort is the fixed CoAP port advertised in the SRV record.
const coapPort = 5683

// SRPClient issues RFC 2136 DNS Update messages against the
// configured SRP/DNS server to register the local host and _coap._udp
// service: SetHost sends one dynamic-update message carrying the
// host's AAAA RRset, and AddService sends another carrying the
// service's PTR+SRV RRset, since RFC 2136 Update is exactly what an SRP
// client speaks on the wire.
type SRPClient struct {
	dnsClient *dns.Client
	server    string
	zone      string

	serviceLease time.Duration
	keyLease     time.Duration
}

// NewSRPClient builds an SRPClient talking to server (host:port) with
// update messages scoped to zone (the DNS-SD domain, e.g.
// "default.service.arpa.").
func NewSRPClient(server, zone string, serviceLease, keyLease time.Duration) *SRPClient {
	return &SRPClient{
		dnsClient:    &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		server:       server,
		zone:         dns.Fqdn(zone),
		serviceLease: serviceLease,
		keyLease:     keyLease,
	}
}

// SetHost registers the AAAA host record for hostFQDN.
func (c *SRPClient) SetHost(ctx context.Context, hostFQDN string, addr netip.Addr) error {
	m := new(dns.Msg)
	m.SetUpdate(c.zone)

	rr, err := dns.NewRR(fmt.Sprintf("%s %d AAAA %s", dns.Fqdn(hostFQDN), uint32(c.keyLease.Seconds()), addr))
	if err != nil {
		return fmt.Errorf("discovery: build AAAA RR for %s: %w", hostFQDN, err)
	}
	m.Insert([]dns.RR{rr})

	return c.exchange(ctx, m)
}

// AddService registers the PTR+SRV records for instanceFQDN pointing
// at hostFQDN:coapPort. refresh clears the existing SRV RRset first,
// so a lease refresh re-adds the service cleanly.
func (c *SRPClient) AddService(ctx context.Context, instanceFQDN, hostFQDN string, refresh bool) error {
	m := new(dns.Msg)
	m.SetUpdate(c.zone)

	svcFQDN := dns.Fqdn(fmt.Sprintf("%s.%s", serviceName, c.zone))

	if refresh {
		m.RemoveRRset([]dns.RR{&dns.SRV{Hdr: dns.RR_Header{Name: dns.Fqdn(instanceFQDN), Rrtype: dns.TypeSRV, Class: dns.ClassANY}}})
	}

	ptr, err := dns.NewRR(fmt.Sprintf("%s %d PTR %s", svcFQDN, uint32(c.serviceLease.Seconds()), dns.Fqdn(instanceFQDN)))
	if err != nil {
		return fmt.Errorf("discovery: build PTR RR: %w", err)
	}
	srv, err := dns.NewRR(fmt.Sprintf("%s %d SRV 0 0 %d %s", dns.Fqdn(instanceFQDN), uint32(c.serviceLease.Seconds()), coapPort, dns.Fqdn(hostFQDN)))
	if err != nil {
		return fmt.Errorf("discovery: build SRV RR: %w", err)
	}
	m.Insert([]dns.RR{ptr, srv})

	return c.exchange(ctx, m)
}

func (c *SRPClient) exchange(ctx context.Context, m *dns.Msg) error {
	resp, _, err := c.dnsClient.ExchangeContext(ctx, m, c.server)
	if err != nil {
		return fmt.Errorf("discovery: SRP update to %s: %w", c.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("discovery: SRP update to %s: rcode %s", c.server, dns.RcodeToString[resp.Rcode])
	}
	return nil
}
