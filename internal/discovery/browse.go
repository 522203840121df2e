package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/hro-mesh/meshapp/internal/naming"
)

// Browser queries DNS-SD PTR/SRV/AAAA records for the configured
// service domain and resolves each returned instance to an IPv6
// address.
type Browser struct {
	dnsClient *dns.Client
	server    string
	zone      string
}

// NewBrowser builds a Browser querying server (host:port) for
// instances under zone (e.g. "default.service.arpa.").
func NewBrowser(server, zone string) *Browser {
	return &Browser{
		dnsClient: &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		server:    server,
		zone:      dns.Fqdn(zone),
	}
}

// Found is one resolved peer: its canonical name (domain suffix
// already stripped) and its current IPv6 address.
type Found struct {
	Name string
	Addr netip.Addr
}

// Browse issues a PTR query for serviceName.zone, resolves each
// returned instance's SRV target to an AAAA address, and returns the
// canonical (domain-stripped) name alongside it. Best-effort: a
// single instance's resolve failure is skipped rather than failing
// the whole browse.
func (b *Browser) Browse(ctx context.Context) ([]Found, error) {
	ptrFQDN := dns.Fqdn(fmt.Sprintf("%s.%s", serviceName, b.zone))

	m := new(dns.Msg)
	m.SetQuestion(ptrFQDN, dns.TypePTR)

	resp, _, err := b.dnsClient.ExchangeContext(ctx, m, b.server)
	if err != nil {
		return nil, fmt.Errorf("discovery: browse %s: %w", ptrFQDN, err)
	}

	var found []Found
	for _, ans := range resp.Answer {
		ptr, ok := ans.(*dns.PTR)
		if !ok {
			continue
		}

		addr, ok := b.resolve(ctx, ptr.Ptr)
		if !ok {
			continue
		}

		name := naming.StripDomain(ptr.Ptr)
		found = append(found, Found{Name: name, Addr: addr})
	}
	return found, nil
}

// resolve follows instanceFQDN's SRV target to an AAAA record.
func (b *Browser) resolve(ctx context.Context, instanceFQDN string) (netip.Addr, bool) {
	m := new(dns.Msg)
	m.SetQuestion(instanceFQDN, dns.TypeSRV)

	resp, _, err := b.dnsClient.ExchangeContext(ctx, m, b.server)
	if err != nil || len(resp.Answer) == 0 {
		return netip.Addr{}, false
	}

	srv, ok := resp.Answer[0].(*dns.SRV)
	if !ok {
		return netip.Addr{}, false
	}

	m = new(dns.Msg)
	m.SetQuestion(srv.Target, dns.TypeAAAA)

	resp, _, err = b.dnsClient.ExchangeContext(ctx, m, b.server)
	if err != nil {
		return netip.Addr{}, false
	}

	for _, ans := range resp.Answer {
		if aaaa, ok := ans.(*dns.AAAA); ok {
			addr, ok := netip.AddrFromSlice(aaaa.AAAA)
			if ok {
				return addr, true
			}
		}
	}
	return netip.Addr{}, false
}
