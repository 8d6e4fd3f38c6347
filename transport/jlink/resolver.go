package jlink

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// SRVService is the service label looked up for networked probes.
const SRVService = "_jlink._tcp"

// Resolver turns a probe host name into an address. Names that publish a
// _jlink._tcp SRV record resolve to the record target and port; anything
// else is returned unchanged.
type Resolver struct {
	// Servers are "host:port" nameservers; empty uses /etc/resolv.conf.
	Servers []string
	Timeout time.Duration
}

func (r *Resolver) servers() ([]string, error) {
	if len(r.Servers) > 0 {
		return r.Servers, nil
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("jlink: read resolv.conf: %w", err)
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers, nil
}

func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	servers, err := r.servers()
	if err != nil {
		return "", err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &dns.Client{Timeout: timeout}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(SRVService+"."+host), dns.TypeSRV)

	var lastErr error
	for _, server := range servers {
		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return host, nil
		}
		if srv := pickSRV(resp.Answer); srv != nil {
			return net.JoinHostPort(strings.TrimSuffix(srv.Target, "."), strconv.Itoa(int(srv.Port))), nil
		}
		return host, nil
	}
	return "", fmt.Errorf("jlink: SRV lookup for %s: %w", host, lastErr)
}

// pickSRV returns the record with the lowest priority, preferring the
// highest weight among equals.
func pickSRV(answers []dns.RR) *dns.SRV {
	var records []*dns.SRV
	for _, rr := range answers {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil
	}
	slices.SortStableFunc(records, func(a, b *dns.SRV) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		return int(b.Weight) - int(a.Weight)
	})
	return records[0]
}
