package netguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Rule identifiers for non-range denials.
const (
	RuleHostnameNotAllowlisted = "hostname-not-allowlisted"
	RuleEmptyHostname          = "empty-hostname"
)

// LookupFunc resolves a hostname to IP addresses. The default implementation
// uses the platform resolver; tests and callers with custom DNS inject their
// own. Implementations must honor ctx cancellation.
type LookupFunc func(ctx context.Context, hostname string) ([]netip.Addr, error)

// DefaultLookup resolves through the platform resolver.
func DefaultLookup(ctx context.Context, hostname string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", hostname)
}

// ResolveOptions configures pinned resolution.
type ResolveOptions struct {
	// Lookup is the DNS implementation. Defaults to DefaultLookup.
	Lookup LookupFunc
	// Policy is the SSRF policy. A nil policy blocks private, benchmark and
	// reserved ranges and allows any hostname.
	Policy *Policy
}

// PinnedHostname binds one hostname to a validated address set for exactly
// one logical connection. Its Lookup never re-resolves the pinned name, which
// closes the rebinding window between validation and connect; any other name
// (a proxy host, for instance) passes through to the fallback resolver
// unchanged. Do not reuse a pin across unrelated requests.
type PinnedHostname struct {
	// Hostname is the normalized (lowercased) pinned name.
	Hostname string
	// Addresses is the validated set, every resolver-tagged IPv4 address
	// before every IPv6 address, deduplicated, never empty.
	Addresses []netip.Addr

	fallback LookupFunc
}

// ResolvePinnedHostname pins a hostname using the default deny-only policy.
func ResolvePinnedHostname(ctx context.Context, hostname string, lookup LookupFunc) (*PinnedHostname, error) {
	return ResolvePinnedHostnameWithPolicy(ctx, hostname, ResolveOptions{Lookup: lookup})
}

// ResolvePinnedHostnameWithPolicy validates a hostname under an SSRF policy
// and pins it to the surviving address set. The order of checks matters:
// the hostname allowlist is consulted before any DNS query, IP literals are
// decoded and classified before any DNS query, and a single disallowed
// address anywhere in a DNS result blocks the entire resolution.
func ResolvePinnedHostnameWithPolicy(ctx context.Context, hostname string, opts ResolveOptions) (*PinnedHostname, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = DefaultLookup
	}
	policy := opts.Policy

	name := NormalizeHostname(hostname)
	if name == "" {
		return nil, &BlockedTargetError{Hostname: hostname, Rule: RuleEmptyHostname}
	}

	if !policy.HostnameAllowed(name) {
		return nil, &BlockedTargetError{Hostname: name, Rule: RuleHostnameNotAllowlisted}
	}

	var addrs []netip.Addr
	if addr, form, ok := ParseIPLiteral(name); ok {
		if blocked, rule := ClassifyAddr(addr, policy); blocked {
			return nil, &BlockedTargetError{Hostname: name, Address: addr.String(), Rule: form + ":" + rule}
		}
		addrs = []netip.Addr{addr}
	} else {
		resolved, err := lookup(ctx, name)
		if err != nil {
			// Transport error, not a policy denial: passed through unchanged.
			return nil, fmt.Errorf("lookup %s: %w", name, err)
		}
		for _, addr := range resolved {
			if blocked, rule := ClassifyAddr(addr, policy); blocked {
				return nil, &BlockedTargetError{Hostname: name, Address: addr.String(), Rule: rule}
			}
		}
		addrs = resolved
	}

	addrs = sortAndDedupe(addrs)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", name, ErrNoAddresses)
	}

	log.Debug("pinned %s -> %v", name, addrs)
	return &PinnedHostname{Hostname: name, Addresses: addrs, fallback: lookup}, nil
}

// sortAndDedupe orders every address the resolver tagged IPv4 before every
// IPv6 address, preserving resolver order within each family, and removes
// duplicates. The family tag comes from the address representation the
// resolver returned, never from re-parsing its textual shape: a 4-in-6
// mapped address stays in the IPv6 group.
func sortAndDedupe(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]bool, len(addrs))
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.Is4() && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range addrs {
		if !a.Is4() && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Lookup is the pin-scoped resolver: the pinned hostname always yields the
// pinned set, anything else defers to the fallback.
func (p *PinnedHostname) Lookup(ctx context.Context, hostname string) ([]netip.Addr, error) {
	if NormalizeHostname(hostname) == p.Hostname {
		return p.Addresses, nil
	}
	return p.fallback(ctx, hostname)
}

// DialContext dials an address of the form "host:port", substituting the
// pinned address set when host is the pinned hostname. Suitable as an
// http.Transport DialContext: the transport still believes it is connecting
// to the hostname, so TLS verification and SNI use the name while the wire
// connection goes to a validated address.
func (p *PinnedHostname) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	addrs := p.Addresses
	if NormalizeHostname(host) != p.Hostname {
		addrs, err = p.fallback(ctx, host)
		if err != nil {
			return nil, err
		}
	}

	var dialer net.Dialer
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ErrNoAddresses
	}
	return nil, fmt.Errorf("dial %s: %w", address, lastErr)
}
