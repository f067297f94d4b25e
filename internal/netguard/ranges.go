// Package netguard decides whether a network fetch may proceed. It classifies
// IP addresses against named reserved ranges, rejects disguised IP literal
// encodings before any DNS lookup, pins a hostname to an already-validated
// address set for exactly one connection, and guards HTTP fetches across
// redirects. Everything defaults to deny; private and benchmark ranges have
// explicit per-policy opt-outs.
package netguard

import (
	"net/netip"

	"github.com/zwright8/gateguard/internal/logger"
)

var log = logger.New("netguard")

// rangeClass determines which policy knob, if any, can unblock a range.
type rangeClass int

const (
	// classAlwaysBlocked ranges have no opt-out: unspecified, multicast,
	// broadcast, documentation, reserved.
	classAlwaysBlocked rangeClass = iota
	// classPrivate ranges are unblocked by Policy.AllowPrivateNetwork:
	// loopback, RFC 1918, link-local, CGNAT, unique-local.
	classPrivate
	// classBenchmark is the RFC 2544 benchmark range, unblocked by
	// Policy.AllowBenchmarkRange.
	classBenchmark
)

// reservedRange is one named entry in the disallowed-ranges table.
type reservedRange struct {
	name   string
	prefix netip.Prefix
	class  rangeClass
}

// reservedRanges is the classification table, checked in order. Pure data:
// adding a range never changes the decision procedure.
var reservedRanges = []reservedRange{
	// IPv4
	{"this-network", netip.MustParsePrefix("0.0.0.0/8"), classAlwaysBlocked},
	{"loopback", netip.MustParsePrefix("127.0.0.0/8"), classPrivate},
	{"private-10", netip.MustParsePrefix("10.0.0.0/8"), classPrivate},
	{"private-172-16", netip.MustParsePrefix("172.16.0.0/12"), classPrivate},
	{"private-192-168", netip.MustParsePrefix("192.168.0.0/16"), classPrivate},
	{"link-local", netip.MustParsePrefix("169.254.0.0/16"), classPrivate},
	{"cgnat", netip.MustParsePrefix("100.64.0.0/10"), classPrivate},
	{"benchmark", netip.MustParsePrefix("198.18.0.0/15"), classBenchmark},
	{"documentation-test-net-1", netip.MustParsePrefix("192.0.2.0/24"), classAlwaysBlocked},
	{"documentation-test-net-2", netip.MustParsePrefix("198.51.100.0/24"), classAlwaysBlocked},
	{"documentation-test-net-3", netip.MustParsePrefix("203.0.113.0/24"), classAlwaysBlocked},
	{"ietf-protocol", netip.MustParsePrefix("192.0.0.0/24"), classAlwaysBlocked},
	{"multicast", netip.MustParsePrefix("224.0.0.0/4"), classAlwaysBlocked},
	{"reserved-240", netip.MustParsePrefix("240.0.0.0/4"), classAlwaysBlocked},

	// IPv6
	{"v6-unspecified", netip.MustParsePrefix("::/128"), classAlwaysBlocked},
	{"v6-loopback", netip.MustParsePrefix("::1/128"), classPrivate},
	{"v6-link-local", netip.MustParsePrefix("fe80::/10"), classPrivate},
	{"v6-unique-local", netip.MustParsePrefix("fc00::/7"), classPrivate},
	{"v6-multicast", netip.MustParsePrefix("ff00::/8"), classAlwaysBlocked},
	{"v6-documentation", netip.MustParsePrefix("2001:db8::/32"), classAlwaysBlocked},
	{"v6-discard", netip.MustParsePrefix("100::/64"), classAlwaysBlocked},
}

// ClassifyAddr classifies an address against the disallowed-ranges table
// under the given policy. On a block it returns the range name as the rule
// identifier. IPv4-mapped IPv6 addresses are unmapped first so an embedded
// IPv4 tail is judged by IPv4 rules, and IPv6 zone identifiers are stripped
// before the prefix checks, because Prefix.Contains reports false for any
// zoned address and fe80::1%eth0 would otherwise sail past the whole table.
// The 255.255.255.255 broadcast address is a special case the prefix table
// cannot express alongside 240.0.0.0/4.
func ClassifyAddr(addr netip.Addr, policy *Policy) (blocked bool, rule string) {
	if policy == nil {
		policy = &Policy{}
	}
	a := addr.Unmap().WithZone("")

	if a == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true, "broadcast"
	}

	for _, r := range reservedRanges {
		if !r.prefix.Contains(a) {
			continue
		}
		switch r.class {
		case classPrivate:
			if policy.AllowPrivateNetwork {
				return false, ""
			}
		case classBenchmark:
			if policy.AllowBenchmarkRange {
				return false, ""
			}
		}
		return true, r.name
	}
	return false, ""
}
