package netguard

import (
	"net/netip"
	"testing"
)

func TestClassifyAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		policy  *Policy
		blocked bool
		rule    string
	}{
		// Always blocked, no opt-out.
		{"this-network", "0.0.0.0", nil, true, "this-network"},
		{"broadcast", "255.255.255.255", nil, true, "broadcast"},
		{"multicast", "224.0.0.1", nil, true, "multicast"},
		{"reserved-240", "240.0.0.1", nil, true, "reserved-240"},
		{"documentation", "192.0.2.10", nil, true, "documentation-test-net-1"},
		{"documentation 2", "198.51.100.7", nil, true, "documentation-test-net-2"},
		{"documentation 3", "203.0.113.1", nil, true, "documentation-test-net-3"},
		{"ietf protocol", "192.0.0.8", nil, true, "ietf-protocol"},
		{"v6 unspecified", "::", nil, true, "v6-unspecified"},
		{"v6 multicast", "ff02::1", nil, true, "v6-multicast"},
		{"v6 documentation", "2001:db8::1", nil, true, "v6-documentation"},
		{"v6 discard", "100::1", nil, true, "v6-discard"},

		// Private class, default blocked.
		{"loopback", "127.0.0.1", nil, true, "loopback"},
		{"loopback high", "127.255.255.254", nil, true, "loopback"},
		{"rfc1918 10", "10.1.2.3", nil, true, "private-10"},
		{"rfc1918 172", "172.16.0.1", nil, true, "private-172-16"},
		{"rfc1918 172 edge in", "172.31.255.255", nil, true, "private-172-16"},
		{"rfc1918 192", "192.168.1.1", nil, true, "private-192-168"},
		{"link-local", "169.254.169.254", nil, true, "link-local"},
		{"cgnat", "100.64.0.1", nil, true, "cgnat"},
		{"v6 loopback", "::1", nil, true, "v6-loopback"},
		{"v6 link-local", "fe80::1", nil, true, "v6-link-local"},
		{"v6 unique-local", "fd00::1", nil, true, "v6-unique-local"},

		// Zone identifiers must not dodge the prefix table.
		{"v6 link-local zoned", "fe80::1%eth0", nil, true, "v6-link-local"},
		{"v6 loopback zoned", "::1%lo0", nil, true, "v6-loopback"},
		{"v6 link-local zoned allowed", "fe80::1%eth0", &Policy{AllowPrivateNetwork: true}, false, ""},

		// Private class, opted out.
		{"loopback allowed", "127.0.0.1", &Policy{AllowPrivateNetwork: true}, false, ""},
		{"rfc1918 allowed", "10.1.2.3", &Policy{AllowPrivateNetwork: true}, false, ""},
		{"link-local allowed", "169.254.169.254", &Policy{AllowPrivateNetwork: true}, false, ""},
		{"v6 loopback allowed", "::1", &Policy{AllowPrivateNetwork: true}, false, ""},

		// Benchmark class with its own knob.
		{"benchmark", "198.18.0.1", nil, true, "benchmark"},
		{"benchmark high", "198.19.255.1", nil, true, "benchmark"},
		{"benchmark allowed", "198.18.0.1", &Policy{AllowBenchmarkRange: true}, false, ""},
		{"benchmark not private", "198.18.0.1", &Policy{AllowPrivateNetwork: true}, true, "benchmark"},

		// Opt-outs never leak across classes.
		{"multicast despite private", "224.0.0.1", &Policy{AllowPrivateNetwork: true, AllowBenchmarkRange: true}, true, "multicast"},

		// Mapped IPv4 judged by IPv4 rules.
		{"mapped loopback", "::ffff:127.0.0.1", nil, true, "loopback"},
		{"mapped private", "::ffff:192.168.0.1", nil, true, "private-192-168"},
		{"mapped public", "::ffff:8.8.8.8", nil, false, ""},

		// Public addresses pass.
		{"public v4", "8.8.8.8", nil, false, ""},
		{"public v4 near 172", "172.32.0.1", nil, false, ""},
		{"public v4 near 192.168", "192.169.0.1", nil, false, ""},
		{"public v6", "2607:f8b0::1", nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, rule := ClassifyAddr(netip.MustParseAddr(tt.addr), tt.policy)
			if blocked != tt.blocked {
				t.Fatalf("ClassifyAddr(%s) blocked = %v, want %v (rule %q)", tt.addr, blocked, tt.blocked, rule)
			}
			if rule != tt.rule {
				t.Errorf("rule = %q, want %q", rule, tt.rule)
			}
		})
	}
}

func TestHostnameAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		hostname  string
		want      bool
	}{
		{"empty list allows all", nil, "anything.example", true},
		{"exact match", []string{"api.example.com"}, "api.example.com", true},
		{"exact mismatch", []string{"api.example.com"}, "evil.example.com", false},
		{"wildcard subdomain", []string{"*.example.com"}, "api.example.com", true},
		{"wildcard deep subdomain", []string{"*.example.com"}, "a.b.example.com", true},
		{"wildcard never bare suffix", []string{"*.example.com"}, "example.com", false},
		{"wildcard no partial label", []string{"*.example.com"}, "notexample.com", false},
		{"wildcard no suffix smuggle", []string{"*.example.com"}, "example.com.evil.net", false},
		{"entry case folded", []string{"API.Example.COM"}, "api.example.com", true},
		{"multiple entries", []string{"a.test", "*.b.test"}, "x.b.test", true},
		{"blank entries skipped", []string{"", "  ", "a.test"}, "a.test", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Policy{HostnameAllowlist: tt.allowlist}
			if got := p.HostnameAllowed(tt.hostname); got != tt.want {
				t.Errorf("HostnameAllowed(%q) = %v, want %v", tt.hostname, got, tt.want)
			}
		})
	}
}

func TestNormalizeHostname(t *testing.T) {
	tests := []struct{ in, want string }{
		{"API.Example.COM.", "api.example.com"},
		{"  host.test  ", "host.test"},
		{"plain", "plain"},
		{"trailing.dot.", "trailing.dot"},
		{"[::1]", "::1"},
		{"[fe80::1%eth0]", "fe80::1%eth0"},
	}
	for _, tt := range tests {
		if got := NormalizeHostname(tt.in); got != tt.want {
			t.Errorf("NormalizeHostname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
