package netguard

import "strings"

// Policy declares what an individual fetch call site may reach. It is purely
// declarative and never mutated after construction; every call site builds
// its own value, so concurrent evaluations cannot interfere.
type Policy struct {
	// AllowPrivateNetwork opts in to loopback, RFC 1918, link-local, CGNAT
	// and unique-local destinations.
	AllowPrivateNetwork bool `yaml:"allow_private_network"`
	// AllowBenchmarkRange opts in to the RFC 2544 benchmark range
	// (198.18.0.0/15).
	AllowBenchmarkRange bool `yaml:"allow_benchmark_range"`
	// HostnameAllowlist restricts fetches to the listed hostnames when
	// non-empty. Entries are exact names or "*.suffix" wildcards; a wildcard
	// matches any subdomain but never the bare suffix itself.
	HostnameAllowlist []string `yaml:"hostname_allowlist"`
}

// HostnameAllowed reports whether the (already normalized) hostname passes
// the allowlist. An empty allowlist allows every hostname; range
// classification still applies afterwards. The check runs before any DNS
// lookup so an unlisted host costs no network query and opens no DNS side
// channel.
func (p *Policy) HostnameAllowed(hostname string) bool {
	if p == nil || len(p.HostnameAllowlist) == 0 {
		return true
	}
	for _, entry := range p.HostnameAllowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			// "*.example.com" matches "a.example.com" and "a.b.example.com",
			// never "example.com" itself.
			if strings.HasSuffix(hostname, "."+suffix) {
				return true
			}
			continue
		}
		if hostname == entry {
			return true
		}
	}
	return false
}

// NormalizeHostname lowercases a hostname, strips the trailing dot of a
// fully-qualified form, and unwraps the URL brackets of an IPv6 literal, so
// "API.Example.COM." compares equal to "api.example.com" and "[::1]" to
// "::1".
func NormalizeHostname(hostname string) string {
	hostname = strings.TrimSpace(hostname)
	if strings.HasPrefix(hostname, "[") && strings.HasSuffix(hostname, "]") {
		hostname = hostname[1 : len(hostname)-1]
	}
	hostname = strings.TrimSuffix(hostname, ".")
	return strings.ToLower(hostname)
}
