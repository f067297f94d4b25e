package netguard

import (
	"net/netip"
	"strconv"
	"strings"
)

// Literal form identifiers, used in block rules so an audit line can say
// which encoding was attempted.
const (
	FormDotted       = "ip-literal"
	FormOctal        = "ip-literal-octal"
	FormHex          = "ip-literal-hex"
	FormInteger      = "ip-literal-integer"
	FormShort        = "ip-literal-short"
	FormIPv6         = "ip-literal-v6"
	FormIPv6Embedded = "ip-literal-v6-embedded-v4"
)

// ParseIPLiteral decodes every IP literal encoding a platform resolver (or
// inet_aton-style parser deeper in an HTTP stack) would accept: canonical
// dotted-decimal, legacy octal and hex octets, two- and three-part short
// forms, single-integer and hex-integer forms, and IPv6 including an embedded
// IPv4 tail. Validators that only recognize the canonical form are exactly
// the bypass this closes: the decoded address gets classified before any use,
// whatever its spelling.
//
// ok is false when host is not an IP literal at all (a hostname).
func ParseIPLiteral(host string) (addr netip.Addr, form string, ok bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return netip.Addr{}, "", false
	}

	// Bracketed or colon-bearing: IPv6 territory.
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if strings.ContainsRune(host, ':') {
		a, err := netip.ParseAddr(host)
		if err != nil {
			return netip.Addr{}, "", false
		}
		if a.Is4In6() || strings.ContainsRune(host, '.') {
			return a, FormIPv6Embedded, true
		}
		return a, FormIPv6, true
	}

	return parseV4Literal(host)
}

// parseV4Literal implements inet_aton semantics: one to four dot-separated
// parts, each decimal, octal (leading 0) or hex (0x prefix); with fewer than
// four parts the last one fills the remaining bytes.
func parseV4Literal(host string) (netip.Addr, string, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, "", false
	}

	form := FormDotted
	if len(parts) == 1 {
		form = FormInteger
	} else if len(parts) < 4 {
		form = FormShort
	}

	values := make([]uint64, len(parts))
	for i, part := range parts {
		v, partForm, ok := parseV4Part(part)
		if !ok {
			return netip.Addr{}, "", false
		}
		values[i] = v
		// A single legacy octet makes the whole literal a legacy form.
		if partForm != "" && form == FormDotted {
			form = partForm
		}
		if partForm == FormHex && len(parts) == 1 {
			form = FormHex
		}
	}

	// Leading parts are single octets; the final part fills what remains.
	var n uint64
	for i := 0; i < len(values)-1; i++ {
		if values[i] > 0xff {
			return netip.Addr{}, "", false
		}
		n = n<<8 | values[i]
	}
	tailBytes := 5 - len(values)
	last := values[len(values)-1]
	if tailBytes < 4 && last>>(8*uint(tailBytes)) != 0 {
		return netip.Addr{}, "", false
	}
	if tailBytes == 4 && last > 0xffffffff {
		return netip.Addr{}, "", false
	}
	n = n<<(8*uint(tailBytes)) | last

	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), form, true
}

// parseV4Part parses one inet_aton part. partForm is non-empty for legacy
// (octal/hex) spellings so the caller can tag the literal's encoding.
func parseV4Part(part string) (value uint64, partForm string, ok bool) {
	if part == "" {
		return 0, "", false
	}
	lower := strings.ToLower(part)
	switch {
	case strings.HasPrefix(lower, "0x"):
		if len(lower) == 2 {
			return 0, "", false
		}
		v, err := strconv.ParseUint(lower[2:], 16, 64)
		if err != nil {
			return 0, "", false
		}
		return v, FormHex, true
	case len(part) > 1 && part[0] == '0':
		v, err := strconv.ParseUint(part, 8, 64)
		if err != nil {
			return 0, "", false
		}
		return v, FormOctal, true
	default:
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return 0, "", false
		}
		return v, "", true
	}
}
