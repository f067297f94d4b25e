package netguard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// credentialHeaders are stripped when a redirect crosses an origin boundary.
// Cookie2 is the legacy RFC 2965 spelling some stacks still send.
var credentialHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Cookie2",
}

// redirect drain limit: enough to recycle the connection, small enough that a
// hostile redirecting server cannot make us buffer an arbitrary body.
const redirectDrainLimit = 16 << 10

// DefaultMaxRedirects bounds a guarded redirect chain.
const DefaultMaxRedirects = 5

// RuleScheme denies non-HTTP(S) URL schemes.
const RuleScheme = "unsupported-scheme"

// FetchOptions configures a guarded fetch.
type FetchOptions struct {
	// Policy applies to the initial host and to every redirect hop.
	Policy *Policy
	// Lookup is the DNS implementation used for pinning. Defaults to the
	// platform resolver.
	Lookup LookupFunc
	// MaxRedirects bounds the redirect chain. Defaults to
	// DefaultMaxRedirects; negative disables following entirely, returning
	// the redirect response itself to the caller.
	MaxRedirects int
	// Transport, when set, builds the per-hop round tripper from a pin.
	// Tests use it to observe or fake the wire; the default builds an
	// http.Transport dialing through the pin.
	Transport func(p *PinnedHostname) http.RoundTripper
}

// GuardedResponse is the final response of a guarded fetch together with the
// release handle the caller must invoke once done with the body.
type GuardedResponse struct {
	*http.Response
	release func()
}

// Release closes the response body and tears down the per-call transports.
func (g *GuardedResponse) Release() {
	if g.Response != nil && g.Response.Body != nil {
		g.Response.Body.Close()
	}
	if g.release != nil {
		g.release()
	}
}

// FetchWithGuard performs an HTTP request with SSRF pinning applied to the
// initial host and to every redirect hop under the same policy. A request
// that starts at an allowed host cannot escape the policy by redirecting:
// each hop is pinned before its request is issued, and the chain stops at
// exactly the hop that introduced a disallowed host. Credential-bearing
// headers survive same-origin redirects and are stripped on cross-origin
// ones. Transport failures pass through as-is; they are never a policy
// verdict.
func FetchWithGuard(ctx context.Context, req *http.Request, opts *FetchOptions) (*GuardedResponse, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	// With following disabled a redirect is the final response, handed back
	// to the caller as-is.
	follow := maxRedirects > 0

	var transports []*http.Transport
	release := func() {
		for _, t := range transports {
			t.CloseIdleConnections()
		}
	}

	current := req.Clone(ctx)
	for hop := 0; ; hop++ {
		if current.URL.Scheme != "http" && current.URL.Scheme != "https" {
			release()
			return nil, &BlockedTargetError{Hostname: current.URL.Host, Rule: RuleScheme}
		}

		pin, err := ResolvePinnedHostnameWithPolicy(ctx, current.URL.Hostname(), ResolveOptions{
			Lookup: opts.Lookup,
			Policy: opts.Policy,
		})
		if err != nil {
			release()
			return nil, err
		}

		var rt http.RoundTripper
		if opts.Transport != nil {
			rt = opts.Transport(pin)
		} else {
			t := newPinnedTransport(pin)
			transports = append(transports, t)
			rt = t
		}

		resp, err := rt.RoundTrip(current)
		if err != nil {
			release()
			return nil, fmt.Errorf("fetch %s: %w", current.URL.Redacted(), err)
		}

		location := redirectTarget(resp)
		if location == nil || !follow {
			return &GuardedResponse{Response: resp, release: release}, nil
		}

		// Recycle the hop's connection; cap the drain so a hostile server
		// cannot stall the chain with an endless redirect body.
		io.Copy(io.Discard, io.LimitReader(resp.Body, redirectDrainLimit))
		resp.Body.Close()

		if hop >= maxRedirects {
			release()
			return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), ErrTooManyRedirects)
		}

		next, err := buildRedirectRequest(ctx, current, resp.StatusCode, location)
		if err != nil {
			release()
			return nil, err
		}
		log.Debug("redirect hop %d: %s -> %s", hop+1, current.URL.Redacted(), next.URL.Redacted())
		current = next
	}
}

// newPinnedTransport builds an http.Transport whose connections are dialed
// through the pin. TLS still verifies against the hostname; only address
// selection is overridden.
func newPinnedTransport(pin *PinnedHostname) *http.Transport {
	return &http.Transport{
		DialContext:           pin.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// redirectTarget returns the resolved redirect location, or nil when the
// response is not a redirect (or carries no usable Location).
func redirectTarget(resp *http.Response) *url.URL {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil
	}
	loc, err := resp.Location()
	if err != nil {
		return nil
	}
	return loc
}

// buildRedirectRequest constructs the next hop's request. Method rewriting
// follows HTTP semantics (303, and 301/302 for POST, become body-less GET;
// 307/308 preserve method and replay the body). Headers are carried over,
// minus credentials when the hop crosses an origin boundary.
func buildRedirectRequest(ctx context.Context, prev *http.Request, status int, location *url.URL) (*http.Request, error) {
	method := prev.Method
	var body io.Reader
	switch {
	case status == http.StatusSeeOther,
		(status == http.StatusMovedPermanently || status == http.StatusFound) && prev.Method != http.MethodGet && prev.Method != http.MethodHead:
		method = http.MethodGet
	case status == http.StatusTemporaryRedirect || status == http.StatusPermanentRedirect:
		if prev.GetBody != nil {
			b, err := prev.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay body for redirect: %w", err)
			}
			body = b
		} else if prev.Body != nil {
			return nil, fmt.Errorf("redirect %d requires a replayable body and the request has none", status)
		}
	}

	next, err := http.NewRequestWithContext(ctx, method, location.String(), body)
	if err != nil {
		return nil, err
	}
	next.GetBody = prev.GetBody
	if body == nil {
		next.GetBody = nil
	}

	crossOrigin := !sameOrigin(prev.URL, location)
	for name, values := range prev.Header {
		if crossOrigin && isCredentialHeader(name) {
			continue
		}
		next.Header[name] = values
	}
	return next, nil
}

func isCredentialHeader(name string) bool {
	for _, h := range credentialHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// sameOrigin compares scheme, host and effective port. Default ports count as
// their explicit forms, so https://a and https://a:443 share an origin.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
