package execguard

import (
	"strings"

	"github.com/gobwas/glob"
)

// Segment-level rule identifiers produced by the evaluator.
const (
	ReasonUnresolved   = "executable-not-resolved"
	ReasonNoRule       = "no-matching-rule"
	ReasonUntrustedDir = "untrusted-directory"
)

// compiledAllowlist holds pre-compiled allowlist patterns. Invalid patterns
// are dropped at compile time with a warning; a pattern that does not compile
// can never accidentally allow anything.
type compiledAllowlist struct {
	patterns []string
	globs    []glob.Glob
}

func compileAllowlist(entries []AllowlistEntry) *compiledAllowlist {
	c := &compiledAllowlist{}
	for _, e := range entries {
		if e.Pattern == "" {
			continue
		}
		g, err := glob.Compile(e.Pattern, '/')
		if err != nil {
			log.Warn("dropping invalid allowlist pattern %q: %v", e.Pattern, err)
			continue
		}
		c.patterns = append(c.patterns, e.Pattern)
		c.globs = append(c.globs, g)
	}
	return c
}

// match returns the pattern that matched the resolved path, or "".
func (c *compiledAllowlist) match(resolvedPath string) string {
	if resolvedPath == "" {
		return ""
	}
	for i, g := range c.globs {
		if c.patterns[i] == resolvedPath || g.Match(resolvedPath) {
			return c.patterns[i]
		}
	}
	return ""
}

// EvaluateShellAllowlist analyzes a raw command line and evaluates it against
// the allowlist and the safe-bin set. safeBins names the utilities whose
// profiles are active for this call; a profile in the registry is inert
// unless its name is in the set.
func EvaluateShellAllowlist(command string, allowlist []AllowlistEntry, safeBins map[string]bool, opts *Options) Verdict {
	return EvaluateExecAllowlist(AnalyzeCommand(command, opts), allowlist, safeBins, opts)
}

// EvaluateExecAllowlist evaluates a pre-tokenized analysis. A failed analysis
// denies the whole command without evaluating any policy: an unparsable
// command is never partially trusted.
func EvaluateExecAllowlist(analysis CommandAnalysis, allowlist []AllowlistEntry, safeBins map[string]bool, opts *Options) Verdict {
	if !analysis.OK {
		return Verdict{
			AnalysisOK:         false,
			AllowlistSatisfied: false,
			Reason:             analysis.Reason,
			Segments:           analysis.Segments,
		}
	}

	opts = opts.withDefaults()
	compiled := compileAllowlist(allowlist)
	trusted := opts.trustedDirSet()

	verdict := Verdict{
		AnalysisOK:         true,
		AllowlistSatisfied: true,
		Segments:           analysis.Segments,
		SegmentSatisfiedBy: make([]string, len(analysis.Segments)),
		SegmentReasons:     make([]string, len(analysis.Segments)),
	}

	for i, seg := range analysis.Segments {
		satisfiedBy, reason := evaluateSegment(seg, compiled, safeBins, trusted, opts.Registry)
		verdict.SegmentSatisfiedBy[i] = satisfiedBy
		verdict.SegmentReasons[i] = reason
		if satisfiedBy == "" {
			verdict.AllowlistSatisfied = false
		}
	}

	if !verdict.AllowlistSatisfied {
		log.Debug("command denied: %s", strings.Join(verdict.SegmentReasons, "; "))
	}
	return verdict
}

// evaluateSegment clears one pipeline segment or names the rule that denies
// it. The allowlist is checked first: it is a stronger, operator-granted
// trust and bypasses profile checks (including resolution-level policy
// blocks) for that exact resolved binary.
func evaluateSegment(seg Segment, allowlist *compiledAllowlist, safeBins map[string]bool, trusted map[string]bool, registry *Registry) (satisfiedBy, reason string) {
	res := seg.Resolution

	if pattern := allowlist.match(res.ResolvedPath); pattern != "" {
		return "allowlist:" + pattern, ""
	}

	if res.PolicyBlocked {
		return "", res.BlockReason
	}
	if res.ResolvedPath == "" {
		return "", ReasonUnresolved
	}

	profile, ok := registry.Lookup(res.Name)
	if !ok || !safeBins[res.Name] {
		return "", ReasonNoRule
	}
	if !inTrustedDir(res.ResolvedPath, trusted) {
		// The name matches a safe-bin but the binary lives outside the
		// trusted set: treated as a PATH-shadowing look-alike.
		return "", ReasonUntrustedDir
	}
	if rule := profile.validateArgs(seg.Argv[1:]); rule != "" {
		return "", rule
	}
	return "safe-bin:" + res.Name, ""
}
