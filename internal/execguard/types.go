// Package execguard decides whether a shell command line may run without
// human approval. A command is tokenized into pipeline segments, each
// segment's executable is resolved against the caller's PATH, and the segment
// must then be cleared either by an operator allowlist entry (exact trust for
// one resolved binary) or by a safe-bin profile (argument-level validation
// for a known-harmless utility found in a trusted directory). Anything not
// positively recognized is denied.
package execguard

import "github.com/zwright8/gateguard/internal/logger"

var log = logger.New("execguard")

// ExecutableResolution describes where a segment's argv[0] resolved to.
// Immutable once produced.
type ExecutableResolution struct {
	// Raw is argv[0] exactly as written in the command.
	Raw string `json:"raw"`
	// ResolvedPath is the absolute path the executable resolved to, or empty
	// when resolution failed.
	ResolvedPath string `json:"resolved_path,omitempty"`
	// Name is the base name of the resolved executable.
	Name string `json:"name"`
	// PolicyBlocked is set when resolution itself detected a disallowed
	// pattern (a semantic wrapper or a shell builtin), independent of any
	// profile or allowlist.
	PolicyBlocked bool `json:"policy_blocked,omitempty"`
	// BlockReason carries the machine-readable rule that set PolicyBlocked.
	BlockReason string `json:"block_reason,omitempty"`
}

// Segment is one pipeline segment of an analyzed command.
type Segment struct {
	Raw        string               `json:"raw"`
	Argv       []string             `json:"argv"`
	Resolution ExecutableResolution `json:"resolution"`
}

// CommandAnalysis is the parse result for a whole command line. Either every
// segment parsed and resolved (OK=true) or the analysis failed closed and no
// policy evaluation happens at all.
type CommandAnalysis struct {
	OK       bool      `json:"ok"`
	Reason   string    `json:"reason,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Verdict is the result of evaluating a command against the allowlist and
// safe-bin profiles. AllowlistSatisfied is true only when every segment has a
// non-empty SegmentSatisfiedBy entry.
type Verdict struct {
	AnalysisOK         bool      `json:"analysis_ok"`
	AllowlistSatisfied bool      `json:"allowlist_satisfied"`
	Reason             string    `json:"reason,omitempty"`
	Segments           []Segment `json:"segments,omitempty"`
	// SegmentSatisfiedBy names the rule that cleared each segment
	// ("allowlist:<pattern>" or "safe-bin:<name>"); empty means the segment
	// is a reason the command is denied.
	SegmentSatisfiedBy []string `json:"segment_satisfied_by,omitempty"`
	// SegmentReasons carries the machine-readable denial rule per segment;
	// empty for satisfied segments.
	SegmentReasons []string `json:"segment_reasons,omitempty"`
}

// AllowlistEntry is an operator-granted exact trust for one resolved binary
// path. Patterns are exact paths or simple globs and are matched against
// ExecutableResolution.ResolvedPath; a match bypasses profile checks.
type AllowlistEntry struct {
	Pattern string `json:"pattern"`
}
