package execguard

import (
	"os"
	"path/filepath"
	"testing"
)

// trustedSetup builds a PATH directory holding the named fake binaries and
// returns Options that treat it as a trusted directory.
func trustedSetup(t *testing.T, names ...string) (*Options, string) {
	t.Helper()
	dir := binDir(t, names...)
	opts := &Options{
		Env:         map[string]string{"PATH": dir},
		WorkDir:     "/",
		TrustedDirs: []string{dir},
	}
	return opts, dir
}

func allBins() map[string]bool {
	set := make(map[string]bool)
	for _, name := range DefaultRegistry().Names() {
		set[name] = true
	}
	return set
}

func TestEvaluateShellAllowlistSafeBins(t *testing.T) {
	opts, _ := trustedSetup(t, "jq", "sort", "uniq", "wc")

	tests := []struct {
		name        string
		command     string
		wantAllowed bool
		satisfiedBy []string // per segment, only checked when allowed
		wantReason  string   // substring of a segment reason when denied
	}{
		{
			name:        "single safe-bin",
			command:     "jq .foo",
			wantAllowed: true,
			satisfiedBy: []string{"safe-bin:jq"},
		},
		{
			name:        "pipeline of safe-bins",
			command:     "jq .foo | sort -r | uniq -c",
			wantAllowed: true,
			satisfiedBy: []string{"safe-bin:jq", "safe-bin:sort", "safe-bin:uniq"},
		},
		{
			name:        "file argument denies",
			command:     "jq .foo secret.json",
			wantAllowed: false,
			wantReason:  "path-argument:secret.json",
		},
		{
			name:        "output flag denies without the file existing",
			command:     "sort -o out.txt",
			wantAllowed: false,
			wantReason:  "denied-flag:-o",
		},
		{
			name:        "one bad segment denies the command",
			command:     "jq .foo | sort -o out.txt",
			wantAllowed: false,
			wantReason:  "denied-flag:-o",
		},
		{
			name:        "unknown binary",
			command:     "definitely-not-installed",
			wantAllowed: false,
			wantReason:  ReasonUnresolved,
		},
		{
			name:        "wrapper is policy blocked",
			command:     "bash -c 'jq .'",
			wantAllowed: false,
			wantReason:  ReasonSemanticWrapper,
		},
		{
			name:        "builtin is policy blocked",
			command:     "eval jq .",
			wantAllowed: false,
			wantReason:  ReasonShellBuiltin,
		},
		{
			name:        "ambiguous abbreviation denies",
			command:     "sort --r",
			wantAllowed: false,
			wantReason:  "ambiguous-flag:--r",
		},
		{
			name:        "unique abbreviation allows",
			command:     "sort --rev",
			wantAllowed: true,
			satisfiedBy: []string{"safe-bin:sort"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateShellAllowlist(tt.command, nil, allBins(), opts)
			if !v.AnalysisOK {
				t.Fatalf("analysis failed: %s", v.Reason)
			}
			if v.AllowlistSatisfied != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v (reasons: %v)", v.AllowlistSatisfied, tt.wantAllowed, v.SegmentReasons)
			}
			if tt.wantAllowed {
				for i, want := range tt.satisfiedBy {
					if v.SegmentSatisfiedBy[i] != want {
						t.Errorf("segment %d satisfied by %q, want %q", i, v.SegmentSatisfiedBy[i], want)
					}
				}
				return
			}
			found := false
			for _, r := range v.SegmentReasons {
				if r == tt.wantReason {
					found = true
				}
			}
			if !found {
				t.Errorf("reasons %v missing %q", v.SegmentReasons, tt.wantReason)
			}
		})
	}
}

func TestEvaluateAnalysisFailureDeniesEverything(t *testing.T) {
	opts, _ := trustedSetup(t, "jq")
	v := EvaluateShellAllowlist("jq . $(rm -rf /)", nil, allBins(), opts)
	if v.AnalysisOK {
		t.Fatal("analysis should fail on command substitution")
	}
	if v.AllowlistSatisfied {
		t.Fatal("failed analysis must never satisfy the allowlist")
	}
	if v.Reason != ReasonExpansion {
		t.Errorf("reason = %q, want %q", v.Reason, ReasonExpansion)
	}
}

func TestEvaluateUntrustedDirectoryShadowing(t *testing.T) {
	// A binary named like a safe-bin but living outside the trusted set is a
	// look-alike: the profile must not apply.
	shadow := binDir(t, "sort")
	opts := &Options{
		Env:     map[string]string{"PATH": shadow},
		WorkDir: "/",
		// shadow deliberately not in TrustedDirs
	}
	v := EvaluateShellAllowlist("sort -r", nil, allBins(), opts)
	if v.AllowlistSatisfied {
		t.Fatal("shadowed sort must not be trusted")
	}
	if v.SegmentReasons[0] != ReasonUntrustedDir {
		t.Errorf("reason = %q, want %q", v.SegmentReasons[0], ReasonUntrustedDir)
	}

	// Adding the directory to TrustedDirs flips the verdict.
	opts.TrustedDirs = []string{shadow}
	v = EvaluateShellAllowlist("sort -r", nil, allBins(), opts)
	if !v.AllowlistSatisfied {
		t.Errorf("trusted dir not honored: %v", v.SegmentReasons)
	}
}

func TestEvaluateSafeBinSetGatesProfiles(t *testing.T) {
	opts, _ := trustedSetup(t, "jq")
	// Profile exists in the registry but the utility is not in the active
	// safe-bin set for this call.
	v := EvaluateShellAllowlist("jq .", nil, map[string]bool{"sort": true}, opts)
	if v.AllowlistSatisfied {
		t.Fatal("inactive safe-bin must not satisfy")
	}
	if v.SegmentReasons[0] != ReasonNoRule {
		t.Errorf("reason = %q, want %q", v.SegmentReasons[0], ReasonNoRule)
	}
}

func TestEvaluateAllowlist(t *testing.T) {
	opts, dir := trustedSetup(t, "mytool", "jq")
	resolved := filepath.Join(dir, "mytool")

	t.Run("exact path", func(t *testing.T) {
		v := EvaluateShellAllowlist("mytool --anything goes.txt", []AllowlistEntry{{Pattern: resolved}}, nil, opts)
		if !v.AllowlistSatisfied {
			t.Fatalf("exact allowlist entry not honored: %v", v.SegmentReasons)
		}
		if v.SegmentSatisfiedBy[0] != "allowlist:"+resolved {
			t.Errorf("satisfied by %q", v.SegmentSatisfiedBy[0])
		}
	})

	t.Run("glob pattern", func(t *testing.T) {
		pattern := dir + "/*"
		v := EvaluateShellAllowlist("mytool run", []AllowlistEntry{{Pattern: pattern}}, nil, opts)
		if !v.AllowlistSatisfied {
			t.Fatalf("glob allowlist entry not honored: %v", v.SegmentReasons)
		}
	})

	t.Run("no match", func(t *testing.T) {
		v := EvaluateShellAllowlist("mytool", []AllowlistEntry{{Pattern: "/other/place/*"}}, nil, opts)
		if v.AllowlistSatisfied {
			t.Fatal("non-matching pattern satisfied")
		}
	})

	t.Run("allowlist bypasses profile checks", func(t *testing.T) {
		// An allowlisted jq may take file arguments; operator trust in the
		// exact binary overrides the piped-input profile.
		v := EvaluateShellAllowlist("jq .foo secret.json", []AllowlistEntry{{Pattern: filepath.Join(dir, "jq")}}, allBins(), opts)
		if !v.AllowlistSatisfied {
			t.Fatalf("allowlisted jq denied: %v", v.SegmentReasons)
		}
	})

	t.Run("unresolved never matches allowlist", func(t *testing.T) {
		v := EvaluateShellAllowlist("ghost", []AllowlistEntry{{Pattern: "*"}}, nil, opts)
		if v.AllowlistSatisfied {
			t.Fatal("unresolved executable matched a glob")
		}
	})

	t.Run("invalid pattern is dropped", func(t *testing.T) {
		v := EvaluateShellAllowlist("mytool", []AllowlistEntry{{Pattern: "[unclosed"}}, nil, opts)
		if v.AllowlistSatisfied {
			t.Fatal("invalid pattern must never allow")
		}
	})
}

func TestEvaluateDefaultDeny(t *testing.T) {
	// Nothing configured: the only possible verdict is deny.
	opts := &Options{Env: map[string]string{"PATH": os.Getenv("PATH")}, WorkDir: "/"}
	v := EvaluateShellAllowlist("ls -la", nil, nil, opts)
	if !v.AnalysisOK {
		t.Fatalf("analysis failed: %s", v.Reason)
	}
	if v.AllowlistSatisfied {
		t.Fatal("empty policy must deny")
	}
}
