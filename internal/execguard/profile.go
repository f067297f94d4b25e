package execguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Unbounded marks a profile as accepting any number of positional arguments.
const Unbounded = -1

// Profile describes which arguments a safe-bin utility tolerates without
// approval. Profiles are pure data: the evaluation procedure is fixed, the
// per-utility flag sets are operator-tunable.
type Profile struct {
	// Name is the executable base name this profile applies to.
	Name string `yaml:"name"`
	// MaxPositional caps positional arguments; Unbounded (-1) removes the
	// cap. Most safe-bins are only safe on piped input and use 0.
	MaxPositional int `yaml:"max_positional"`
	// AllowPathPositionals tolerates path-looking positional arguments.
	// Off for every builtin profile: a safe-bin reading arbitrary files is
	// not safe.
	AllowPathPositionals bool `yaml:"allow_path_positionals"`
	// AllowUnknownFlags accepts flags not present in any known set.
	// Off by default: unknown is not safe.
	AllowUnknownFlags bool `yaml:"allow_unknown_flags"`

	// DeniedLongFlags and DeniedShortFlags are rejected in bare and
	// value-attached forms, independent of whether any referenced file
	// exists. DeniedShortFlags is a string of single letters.
	DeniedLongFlags  []string `yaml:"denied_long_flags"`
	DeniedShortFlags string   `yaml:"denied_short_flags"`

	// KnownLongFlags / KnownShortFlags are tolerated flags taking no value.
	KnownLongFlags  []string `yaml:"known_long_flags"`
	KnownShortFlags string   `yaml:"known_short_flags"`

	// LongFlagsTakingValue / ShortFlagsTakingValue are tolerated flags that
	// consume a value (attached or as the following argument).
	LongFlagsTakingValue  []string `yaml:"long_flags_taking_value"`
	ShortFlagsTakingValue string   `yaml:"short_flags_taking_value"`
}

// Registry maps executable names to safe-bin profiles. It is immutable after
// construction; derived registries are built with With rather than mutation,
// which keeps concurrent evaluations trivially safe.
type Registry struct {
	profiles map[string]Profile
}

// DefaultRegistry returns the builtin profile table. The builtins are strict
// piped-input policies: no file positionals, no output flags, unknown flags
// denied.
func DefaultRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(builtinProfiles))}
	for _, p := range builtinProfiles {
		r.profiles[p.Name] = p
	}
	return r
}

// NewRegistry builds a registry from an explicit profile list, replacing the
// builtins entirely.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name] = p
	}
	return r
}

// With returns a derived registry with the given profiles added. An override
// with the same name replaces the builtin profile wholesale: a builtin
// denied flag stays denied unless the operator explicitly redefines that
// whole profile.
func (r *Registry) With(overrides ...Profile) *Registry {
	out := &Registry{profiles: make(map[string]Profile, len(r.profiles)+len(overrides))}
	for name, p := range r.profiles {
		out.profiles[name] = p
	}
	for _, p := range overrides {
		if p.Name == "" {
			continue
		}
		out.profiles[p.Name] = p
	}
	return out
}

// Lookup returns the profile for an executable name.
func (r *Registry) Lookup(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns the registered profile names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinProfiles is the default safe-bin table. Every entry assumes piped
// input; flags that name a file, run a program, or change where output goes
// are denied explicitly so the denial survives AllowUnknownFlags overrides.
var builtinProfiles = []Profile{
	{
		Name:          "jq",
		MaxPositional: 1, // the filter expression
		KnownLongFlags: []string{
			"raw-output", "raw-input", "compact-output", "sort-keys", "null-input",
			"exit-status", "slurp", "join-output", "ascii-output", "tab",
			"monochrome-output", "color-output",
		},
		KnownShortFlags:       "rRcSnejasCM",
		LongFlagsTakingValue:  []string{"indent"},
		DeniedLongFlags:       []string{"from-file", "slurpfile", "rawfile", "argfile", "arg", "argjson", "args", "jsonargs", "library-path"},
		DeniedShortFlags:      "fL",
	},
	{
		Name: "sort",
		KnownLongFlags: []string{
			"reverse", "numeric-sort", "general-numeric-sort", "human-numeric-sort",
			"month-sort", "version-sort", "ignore-case", "ignore-leading-blanks",
			"dictionary-order", "unique", "stable", "check", "zero-terminated",
		},
		KnownShortFlags:       "rnghMVfbduscz",
		LongFlagsTakingValue:  []string{"key", "field-separator", "buffer-size", "parallel"},
		ShortFlagsTakingValue: "ktS",
		DeniedLongFlags:       []string{"output", "compress-program", "random-source", "files0-from", "temporary-directory"},
		DeniedShortFlags:      "oT",
	},
	{
		Name:                  "uniq",
		KnownLongFlags:        []string{"count", "repeated", "unique", "ignore-case", "zero-terminated"},
		KnownShortFlags:       "cduiz",
		LongFlagsTakingValue:  []string{"skip-fields", "skip-chars", "check-chars"},
		ShortFlagsTakingValue: "fsw",
	},
	{
		Name:                  "head",
		KnownLongFlags:        []string{"quiet", "silent", "verbose", "zero-terminated"},
		KnownShortFlags:       "qvz",
		LongFlagsTakingValue:  []string{"lines", "bytes"},
		ShortFlagsTakingValue: "nc",
	},
	{
		Name:                  "tail",
		KnownLongFlags:        []string{"quiet", "silent", "verbose", "zero-terminated", "follow", "retry"},
		KnownShortFlags:       "qvzfF",
		LongFlagsTakingValue:  []string{"lines", "bytes", "pid", "sleep-interval", "max-unchanged-stats"},
		ShortFlagsTakingValue: "ncs",
	},
	{
		Name:           "wc",
		KnownLongFlags: []string{"lines", "words", "chars", "bytes", "max-line-length"},
		KnownShortFlags: "lwcmL",
		DeniedLongFlags: []string{"files0-from"},
	},
	{
		Name:            "tr",
		MaxPositional:   2, // SET1 SET2
		KnownLongFlags:  []string{"delete", "squeeze-repeats", "complement", "truncate-set1"},
		KnownShortFlags: "dsctC",
	},
	{
		Name:                  "cut",
		KnownLongFlags:        []string{"only-delimited", "zero-terminated", "complement"},
		KnownShortFlags:       "snz",
		LongFlagsTakingValue:  []string{"fields", "characters", "bytes", "delimiter", "output-delimiter"},
		ShortFlagsTakingValue: "fcbd",
	},
	{
		Name:                  "base64",
		KnownLongFlags:        []string{"decode", "ignore-garbage"},
		KnownShortFlags:       "di",
		LongFlagsTakingValue:  []string{"wrap"},
		ShortFlagsTakingValue: "w",
	},
}

// Argument-validation rule identifiers. Each carries the offending token so
// the caller can render an audit line.
func ruleDeniedFlag(flag string) string    { return "denied-flag:" + flag }
func ruleUnknownFlag(flag string) string   { return "unknown-flag:" + flag }
func ruleAmbiguousFlag(flag string) string { return "ambiguous-flag:" + flag }
func rulePathArgument(arg string) string   { return "path-argument:" + arg }

const rulePositionalLimit = "positional-limit"

// fileExtRe matches bare file names with an extension ("secret.json"). A jq
// filter like ".foo" starts with a dot and stays out.
var fileExtRe = regexp.MustCompile(`^[^./\s][^/\s]*\.[A-Za-z0-9]{1,9}$`)

// looksLikePath reports whether a positional argument plausibly names a
// filesystem path. "-" (stdin) is not a path.
func looksLikePath(s string) bool {
	switch {
	case s == "" || s == "-":
		return false
	case strings.ContainsRune(s, '/'):
		return true
	case strings.HasPrefix(s, "~"):
		return true
	case strings.HasPrefix(s, "."):
		return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "..")
	}
	return fileExtRe.MatchString(s)
}

// validateArgs checks an argument vector (argv[1:]) against a profile.
// Returns "" when every argument is tolerated, otherwise the machine-readable
// rule that failed. Denial never depends on filesystem state: a denied flag
// is the hazard whether or not its target exists.
func (p *Profile) validateArgs(args []string) string {
	positionals := 0
	afterTerminator := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if afterTerminator || arg == "-" || !strings.HasPrefix(arg, "-") {
			if !p.AllowPathPositionals && looksLikePath(arg) {
				return rulePathArgument(arg)
			}
			positionals++
			if p.MaxPositional != Unbounded && positionals > p.MaxPositional {
				return rulePositionalLimit
			}
			continue
		}

		if arg == "--" {
			afterTerminator = true
			continue
		}

		if strings.HasPrefix(arg, "--") {
			name, _, hasValue := strings.Cut(arg[2:], "=")
			resolved, rule := p.resolveLongFlag(name)
			if rule != "" {
				return rule
			}
			if !hasValue && p.longTakesValue(resolved) && i+1 < len(args) {
				i++ // consume the value argument
			}
			continue
		}

		if rule := p.checkShortCluster(arg, args, &i); rule != "" {
			return rule
		}
	}
	return ""
}

// resolveLongFlag resolves a (possibly abbreviated) long flag name against
// the profile's known sets. Exact matches win; otherwise an abbreviation is
// accepted only when it uniquely identifies one known flag. Ambiguous or
// unmatched abbreviations are rejected, never guessed.
func (p *Profile) resolveLongFlag(name string) (resolved, rule string) {
	all := p.allLongFlags()

	if denied, known := all[name]; known {
		if denied {
			return "", ruleDeniedFlag("--" + name)
		}
		return name, ""
	}

	var matches []string
	deniedMatch := false
	for flag, denied := range all {
		if strings.HasPrefix(flag, name) {
			matches = append(matches, flag)
			if denied {
				deniedMatch = true
			}
		}
	}
	switch {
	case len(matches) == 1:
		if deniedMatch {
			return "", ruleDeniedFlag("--" + name)
		}
		return matches[0], ""
	case len(matches) > 1:
		return "", ruleAmbiguousFlag("--" + name)
	}

	if p.AllowUnknownFlags {
		return name, ""
	}
	return "", ruleUnknownFlag("--" + name)
}

// allLongFlags returns every long flag this profile knows about, mapped to
// whether it is denied. Denied flags participate in abbreviation resolution
// so an abbreviation of a denied flag is itself denied, not "unknown".
func (p *Profile) allLongFlags() map[string]bool {
	all := make(map[string]bool, len(p.KnownLongFlags)+len(p.LongFlagsTakingValue)+len(p.DeniedLongFlags))
	for _, f := range p.KnownLongFlags {
		all[f] = false
	}
	for _, f := range p.LongFlagsTakingValue {
		all[f] = false
	}
	for _, f := range p.DeniedLongFlags {
		all[f] = true
	}
	return all
}

func (p *Profile) longTakesValue(name string) bool {
	for _, f := range p.LongFlagsTakingValue {
		if f == name {
			return true
		}
	}
	return false
}

// checkShortCluster validates a short-flag token ("-x", "-abc", "-fvalue").
// A denied letter is caught wherever it appears in the cluster, so both "-o"
// and "-ofile" are rejected. i is advanced when a value-taking letter
// consumes the next argument.
func (p *Profile) checkShortCluster(arg string, args []string, i *int) string {
	letters := []rune(arg[1:])
	for pos, r := range letters {
		letter := string(r)
		if strings.ContainsRune(p.DeniedShortFlags, r) {
			return ruleDeniedFlag("-" + letter)
		}
		if strings.ContainsRune(p.ShortFlagsTakingValue, r) {
			// Rest of the cluster is the attached value; when there is none,
			// the next argument is the value.
			if pos == len(letters)-1 && *i+1 < len(args) {
				*i++
			}
			return ""
		}
		if strings.ContainsRune(p.KnownShortFlags, r) {
			continue
		}
		if p.AllowUnknownFlags {
			continue
		}
		return ruleUnknownFlag("-" + letter)
	}
	return ""
}

// String renders a compact description for the profiles listing.
func (p Profile) String() string {
	max := "0"
	if p.MaxPositional == Unbounded {
		max = "unbounded"
	} else if p.MaxPositional > 0 {
		max = fmt.Sprintf("%d", p.MaxPositional)
	}
	return fmt.Sprintf("%s (positionals: %s, denied: %d long / %d short)",
		p.Name, max, len(p.DeniedLongFlags), len(p.DeniedShortFlags))
}
