package execguard

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolution-level rule identifiers.
const (
	ReasonSemanticWrapper = "semantic-wrapper"
	ReasonShellBuiltin    = "shell-builtin"
)

// defaultTrustedDirs are the standard system binary directories. A safe-bin
// profile only applies when the executable resolved into one of these (or an
// operator-added trusted directory); a matching name found anywhere else is
// assumed to be a PATH-shadowing look-alike.
var defaultTrustedDirs = []string{
	"/bin",
	"/usr/bin",
	"/usr/local/bin",
	"/sbin",
	"/usr/sbin",
	"/opt/homebrew/bin",
}

// semanticWrappers are utilities whose arguments select what actually runs:
// shells, interpreters, re-exec helpers. Static analysis of the wrapped
// command is not attempted; the wrapper itself is policy-blocked. The map
// value is the human-readable reason kept for audit messages.
var semanticWrappers = map[string]string{
	"sh":      "shell interpreter",
	"bash":    "shell interpreter",
	"zsh":     "shell interpreter",
	"dash":    "shell interpreter",
	"ksh":     "shell interpreter",
	"fish":    "shell interpreter",
	"env":     "re-executes its arguments",
	"xargs":   "builds and runs command lines",
	"find":    "-exec runs arbitrary commands",
	"awk":     "system() runs arbitrary commands",
	"gawk":    "system() runs arbitrary commands",
	"mawk":    "system() runs arbitrary commands",
	"perl":    "script interpreter",
	"python":  "script interpreter",
	"python3": "script interpreter",
	"ruby":    "script interpreter",
	"node":    "script interpreter",
	"sudo":    "re-executes its arguments",
	"doas":    "re-executes its arguments",
	"nohup":   "re-executes its arguments",
	"setsid":  "re-executes its arguments",
	"nice":    "re-executes its arguments",
	"stdbuf":  "re-executes its arguments",
	"timeout": "re-executes its arguments",
	"time":    "re-executes its arguments",
	"watch":   "re-executes its arguments",
	"script":  "re-executes its arguments",
	"chroot":  "re-executes its arguments",
	"strace":  "re-executes its arguments",
	"ltrace":  "re-executes its arguments",
	"gdb":     "debugger runs arbitrary code",
}

// shellBuiltins never resolve to a real binary; eval and source in particular
// re-interpret their arguments as shell code.
var shellBuiltins = map[string]bool{
	"eval": true, "exec": true, "source": true, ".": true,
	"command": true, "builtin": true, "alias": true, "trap": true,
	"set": true, "export": true, "unset": true, "ulimit": true,
}

// Options configures evaluation. The zero value (or nil) uses the process
// environment, the default trusted directories, and the builtin profile
// registry. A nil Options never mutates process state; every evaluation call
// owns its own copy.
type Options struct {
	// Env supplies the search-path environment (PATH). Defaults to the
	// current process environment.
	Env map[string]string
	// WorkDir anchors relative executable paths. Defaults to the process
	// working directory.
	WorkDir string
	// TrustedDirs are operator-added directories treated like the standard
	// system binary directories for the safe-bin trust gate.
	TrustedDirs []string
	// Registry supplies safe-bin profiles. Defaults to DefaultRegistry().
	Registry *Registry
}

func (o *Options) withDefaults() *Options {
	out := &Options{}
	if o != nil {
		*out = *o
	}
	if out.Env == nil {
		out.Env = environMap()
	}
	if out.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			out.WorkDir = wd
		} else {
			out.WorkDir = "/"
		}
	}
	if out.Registry == nil {
		out.Registry = DefaultRegistry()
	}
	return out
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// trustedDirSet returns the normalized set of trusted directories for these
// options: the fixed system directories plus operator additions.
func (o *Options) trustedDirSet() map[string]bool {
	set := make(map[string]bool, len(defaultTrustedDirs)+len(o.TrustedDirs))
	for _, d := range defaultTrustedDirs {
		set[filepath.Clean(d)] = true
	}
	for _, d := range o.TrustedDirs {
		if d == "" {
			continue
		}
		set[filepath.Clean(d)] = true
		// Resolved executable paths are symlink-canonicalized, so trust the
		// canonical form of operator directories as well.
		if real, err := filepath.EvalSymlinks(d); err == nil {
			set[filepath.Clean(real)] = true
		}
	}
	return set
}

// TrustedDirs lists the effective trusted directories, sorted. Exposed for
// the profiles listing API.
func TrustedDirs(opts *Options) []string {
	set := opts.withDefaults().trustedDirSet()
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// resolveExecutable resolves a segment's argv[0] to an absolute path using
// the caller-supplied environment, and applies the resolution-level policy
// checks (shell builtins, semantic wrappers). It never consults the real
// process PATH when Options.Env is set, so evaluations are reproducible and
// concurrent calls cannot interfere.
func resolveExecutable(raw string, opts *Options) ExecutableResolution {
	res := ExecutableResolution{Raw: raw, Name: filepath.Base(raw)}

	if shellBuiltins[res.Name] {
		res.PolicyBlocked = true
		res.BlockReason = ReasonShellBuiltin
		return res
	}

	var candidate string
	if strings.ContainsRune(raw, '/') {
		candidate = raw
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(opts.WorkDir, candidate)
		}
		candidate = filepath.Clean(candidate)
		if !isExecutableFile(candidate) {
			candidate = ""
		}
	} else {
		candidate = lookPath(raw, opts.Env["PATH"], opts.WorkDir)
	}

	if candidate != "" {
		// Canonicalize through symlinks so a trusted-directory check sees the
		// real location, and a symlink into an untrusted directory cannot
		// borrow trust from where the link lives.
		if real, err := filepath.EvalSymlinks(candidate); err == nil {
			candidate = real
		}
		res.ResolvedPath = candidate
		res.Name = filepath.Base(candidate)
	}

	if reason, ok := semanticWrappers[res.Name]; ok {
		res.PolicyBlocked = true
		res.BlockReason = ReasonSemanticWrapper
		log.Debug("blocked wrapper %q: %s", res.Name, reason)
	}

	return res
}

// lookPath searches the given PATH value for an executable file named name,
// following Unix resolution rules. An empty PATH element means the working
// directory, per POSIX.
func lookPath(name, pathEnv, workDir string) string {
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			dir = workDir
		}
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			return candidate
		}
	}
	return ""
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// inTrustedDir reports whether the resolved path's directory is trusted.
// Trust never comes from PATH order; only from membership in this set.
func inTrustedDir(resolvedPath string, trusted map[string]bool) bool {
	if resolvedPath == "" {
		return false
	}
	return trusted[filepath.Clean(filepath.Dir(resolvedPath))]
}
