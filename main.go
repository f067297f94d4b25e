// gateguard is the outbound action authorization gate for agent gateways:
// it decides whether a shell command may run, or a network fetch may proceed,
// without human approval. The CLI evaluates single checks; serve mode exposes
// the same checks over HTTP for a tool-execution boundary to consume.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zwright8/gateguard/internal/api"
	"github.com/zwright8/gateguard/internal/config"
	"github.com/zwright8/gateguard/internal/execguard"
	"github.com/zwright8/gateguard/internal/logger"
	"github.com/zwright8/gateguard/internal/netguard"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "check-exec":
			runCheckExec(os.Args[2:])
			return
		case "check-fetch":
			runCheckFetch(os.Args[2:])
			return
		case "profiles":
			runProfiles(os.Args[2:])
			return
		case "init":
			runInit(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "help", "-h", "--help":
			printUsage()
			return
		case "version", "-v", "--version":
			fmt.Printf("gateguard version %s\n", Version)
			return
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Print(`gateguard - outbound action authorization gate

Usage:
  gateguard check-exec  [flags] "<command line>"   evaluate a shell command
  gateguard check-fetch [flags] <hostname|url>     dry-run fetch resolution
  gateguard profiles    [flags]                    list safe-bin profiles
  gateguard init        [flags]                    write a starter config
  gateguard serve       [flags]                    run the check API server
  gateguard version                                print version

Run any subcommand with -h for its flags.
`)
}

// loadSetup loads config, secrets and the operator profile directory; shared
// by every subcommand.
func loadSetup(configPath string) (*config.Config, *config.Secrets, *execguard.Options) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLevelFromString(string(cfg.Server.LogLevel))
	if cfg.Server.NoColor {
		logger.SetColored(false)
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %v\n", err)
		os.Exit(1)
	}

	set, err := config.LoadProfileDir(cfg.Exec.ProfileDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load profiles: %v\n", err)
		os.Exit(1)
	}
	opts := &execguard.Options{
		TrustedDirs: append(append([]string(nil), cfg.Exec.TrustedDirs...), set.TrustedDirs...),
		Registry:    set.Registry(),
	}
	return cfg, secrets, opts
}

// runCheckExec evaluates one command line and prints the verdict.
// Exit status: 0 allowed, 1 denied, 2 usage error.
func runCheckExec(args []string) {
	fs := flag.NewFlagSet("check-exec", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	asJSON := fs.Bool("json", false, "Print the full verdict as JSON")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: gateguard check-exec [flags] \"<command line>\"")
		os.Exit(2)
	}
	command := fs.Arg(0)

	cfg, _, opts := loadSetup(*configPath)
	verdict := execguard.EvaluateShellAllowlist(command, cfg.Exec.AllowlistEntries(), cfg.Exec.SafeBinSet(), opts)

	if *asJSON {
		printJSON(verdict)
	} else {
		printVerdict(os.Stdout, verdict)
	}
	if !verdict.AllowlistSatisfied {
		os.Exit(1)
	}
}

// printVerdict renders a human-readable verdict summary.
func printVerdict(w *os.File, v execguard.Verdict) {
	if !v.AnalysisOK {
		fmt.Fprintf(w, "DENY: analysis failed (%s)\n", v.Reason)
		return
	}
	for i, seg := range v.Segments {
		status := "deny"
		detail := v.SegmentReasons[i]
		if v.SegmentSatisfiedBy[i] != "" {
			status = "allow"
			detail = v.SegmentSatisfiedBy[i]
		}
		fmt.Fprintf(w, "  segment %d [%s]: %s (%s)\n", i+1, seg.Raw, status, detail)
	}
	if v.AllowlistSatisfied {
		fmt.Fprintln(w, "ALLOW")
	} else {
		fmt.Fprintln(w, "DENY")
	}
}

// runCheckFetch resolves and classifies a fetch target without fetching it.
func runCheckFetch(args []string) {
	fs := flag.NewFlagSet("check-fetch", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	timeout := fs.Duration("timeout", 10*time.Second, "Resolution timeout")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: gateguard check-fetch [flags] <hostname|url>")
		os.Exit(2)
	}
	host := hostnameFromArg(fs.Arg(0))

	cfg, _, _ := loadSetup(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pin, err := netguard.ResolvePinnedHostnameWithPolicy(ctx, host, netguard.ResolveOptions{
		Policy: cfg.Fetch.Policy(),
	})
	if err != nil {
		if netguard.IsBlockedTarget(err) {
			fmt.Printf("DENY: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("ALLOW: %s -> %v\n", pin.Hostname, pin.Addresses)
}

// hostnameFromArg accepts either a bare hostname or a URL.
func hostnameFromArg(arg string) string {
	if strings.Contains(arg, "://") {
		if u, err := urlParse(arg); err == nil && u != "" {
			return u
		}
	}
	return arg
}

func urlParse(raw string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}
	return req.URL.Hostname(), nil
}

// runProfiles lists the active safe-bin profiles and trusted directories.
func runProfiles(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	_ = fs.Parse(args)

	cfg, _, opts := loadSetup(*configPath)

	fmt.Println("Safe-bin profiles:")
	for _, name := range opts.Registry.Names() {
		p, _ := opts.Registry.Lookup(name)
		marker := " "
		if cfg.Exec.SafeBinSet()[name] {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, p)
	}
	fmt.Println("\nTrusted directories:")
	for _, dir := range execguard.TrustedDirs(opts) {
		fmt.Printf("    %s\n", dir)
	}
	fmt.Println("\n(* = active via exec.safe_bins)")
}

// runInit writes the starter configuration and profile directory, owner-only.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	_ = fs.Parse(args)

	if err := config.WriteStarter(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote starter config to %s\n", *configPath)
	fmt.Println("Edit exec.safe_bins, exec.allowlist and fetch.* to fit your deployment.")
}

// runServe starts the check API server.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	port := fs.Int("port", 0, "API port (default from config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	noColor := fs.Bool("no-color", false, "Disable colored log output")
	_ = fs.Parse(args)

	cfg, secrets, _ := loadSetup(*configPath)
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		logger.SetGlobalLevelFromString(*logLevel)
	}
	if *noColor {
		logger.SetColored(false)
	}

	server, err := api.NewServer(cfg, secrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	var watcher *config.Watcher
	if cfg.Exec.Watch {
		watcher, err = config.NewWatcher(cfg.Exec.ProfileDir, func() {
			if err := server.Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "Profile reload failed: %v\n", err)
			}
		})
		if err == nil {
			_ = watcher.Start()
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("gateguard check API listening on %s\n", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
