// Package api exposes the authorization gate over HTTP for the tool-execution
// boundary: an exec check, a fetch dry-run check, and profile management.
// The API only renders verdicts; it never executes commands or fetches URLs.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zwright8/gateguard/internal/config"
	"github.com/zwright8/gateguard/internal/execguard"
	"github.com/zwright8/gateguard/internal/logger"
	"github.com/zwright8/gateguard/internal/netguard"
)

var log = logger.New("api")

// checkTimeout bounds a single check request, covering the DNS lookups a
// fetch dry-run may perform.
const checkTimeout = 10 * time.Second

// Server evaluates check requests against the currently loaded configuration
// and profiles. Profile reloads swap the evaluation options atomically; an
// in-flight check keeps the options it started with.
type Server struct {
	cfg    *config.Config
	token  string
	lookup netguard.LookupFunc

	mu   sync.RWMutex
	opts *execguard.Options
}

// NewServer builds a server from configuration and secrets, loading the
// operator profile directory once. Call Reload to pick up later changes.
func NewServer(cfg *config.Config, secrets *config.Secrets) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		lookup: netguard.DefaultLookup,
	}
	if secrets != nil {
		s.token = secrets.APIToken
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile directory and swaps in a fresh registry and
// trusted-directory set.
func (s *Server) Reload() error {
	set, err := config.LoadProfileDir(s.cfg.Exec.ProfileDir)
	if err != nil {
		return err
	}

	opts := &execguard.Options{
		TrustedDirs: append(append([]string(nil), s.cfg.Exec.TrustedDirs...), set.TrustedDirs...),
		Registry:    set.Registry(),
	}

	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	return nil
}

func (s *Server) execOptions() *execguard.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Router builds the gin router with all endpoints and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(SecurityHeadersMiddleware())
	r.Use(BodySizeLimitMiddleware(MaxBodySize))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	checks := r.Group("/api/gateguard", AuthMiddleware(s.token))
	checks.POST("/check/exec", s.handleCheckExec)
	checks.POST("/check/fetch", s.handleCheckFetch)
	checks.GET("/profiles", s.handleProfiles)
	checks.POST("/profiles/reload", s.handleReload)

	return r
}

type execCheckRequest struct {
	Command string `json:"command" binding:"required"`
}

// handleCheckExec evaluates one command line and returns the verdict. Denials
// are still HTTP 200: the check completed; the verdict is the payload.
func (s *Server) handleCheckExec(c *gin.Context) {
	var req execCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict := execguard.EvaluateShellAllowlist(
		req.Command,
		s.cfg.Exec.AllowlistEntries(),
		s.cfg.Exec.SafeBinSet(),
		s.execOptions(),
	)
	log.Info("check exec: allowed=%v command=%q", verdict.AllowlistSatisfied, req.Command)
	c.JSON(http.StatusOK, verdict)
}

type fetchCheckRequest struct {
	Hostname string `json:"hostname" binding:"required"`
}

type fetchCheckResponse struct {
	Allowed   bool     `json:"allowed"`
	Hostname  string   `json:"hostname,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	// Rule is the machine-readable identifier of the rule that denied the
	// target; Detail is the human-readable rendering.
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCheckFetch dry-runs resolution pinning for a hostname. A policy
// denial reports the rule; a resolver failure is a 502 so the caller can tell
// "denied" from "the check could not complete".
func (s *Server) handleCheckFetch(c *gin.Context) {
	var req fetchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	pin, err := netguard.ResolvePinnedHostnameWithPolicy(ctx, req.Hostname, netguard.ResolveOptions{
		Lookup: s.lookup,
		Policy: s.cfg.Fetch.Policy(),
	})
	if err != nil {
		var blocked *netguard.BlockedTargetError
		if errors.As(err, &blocked) {
			log.Info("check fetch: blocked hostname=%q: %v", req.Hostname, err)
			c.JSON(http.StatusOK, fetchCheckResponse{
				Allowed:  false,
				Hostname: blocked.Hostname,
				Rule:     blocked.Rule,
				Detail:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, fetchCheckResponse{Allowed: false, Error: err.Error()})
		return
	}

	addrs := make([]string, len(pin.Addresses))
	for i, a := range pin.Addresses {
		addrs[i] = a.String()
	}
	c.JSON(http.StatusOK, fetchCheckResponse{Allowed: true, Hostname: pin.Hostname, Addresses: addrs})
}

// handleProfiles lists active safe-bin profiles and the trusted directories.
func (s *Server) handleProfiles(c *gin.Context) {
	opts := s.execOptions()
	c.JSON(http.StatusOK, gin.H{
		"profiles":     opts.Registry.Names(),
		"safe_bins":    s.cfg.Exec.SafeBins,
		"trusted_dirs": execguard.TrustedDirs(opts),
	})
}

// handleReload re-reads the operator profile directory.
func (s *Server) handleReload(c *gin.Context) {
	if err := s.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
