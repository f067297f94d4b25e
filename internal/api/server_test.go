package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zwright8/gateguard/internal/config"
)

// testServer builds a server backed by a temp profile directory and a fake
// binary directory registered as trusted.
func testServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()
	binDir := t.TempDir()
	for _, name := range []string{"jq", "sort"} {
		if err := os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	real, err := filepath.EvalSymlinks(binDir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Exec.ProfileDir = filepath.Join(t.TempDir(), "profiles.d")
	cfg.Exec.TrustedDirs = []string{real}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Deterministic resolution for exec checks.
	s.opts.Env = map[string]string{"PATH": real}
	s.opts.WorkDir = "/"
	return s, real
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for name, values := range header {
		req.Header[name] = values
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("missing security header, got %q", got)
	}
}

func TestCheckExecEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)
	router := s.Router()

	t.Run("allowed pipeline", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/exec", `{"command":"jq .foo | sort -r"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		var verdict struct {
			AnalysisOK         bool     `json:"analysis_ok"`
			AllowlistSatisfied bool     `json:"allowlist_satisfied"`
			SegmentSatisfiedBy []string `json:"segment_satisfied_by"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &verdict); err != nil {
			t.Fatal(err)
		}
		if !verdict.AnalysisOK || !verdict.AllowlistSatisfied {
			t.Fatalf("verdict = %+v", verdict)
		}
		if len(verdict.SegmentSatisfiedBy) != 2 || verdict.SegmentSatisfiedBy[0] != "safe-bin:jq" {
			t.Errorf("satisfied by = %v", verdict.SegmentSatisfiedBy)
		}
	})

	t.Run("denial is still 200", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/exec", `{"command":"sort -o out.txt"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var verdict struct {
			AllowlistSatisfied bool     `json:"allowlist_satisfied"`
			SegmentReasons     []string `json:"segment_reasons"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &verdict); err != nil {
			t.Fatal(err)
		}
		if verdict.AllowlistSatisfied {
			t.Fatal("want denial")
		}
		if len(verdict.SegmentReasons) != 1 || verdict.SegmentReasons[0] != "denied-flag:-o" {
			t.Errorf("reasons = %v", verdict.SegmentReasons)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/exec", `{}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/exec", `{"command":`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestCheckFetchEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)
	s.lookup = func(ctx context.Context, hostname string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
	}
	router := s.Router()

	t.Run("allowed hostname", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/fetch", `{"hostname":"example.com"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body)
		}
		var resp fetchCheckResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if !resp.Allowed || resp.Hostname != "example.com" || len(resp.Addresses) != 1 {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("blocked literal", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/fetch", `{"hostname":"127.0.0.1"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp fetchCheckResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Allowed {
			t.Fatal("loopback literal must be denied")
		}
		if resp.Rule != "ip-literal:loopback" {
			t.Errorf("rule = %q, want machine-readable identifier", resp.Rule)
		}
		if resp.Detail == "" || !strings.Contains(resp.Detail, "127.0.0.1") {
			t.Errorf("detail = %q", resp.Detail)
		}
	})

	t.Run("resolver failure is 502", func(t *testing.T) {
		s.lookup = func(ctx context.Context, hostname string) ([]netip.Addr, error) {
			return nil, context.DeadlineExceeded
		}
		defer func() {
			s.lookup = func(ctx context.Context, hostname string) ([]netip.Addr, error) {
				return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
			}
		}()
		w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/fetch", `{"hostname":"example.com"}`, nil)
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestProfilesEndpoints(t *testing.T) {
	s, _ := testServer(t, nil)
	router := s.Router()

	w := doJSON(t, router, http.MethodGet, "/api/gateguard/profiles", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Profiles    []string `json:"profiles"`
		TrustedDirs []string `json:"trusted_dirs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Profiles) == 0 {
		t.Error("no profiles listed")
	}
	if len(resp.TrustedDirs) == 0 {
		t.Error("no trusted dirs listed")
	}

	// Reload picks up a new profile document.
	if err := os.MkdirAll(s.cfg.Exec.ProfileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "profiles:\n  - name: column\n    known_short_flags: \"tx\"\n"
	if err := os.WriteFile(filepath.Join(s.cfg.Exec.ProfileDir, "10-extra.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, router, http.MethodPost, "/api/gateguard/profiles/reload", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload status = %d: %s", w.Code, w.Body)
	}
	if _, ok := s.execOptions().Registry.Lookup("column"); !ok {
		t.Error("reload did not pick up the new profile")
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := testServer(t, nil)
	s.token = "sekrit"
	router := s.Router()

	t.Run("missing token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/gateguard/profiles", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/gateguard/profiles", "", http.Header{"Authorization": {"Bearer wrong"}})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("correct token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/gateguard/profiles", "", http.Header{"Authorization": {"Bearer sekrit"}})
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("health stays open", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/health", "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestBodySizeLimit(t *testing.T) {
	s, _ := testServer(t, nil)
	router := s.Router()

	big := `{"command":"` + strings.Repeat("a", int(MaxBodySize)) + `"}`
	w := doJSON(t, router, http.MethodPost, "/api/gateguard/check/exec", big, nil)
	if w.Code != http.StatusRequestEntityTooLarge && w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want body rejected", w.Code)
	}
}
