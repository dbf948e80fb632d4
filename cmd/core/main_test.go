// Package main tests for the fieldcount command line tool.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("data_dir: %s\nremote:\n  base_url: %s\nlogging:\n  level: error\n",
		filepath.Join(dir, "data"), baseURL)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// =====================================================
// Version Tests
// =====================================================

func TestVersionDefault(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "fieldcount version ") {
		t.Errorf("unexpected output %q", out)
	}
}

// =====================================================
// Request Parsing Tests
// =====================================================

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("post", `{"sku":"A-1"}`, []string{"site=north", "site=south"}, false)
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Method != "POST" {
		t.Errorf("Method = %q", req.Method)
	}
	if string(req.Payload) != `{"sku":"A-1"}` {
		t.Errorf("Payload = %s", req.Payload)
	}
	if got := req.Params["site"]; len(got) != 2 {
		t.Errorf("Params = %v", req.Params)
	}

	if _, err := buildRequest("POST", "{not json", nil, false); err == nil {
		t.Error("invalid JSON payload should be rejected")
	}
	if _, err := buildRequest("GET", "", []string{"novalue"}, true); err == nil {
		t.Error("param without = should be rejected")
	}
}

// =====================================================
// Command Flow Tests
// =====================================================

func TestExecOfflineThenSync(t *testing.T) {
	var healthy atomic.Bool
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			return
		}
		if r.Method == http.MethodPost {
			creates.Add(1)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, srv.URL+"/api")

	out, err := runCLI(t, "exec", "/counts", "--config", cfgPath, "-X", "POST", "-d", `{"sku":"A-1","qty":2}`)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	var res struct {
		Pending  bool   `json:"pending"`
		ActionID string `json:"action_id"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("exec output %q: %v", out, err)
	}
	if !res.Pending || res.ActionID == "" {
		t.Fatalf("expected a queued action, got %s", out)
	}

	out, err = runCLI(t, "pending", "--config", cfgPath)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, res.ActionID) || !strings.Contains(out, "/counts") {
		t.Errorf("pending output %q missing action", out)
	}

	if _, err := runCLI(t, "sync", "--config", cfgPath); err == nil {
		t.Error("sync should fail while the remote is unreachable")
	}

	healthy.Store(true)
	out, err = runCLI(t, "sync", "--config", cfgPath)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "1 succeeded") {
		t.Errorf("sync output %q", out)
	}
	if creates.Load() != 1 {
		t.Errorf("remote received %d creates, want 1", creates.Load())
	}

	out, err = runCLI(t, "pending", "--config", cfgPath)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, "No pending actions") {
		t.Errorf("pending output %q", out)
	}
}

func TestScanManualCode(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1/api")

	out, err := runCLI(t, "scan", "--config", cfgPath, "--code", "4006381333931")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var ev struct {
		Code   string `json:"code"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal([]byte(out), &ev); err != nil {
		t.Fatalf("scan output %q: %v", out, err)
	}
	if ev.Code != "4006381333931" || ev.Source != "manual" {
		t.Errorf("scan event = %+v", ev)
	}
}

func TestScanWithoutCameraFails(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1/api")

	if _, err := runCLI(t, "scan", "--config", cfgPath); err == nil {
		t.Error("camera scan without a configured camera should fail")
	}
}

func TestCachePurge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))
	defer srv.Close()
	cfgPath := writeConfig(t, srv.URL+"/api")

	out, err := runCLI(t, "exec", "/counts", "--config", cfgPath, "--param", "site=north")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, `"online": true`) {
		t.Fatalf("expected an online read, got %s", out)
	}

	out, err = runCLI(t, "cache", "purge", "--config", cfgPath)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.Contains(out, "Purged 1 cached responses") {
		t.Errorf("purge output %q", out)
	}

	if _, err := runCLI(t, "cache", "purge", "--config", cfgPath, "--older-than", "-1h"); err == nil {
		t.Error("negative --older-than should be rejected")
	}
}
