package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/liamcoop/incentives/registry"
)

const gaRule = `{
	"id": "ga-film",
	"name": "Georgia Film Credit",
	"jurisdiction_code": "GA",
	"eligibility": {"min_qualified_spend": "500"},
	"calculation": {"rate": "0.20"}
}`

func init() {
	color.NoColor = true
}

// runCLI executes the root command with args and captures both streams
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(registry.RootEnvVar, "")

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// setupInstall creates <root>/rules with a GA rule
func setupInstall(t *testing.T) (string, string) {
	t.Helper()
	install := t.TempDir()
	rulesDir := filepath.Join(install, registry.DefaultDirName)
	if err := os.MkdirAll(rulesDir, 0o755); err != nil {
		t.Fatalf("Failed to create rules dir: %v", err)
	}
	writeFile(t, filepath.Join(rulesDir, "GA.json"), gaRule)
	return install, rulesDir
}

// TestInit verifies the rules root is created and init is idempotent
func TestInit(t *testing.T) {
	install := t.TempDir()

	for i := 0; i < 2; i++ {
		out, _, err := runCLI(t, "", "init", "--install-root", install)
		if err != nil {
			t.Fatalf("init failed: %v", err)
		}
		if !strings.Contains(out, filepath.Join(install, "rules")) {
			t.Errorf("Expected output to name the rules root, got %q", out)
		}
	}

	if info, err := os.Stat(filepath.Join(install, "rules")); err != nil || !info.IsDir() {
		t.Errorf("Expected rules directory to exist: %v", err)
	}
}

// TestCodes verifies listing and the custom rules dir flag
func TestCodes(t *testing.T) {
	install, rulesDir := setupInstall(t)
	writeFile(t, filepath.Join(rulesDir, "il.json"), `{"jurisdiction_code": "IL"}`)
	writeFile(t, filepath.Join(rulesDir, "notes.txt"), "ignored")

	out, _, err := runCLI(t, "", "codes", "--install-root", install)
	if err != nil {
		t.Fatalf("codes failed: %v", err)
	}
	if out != "GA\nIL\n" {
		t.Errorf("Expected GA and IL, got %q", out)
	}

	empty := t.TempDir()
	out, errOut, err := runCLI(t, "", "codes", "--install-root", install, "--rules-dir", empty)
	if err != nil {
		t.Fatalf("codes failed: %v", err)
	}
	if out != "" || !strings.Contains(errOut, "no rule documents") {
		t.Errorf("Expected empty listing notice, got out=%q err=%q", out, errOut)
	}
}

// TestValidate verifies digests for good documents and failure for bad ones
func TestValidate(t *testing.T) {
	install, rulesDir := setupInstall(t)

	out, _, err := runCLI(t, "", "validate", "--install-root", install)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "OK") || !strings.Contains(out, "GA.json sha256:") {
		t.Errorf("Unexpected validate output: %q", out)
	}

	bad := filepath.Join(rulesDir, "BAD.json")
	writeFile(t, bad, `{"jurisdiction_code": "BAD", "calculation": {"rate": "lots"}}`)

	out, _, err = runCLI(t, "", "validate", "--install-root", install)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("Expected 1 of 2 invalid, got %v", err)
	}
	if !strings.Contains(out, "FAIL "+bad) {
		t.Errorf("Expected FAIL line for %s, got %q", bad, out)
	}

	out, _, err = runCLI(t, "", "validate", filepath.Join(rulesDir, "GA.json"))
	if err != nil || strings.Contains(out, "BAD") {
		t.Errorf("Explicit file validation should only check GA: err=%v out=%q", err, out)
	}
}

// TestEvaluate verifies JSON output for eligible and ineligible requests
func TestEvaluate(t *testing.T) {
	install, _ := setupInstall(t)
	expenses := filepath.Join(t.TempDir(), "expenses.json")
	writeFile(t, expenses, `[{"category": "production", "amount": "1000"}, {"category": "post", "amount": 250}]`)

	out, _, err := runCLI(t, "", "evaluate", "--install-root", install, "--code", "ga", "--expenses", expenses)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out)
	}
	if resp["eligible"] != true || resp["totalIncentiveAmount"] != "250" {
		t.Errorf("Unexpected response: %v", resp)
	}
	if _, ok := resp["meta"]; ok {
		t.Error("Non-verbose output should not include meta")
	}

	out, errOut, err := runCLI(t, `[{"category": "production", "amount": 100}]`,
		"evaluate", "--install-root", install, "--code", "GA", "--expenses", "-", "--verbose")
	if err != nil {
		t.Fatalf("Ineligible evaluation should not fail: %v", err)
	}
	if !strings.Contains(errOut, "BELOW_MIN_QUALIFIED_SPEND") {
		t.Errorf("Expected skip reason on stderr, got %q", errOut)
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if resp["eligible"] != false || resp["meta"] == nil {
		t.Errorf("Unexpected verbose response: %v", resp)
	}
}

// TestEvaluate_Errors verifies failures return errors for a non-zero exit
func TestEvaluate_Errors(t *testing.T) {
	install, _ := setupInstall(t)

	_, _, err := runCLI(t, "", "evaluate", "--install-root", install, "--code", "ZZ")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if msg := describeError(err); !strings.HasPrefix(msg, "unknown jurisdiction") {
		t.Errorf("Unexpected description: %q", msg)
	}

	_, _, err = runCLI(t, "", "evaluate", "--install-root", install, "--code", "GA", "--start-date", "03/01/2024")
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if msg := describeError(err); !strings.Contains(msg, "productionStartDate") {
		t.Errorf("Expected field detail, got %q", msg)
	}

	_, _, err = runCLI(t, "", "evaluate", "--install-root", install, "--code", "GA", "--expenses", "/does/not/exist.json")
	if err == nil || !strings.Contains(err.Error(), "failed to read expenses") {
		t.Errorf("Expected read failure, got %v", err)
	}

	_, _, err = runCLI(t, "", "evaluate", "--install-root", install)
	if err == nil || !strings.Contains(err.Error(), "code") {
		t.Errorf("Expected missing --code error, got %v", err)
	}
}
