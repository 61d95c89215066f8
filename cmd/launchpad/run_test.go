//go:build unix

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/launchpad/internal/orchestrator"
)

const stubWorker = `#!/bin/sh
case "$*" in
  *fail.test*) echo "navigation failed" >&2; exit 3 ;;
esac
echo "{\"label\": \"$1\"}"
`

// setupRun writes a stub worker, a config pointing at it and a batch file.
func setupRun(t *testing.T, jobs string) (cfgPath, batchPath, dbPath string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("skipped, /bin/sh not available: %v", err)
	}
	dir := t.TempDir()

	stub := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(stub, []byte(stubWorker), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	dbPath = filepath.Join(dir, "history.db")
	cfgPath = filepath.Join(dir, "launchpad.yaml")
	cfg := fmt.Sprintf(`
worker:
  command: [/bin/sh, %s]
  timeout: 10s
  grace_period: 1s
state:
  path: %s
  lock_path: %s
`, stub, dbPath, filepath.Join(dir, "launchpad.lock"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	batchPath = filepath.Join(dir, "batch.yaml")
	if err := os.WriteFile(batchPath, []byte(jobs), 0o644); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return cfgPath, batchPath, dbPath
}

func TestRunBatchReport(t *testing.T) {
	cfgPath, batchPath, _ := setupRun(t, `
jobs:
  - ticker: AAPL
    topic: Apple
    goal: sentiment
    sources: [https://a.test]
  - topic: Tesla
    goal: deliveries
    sources: [https://t.test]
`)

	out, err := execute(t, "run", batchPath, "--config", cfgPath, "--base-port", "9222")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	var report orchestrator.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out)
	}
	if report.Succeeded != 2 || report.Failed != 0 {
		t.Fatalf("succeeded=%d failed=%d", report.Succeeded, report.Failed)
	}
	if report.Results[0].Topic != "Apple" || report.Results[1].Topic != "Tesla" {
		t.Errorf("results out of batch order: %s, %s", report.Results[0].Topic, report.Results[1].Topic)
	}
	if !strings.Contains(string(report.Results[1].Summary), "Tesla") {
		t.Errorf("summary = %s", report.Results[1].Summary)
	}
}

func TestRunBatchFailureRecordsHistory(t *testing.T) {
	cfgPath, batchPath, dbPath := setupRun(t, `
- topic: Good
  goal: g
  sources: [https://ok.test]
- topic: Bad
  goal: g
  sources: [https://fail.test]
`)

	reportPath := filepath.Join(t.TempDir(), "report.json")
	out, err := execute(t, "run", batchPath, "--config", cfgPath, "--sequential", "--record", "-o", reportPath)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 jobs failed") {
		t.Fatalf("expected partial failure error, got %v", err)
	}
	if out != "" {
		t.Errorf("report should go to the file, stdout = %q", out)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report orchestrator.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Mode != orchestrator.ModeSequential || report.Failed != 1 {
		t.Fatalf("unexpected report: mode=%s failed=%d", report.Mode, report.Failed)
	}
	if report.Results[1].ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", report.Results[1].ExitCode)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("history database not created: %v", err)
	}
	hist, err := execute(t, "history", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(hist), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, hist)
	}
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}

	table, err := execute(t, "history", "--config", cfgPath)
	if err != nil {
		t.Fatalf("history table failed: %v", err)
	}
	if !strings.Contains(table, "JOB ID") || !strings.Contains(table, "failed") {
		t.Errorf("unexpected history table:\n%s", table)
	}
}

func TestRunRejectsInvalidBatch(t *testing.T) {
	cfgPath, batchPath, _ := setupRun(t, `
- topic: Missing goal
  sources: [https://a.test]
`)
	out, err := execute(t, "run", batchPath, "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "goal") {
		t.Fatalf("expected validation error naming goal, got %v", err)
	}
	if out != "" {
		t.Errorf("no report expected, got %q", out)
	}
}
