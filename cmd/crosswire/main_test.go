package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crosswire/crosswire-go/signature"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func TestRunCLIWithoutArgsShowsUsage(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Errorf("usage output missing, got: %s", stdout)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abcdef1234567890", "2026-08-01T12:00:00Z")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", info.Version)
	}
	if info.Commit != "abcdef123456" {
		t.Errorf("commit = %q, want 12-char prefix", info.Commit)
	}
	if info.BuildTime != "2026-08-01T12:00:00Z" {
		t.Errorf("build_time = %q", info.BuildTime)
	}
}

func TestRunVerifyAcceptsValidSignature(t *testing.T) {
	body := `{"id":"evt_1"}`
	bodyFile := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(bodyFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write body file: %v", err)
	}

	v, err := signature.New("verify-secret")
	if err != nil {
		t.Fatalf("signature.New: %v", err)
	}
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, v.CalculateSignature(ts, body))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVerify([]string{
			"--secret", "verify-secret",
			"--header", header,
			"--body-file", bodyFile,
		})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, "Valid") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunVerifyRejectsWrongSecret(t *testing.T) {
	body := `{"id":"evt_1"}`
	bodyFile := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(bodyFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write body file: %v", err)
	}

	v, err := signature.New("signing-secret")
	if err != nil {
		t.Fatalf("signature.New: %v", err)
	}
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, v.CalculateSignature(ts, body))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runVerify([]string{
			"--secret", "different-secret",
			"--header", header,
			"--body-file", bodyFile,
		})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, string(signature.CodeInvalidSignature)) {
		t.Errorf("stderr = %q, want %s", stderr, signature.CodeInvalidSignature)
	}
}

func TestRunVerifyRequiresHeader(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runVerify([]string{"--secret", "s"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "--header is required") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunSubscriptionNounHelp(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSubscriptionNoun([]string{"help"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "create, delete") {
		t.Errorf("help output = %q", stdout)
	}
}

func TestRunRunFailsOnMissingConfig(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runRun([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, false)
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Failed to load config") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunPublishRejectsInvalidJSON(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runPublish([]string{"orders", "--data", "{not json"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not valid JSON") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunPublishRequiresTopic(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runPublish([]string{"--data", "{}"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: crosswire publish") {
		t.Errorf("stderr = %q", stderr)
	}
}
