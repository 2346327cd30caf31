package packages

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/runner"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

func writePackage(t *testing.T, dir, name, version string, withBin bool) {
	t.Helper()
	pkgDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("failed to create package dir: %v", err)
	}
	if version != "" {
		content := `{"name":"` + name + `","version":"` + version + `"}`
		if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write package.json: %v", err)
		}
	}
	if withBin {
		if err := os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755); err != nil {
			t.Fatalf("failed to create bin dir: %v", err)
		}
	}
}

func TestInventoryAvailableNames(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "tool-bar", "1.0.0", false)
	writePackage(t, dir, "build", "0.63.0", false)
	if err := os.WriteFile(filepath.Join(dir, "stray-file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	inv := NewInventory(dir)
	names, err := inv.AvailableNames()
	if err != nil {
		t.Fatalf("AvailableNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "build" || names[1] != "tool-bar" {
		t.Errorf("expected [build tool-bar], got %v", names)
	}

	missing := NewInventory(filepath.Join(dir, "nope"))
	names, err = missing.AvailableNames()
	if err != nil || len(names) != 0 {
		t.Errorf("expected empty list for missing dir, got %v, %v", names, err)
	}
}

func TestInventoryInstalledVersion(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "tool-bar", "1.2.3", false)
	writePackage(t, dir, "broken", "", false)

	inv := NewInventory(dir)
	if v, ok := inv.InstalledVersion("tool-bar"); !ok || v != "1.2.3" {
		t.Errorf("expected 1.2.3, got %q %v", v, ok)
	}
	if _, ok := inv.InstalledVersion("broken"); ok {
		t.Error("expected no version for a package without metadata")
	}
}

func TestInventoryActivate(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "build", "0.63.0", true)
	writePackage(t, dir, "tool-bar", "1.0.0", false)

	inv := NewInventory(dir)

	bin, err := inv.ActivatePackage(context.Background(), "build")
	if err != nil {
		t.Fatalf("ActivatePackage failed: %v", err)
	}
	if bin != filepath.Join(dir, "build", "bin") {
		t.Errorf("unexpected bin dir %q", bin)
	}
	if !inv.IsActive("build") {
		t.Error("expected build to be active")
	}

	bin, err = inv.ActivatePackage(context.Background(), "tool-bar")
	if err != nil || bin != "" {
		t.Errorf("expected no bin dir for tool-bar, got %q, %v", bin, err)
	}

	if _, err := inv.ActivatePackage(context.Background(), "missing"); err == nil {
		t.Error("expected an error activating a missing package")
	}
	if inv.IsActive("missing") {
		t.Error("missing package must not become active")
	}
}

func TestInventoryCopyFrom(t *testing.T) {
	src := t.TempDir()
	writePackage(t, src, "tool-bar", "1.0.0", true)
	writePackage(t, src, "build", "0.63.0", false)

	dst := filepath.Join(t.TempDir(), "packages")
	inv := NewInventory(dst)
	writePackage(t, dst, "build", "0.50.0", false)

	copied, err := inv.CopyFrom(src, []string{"tool-bar", "build", "not-in-archive"})
	if err != nil {
		t.Fatalf("CopyFrom failed: %v", err)
	}
	if len(copied) != 1 || copied[0] != "tool-bar" {
		t.Errorf("expected [tool-bar], got %v", copied)
	}
	if v, _ := inv.InstalledVersion("build"); v != "0.50.0" {
		t.Errorf("existing package must not be overwritten, got version %s", v)
	}
	if v, _ := inv.InstalledVersion("tool-bar"); v != "1.0.0" {
		t.Errorf("expected copied tool-bar 1.0.0, got %s", v)
	}
}

// fakePackageManager writes a shell script that records its arguments and
// exits with code.
func fakePackageManager(t *testing.T, code string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "apm")
	content := "#!/bin/sh\necho \"$@\" > " + argsFile + "\necho 'apm: some diagnostic' 1>&2\nexit " + code + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return script, argsFile
}

func TestManagerUpgradePassesNoConfirm(t *testing.T) {
	script, argsFile := fakePackageManager(t, "0")
	m := NewManager(script, runner.New(zerolog.Nop()), zerolog.Nop(), nil)

	if err := m.Upgrade(context.Background(), []string{"build", "tool-bar"}); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "upgrade build tool-bar --no-confirm" {
		t.Errorf("unexpected args %q", got)
	}
}

func TestManagerFailureIsCommandError(t *testing.T) {
	script, _ := fakePackageManager(t, "2")
	m := NewManager(script, runner.New(zerolog.Nop()), zerolog.Nop(), nil)

	err := m.Install(context.Background(), []string{"linter"})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Action != ActionInstall || cmdErr.ExitCode != 2 {
		t.Errorf("unexpected error fields: %+v", cmdErr)
	}
	if !strings.Contains(cmdErr.Stderr, "some diagnostic") {
		t.Errorf("expected captured stderr, got %q", cmdErr.Stderr)
	}
}

func TestManagerLogsWithStepLogger(t *testing.T) {
	script, _ := fakePackageManager(t, "0")
	m := NewManager(script, runner.New(zerolog.Nop()), zerolog.Nop(), nil)

	var buf bytes.Buffer
	ctx := telemetry.WrapLogger(zerolog.New(&buf)).WithRunID("run-7").WithStep("install-new").WithContext(context.Background())
	if err := m.Install(ctx, []string{"build"}); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"run_id":"run-7"`, `"step":"install-new"`, `"packages":["build"]`, `"action":"install"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output %s", want, out)
		}
	}
}

func TestManagerEmptyListIsNoOp(t *testing.T) {
	m := NewManager("definitely-not-a-real-binary", runner.New(zerolog.Nop()), zerolog.Nop(), nil)
	if err := m.Uninstall(context.Background(), nil); err != nil {
		t.Errorf("expected no-op for an empty list, got %v", err)
	}
}

func TestPipArguments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	binDir := t.TempDir()
	argsFile := filepath.Join(binDir, "args")
	content := "#!/bin/sh\necho \"$@\" >> " + argsFile + "\n[ \"$1\" = uninstall ] && exit 1\nexit 0\n"
	if err := os.WriteFile(filepath.Join(binDir, "pip"), []byte(content), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	pip := NewPip(binDir, runner.New(zerolog.Nop()), zerolog.Nop()).WithEnv(map[string]string{"PATH": "/usr/bin:/bin"})

	res, err := pip.Uninstall(context.Background(), "platformio")
	if err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if res.Success() {
		t.Error("expected non-zero exit to be reported in the result")
	}

	res, err = pip.Install(context.Background(), true, "platformio")
	if err != nil || !res.Success() {
		t.Fatalf("Install failed: %v %+v", err, res)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != "uninstall -y platformio" || lines[1] != "install -U platformio" {
		t.Errorf("unexpected invocations %q", lines)
	}
}
