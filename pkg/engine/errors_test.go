package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineErrorClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name          string
		err           error
		fatal         bool
		canceled      bool
		persistence   bool
		wantSubstring string
	}{
		{
			name:          "fatal with step",
			err:           NewFatalError("Failed to download virtualenv.", base).WithStep(StepInstallPlatformIO),
			fatal:         true,
			wantSubstring: "(step=install-platformio)",
		},
		{
			name:          "canceled",
			err:           NewCanceledError("user aborted"),
			canceled:      true,
			wantSubstring: "[canceled] user aborted",
		},
		{
			name:          "persistence wrapped",
			err:           fmt.Errorf("finalize: %w", NewPersistenceError("failed to save state", base)),
			persistence:   true,
			wantSubstring: "boom",
		},
		{
			name:          "absence",
			err:           NewAbsenceError("python missing", nil),
			wantSubstring: "[absence] python missing",
		},
		{
			name: "plain error",
			err:  base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsCanceled(tt.err); got != tt.canceled {
				t.Errorf("IsCanceled() = %v, want %v", got, tt.canceled)
			}
			if got := IsPersistence(tt.err); got != tt.persistence {
				t.Errorf("IsPersistence() = %v, want %v", got, tt.persistence)
			}
			if !strings.Contains(tt.err.Error(), tt.wantSubstring) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.wantSubstring)
			}
		})
	}
}

func TestEngineErrorIsMatchesClassAndCode(t *testing.T) {
	cause := errors.New("exit code 1")
	err := NewFatalError("Unable to create a virtualenv.", cause).
		WithCode(ErrCodeProcess).
		WithDetail("permission denied")

	if !errors.Is(err, &EngineError{Class: ErrorClassFatal, Code: ErrCodeProcess}) {
		t.Error("expected match on class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassFatal, Code: ErrCodeArtifact}) {
		t.Error("expected no match on a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be unwrapped")
	}
	if err.Detail != "permission denied" {
		t.Errorf("unexpected detail %q", err.Detail)
	}
}

func TestStatePercent(t *testing.T) {
	tests := []struct {
		step, total, want int
	}{
		{0, 0, 0},
		{0, 8, 0},
		{1, 8, 12},
		{4, 8, 50},
		{7, 8, 87},
		{8, 8, 100},
		{9, 8, 100},
	}
	for _, tt := range tests {
		s := &State{Step: tt.step, Total: tt.total}
		if got := s.Percent(); got != tt.want {
			t.Errorf("Percent(%d/%d) = %d, want %d", tt.step, tt.total, got, tt.want)
		}
	}
}

func TestViewShouldBeDisplayed(t *testing.T) {
	if !(&State{}).ViewShouldBeDisplayed() {
		t.Error("a fresh run shows progress")
	}
	if (&State{Restored: true}).ViewShouldBeDisplayed() {
		t.Error("a restored run with nothing to do runs silently")
	}
	if !(&State{Restored: true, PackageManagementIsNecessary: true}).ViewShouldBeDisplayed() {
		t.Error("package work shows progress")
	}
	if !(&State{Restored: true, EnvShouldBeCreated: true}).ViewShouldBeDisplayed() {
		t.Error("environment creation shows progress")
	}
}

func TestDecodeStateRejectsGarbage(t *testing.T) {
	if _, err := DecodeState([]byte("{not json")); err == nil {
		t.Error("expected an error")
	}

	s := &State{Step: 3, Total: 8, PackagesToInstall: []string{"build"}, PlatformIOInstalled: true}
	data, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"platformioInstalled":true`) {
		t.Errorf("unexpected encoding %s", data)
	}
}
