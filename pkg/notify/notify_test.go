package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func choices(picked *string) []Action {
	return []Action{
		{Label: "Open downloads page", Do: func() { *picked = "open" }},
		{Label: "Try again", Do: func() { *picked = "retry" }},
		{Label: "Abort", Cancel: true, Do: func() { *picked = "abort" }},
	}
}

func TestConsoleConfirmInteractive(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, strings.NewReader("9\nfoo\n2\n"))
	c.SetInteractive(true)

	var picked string
	if err := c.Confirm("Python is missing", "install it", choices(&picked)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if picked != "retry" {
		t.Errorf("expected retry, got %q", picked)
	}
	if strings.Count(out.String(), "choose [1-3]") != 3 {
		t.Errorf("expected three prompts, got output:\n%s", out.String())
	}
}

func TestConsoleConfirmEOFPicksCancel(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, strings.NewReader(""))
	c.SetInteractive(true)

	var picked string
	if err := c.Confirm("Python is missing", "", choices(&picked)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if picked != "abort" {
		t.Errorf("expected abort on EOF, got %q", picked)
	}
}

func TestConsoleConfirmNonInteractive(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, strings.NewReader("1\n"))

	var picked string
	if err := c.Confirm("Python is missing", "", choices(&picked)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if picked != "abort" {
		t.Errorf("expected the cancel action, got %q", picked)
	}
}

func TestConsoleConfirmNoActions(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, nil)
	if err := c.Confirm("x", "", nil); !errors.Is(err, ErrNoActions) {
		t.Errorf("expected ErrNoActions, got %v", err)
	}
}

func TestConsoleNotifications(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, nil)

	c.NotifySuccess("PlatformIO IDE installed")
	c.NotifyError("Failed to install packages", "apm: exit 1\n")

	got := out.String()
	for _, want := range []string{"PlatformIO IDE installed", "Failed to install packages", "apm: exit 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsoleViewNonTTY(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, nil)

	v := c.NewView("Installing")
	v.SetProgress(12)
	v.SetProgress(12)
	v.SetProgress(25)

	v.OnCancel(func() { t.Error("a console view has no cancel control") })
	v.Close()
	v.SetProgress(50)

	got := out.String()
	if strings.Count(got, "progress 12%") != 1 || !strings.Contains(got, "progress 25%") {
		t.Errorf("unexpected progress output:\n%s", got)
	}
	if strings.Contains(got, "progress 50%") {
		t.Error("closed view must not render")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder("Try again")

	var picked string
	if err := r.Confirm("Python is missing", "", choices(&picked)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if picked != "retry" {
		t.Errorf("expected scripted answer, got %q", picked)
	}

	if err := r.Confirm("Python is missing", "", choices(&picked)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if picked != "abort" {
		t.Errorf("expected cancel when answers are exhausted, got %q", picked)
	}

	r2 := NewRecorder("Nope")
	if err := r2.Confirm("x", "", choices(&picked)); err == nil {
		t.Error("expected an error for an unknown scripted label")
	}

	var seen []int
	r.OnProgress = func(v *RecordedView, percent int) { seen = append(seen, percent) }
	v := r.NewView("Installing").(*RecordedView)
	v.SetProgress(50)
	v.SetProgress(100)
	v.Close()

	if len(seen) != 2 || seen[1] != 100 {
		t.Errorf("unexpected hook calls %v", seen)
	}
	if got := v.Progress(); len(got) != 2 || got[0] != 50 {
		t.Errorf("unexpected progress %v", got)
	}
	if !v.Closed() {
		t.Error("expected view closed")
	}
	if len(r.Confirms()) != 2 || len(r.Views()) != 1 {
		t.Errorf("unexpected records: %d confirms, %d views", len(r.Confirms()), len(r.Views()))
	}
}
