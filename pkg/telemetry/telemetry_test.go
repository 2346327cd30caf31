package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{
			name: "sampling out of range",
			mutate: func(c *Config) {
				c.Tracing.SamplingRate = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := WrapLogger(zerolog.New(&buf)).
		WithRunID("run-1").
		WithStep("install-platformio").
		WithArtifact("virtualenv.tar.gz", "https://example.com/virtualenv.tar.gz").
		WithPackages([]string{"build"})

	zl := l.Zerolog()
	zl.Info().Msg("step started")

	out := buf.String()
	for _, want := range []string{
		`"run_id":"run-1"`,
		`"step":"install-platformio"`,
		`"artifact":"virtualenv.tar.gz"`,
		`"url":"https://example.com/virtualenv.tar.gz"`,
		`"packages":["build"]`,
		`"message":"step started"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log line %s", want, out)
		}
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	l := WrapLogger(zerolog.Nop())
	ctx := l.WithContext(context.Background())
	if FromContext(ctx) != l {
		t.Error("expected the same logger back from the context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected a default logger")
	}
	if LoggerFrom(ctx, zerolog.Nop()) != l {
		t.Error("expected the context logger over the fallback")
	}

	var buf bytes.Buffer
	fallback := LoggerFrom(context.Background(), zerolog.New(&buf)).Zerolog()
	fallback.Info().Msg("fallback")
	if !strings.Contains(buf.String(), "fallback") {
		t.Error("expected the fallback logger without one in the context")
	}
}

func TestRunContextCarriesRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WrapLogger(zerolog.New(&buf)).WithContext(context.Background())
	ctx = WithRunContext(ctx, "run-9")

	s := StartStep(ctx, "activate", 7, 8)
	zl := FromContext(s.Ctx).Zerolog()
	zl.Info().Msg("activating")
	s.End("succeeded", nil)

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-9"`) || !strings.Contains(out, `"step":"activate"`) {
		t.Errorf("expected run and step fields in %s", out)
	}
}

func TestArtifactSpanWithoutTelemetry(t *testing.T) {
	ctx, span := StartArtifactSpan(context.Background(), "deps.tar.gz", "https://example.com/deps.tar.gz")
	if ctx == nil || span == nil {
		t.Fatal("expected a usable no-op span")
	}
	span.SetAttributes(AttrCacheHit.Bool(true))
	AddEvent(span, "downloaded")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("no trace ID expected without telemetry")
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordRunStarted()
	m.RecordStep("activate", "succeeded", time.Second)
	m.RecordCacheHit("virtualenv")
	m.AddDownloadedBytes(10)

	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "pioide.prom")); err != nil {
		t.Errorf("WriteTextfile on disabled metrics failed: %v", err)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordError("fatal")
}

func TestMetricsTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordRunStarted()
	m.RecordStep("install-new", "succeeded", 2*time.Second)
	m.RecordStep("housekeeping", "skipped", 0)
	m.RecordCacheMiss("virtualenv")
	m.AddDownloadedBytes(2048)
	m.RecordPackageOperation("install", false)
	m.RecordRunCompleted("failed", 5*time.Second)

	path := filepath.Join(t.TempDir(), "pioide.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`pioide_runs_started_total 1`,
		`pioide_steps_executed_total{status="skipped",step="housekeeping"} 1`,
		`pioide_artifact_cache_lookups_total{artifact="virtualenv",result="miss"} 1`,
		`pioide_artifact_downloaded_bytes_total 2048`,
		`pioide_package_operations_total{action="install",status="failed"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in textfile output:\n%s", want, out)
		}
	}
}

func TestStepSpanWithoutTelemetry(t *testing.T) {
	s := StartStep(context.Background(), "activate", 7, 8)
	if s.Logger == nil || s.Timer == nil {
		t.Fatal("expected logger and timer to be populated")
	}
	s.End("failed", errors.New("boom"))
}

func TestRunContextWithTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "pioide.log")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := WithRunContext(tel.WithContext(context.Background()), "run-42")
	s := StartStep(ctx, "ensure-python", 1, 8)
	if s.Span == nil {
		t.Fatal("expected a step span with telemetry attached")
	}
	actx, span := StartArtifactSpan(s.Ctx, "virtualenv.tar.gz", "https://example.com/virtualenv.tar.gz")
	RecordSuccess(span)
	span.End()
	if TraceID(actx) != TraceID(s.Ctx) {
		t.Error("artifact span must join the step trace")
	}
	s.End("succeeded", nil)
	EndRunContext(ctx, "succeeded", nil)
}
