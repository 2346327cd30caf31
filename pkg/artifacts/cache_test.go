package artifacts

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// countingServer serves body and counts requests.
func countingServer(t *testing.T, body []byte, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestCache(t *testing.T, srv *httptest.Server) *Cache {
	t.Helper()
	src := NewHTTPSource(srv.Client())
	return NewCache(filepath.Join(t.TempDir(), "cache"), WithSource("http", src))
}

func TestEnsureDownloadsOnceAndExtracts(t *testing.T) {
	body := buildTarGz(t, map[string]string{
		"virtualenv-16.7.9/virtualenv.py": "print('venv')",
		"virtualenv-16.7.9/setup.py":      "",
	})
	srv, hits := countingServer(t, body, http.StatusOK)
	c := newTestCache(t, srv)
	a := Artifact{Name: "virtualenv.tar.gz", URL: srv.URL + "/virtualenv.tar.gz"}

	for i := 0; i < 2; i++ {
		dir, err := c.Ensure(context.Background(), a)
		if err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		root, err := PayloadRoot(dir)
		if err != nil {
			t.Fatalf("PayloadRoot failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "virtualenv.py")); err != nil {
			t.Errorf("expected virtualenv.py in payload: %v", err)
		}
		if strings.HasPrefix(dir, c.Dir()) {
			t.Errorf("extraction must not happen inside the cache dir, got %s", dir)
		}
		os.RemoveAll(dir)
	}

	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("expected exactly one download, got %d", got)
	}
}

func TestFetchLogsArtifactFields(t *testing.T) {
	srv, _ := countingServer(t, []byte("archive"), http.StatusOK)
	c := newTestCache(t, srv)
	a := Artifact{Name: "deps.tar.gz", URL: srv.URL + "/deps.tar.gz"}

	var buf bytes.Buffer
	ctx := telemetry.WrapLogger(zerolog.New(&buf)).WithStep("install-dependencies-first-time").WithContext(context.Background())
	if _, err := c.Fetch(ctx, a); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"artifact":"deps.tar.gz"`, `"url":"` + a.URL + `"`, `"step":"install-dependencies-first-time"`, `"bytes":7`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output %s", want, out)
		}
	}
}

func TestFetchUnderTelemetry(t *testing.T) {
	srv, _ := countingServer(t, []byte("archive"), http.StatusOK)
	a := Artifact{Name: "deps.tar.gz", URL: srv.URL + "/deps.tar.gz"}

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "pioide.log")
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	c := NewCache(filepath.Join(t.TempDir(), "cache"),
		WithSource("http", NewHTTPSource(srv.Client())),
		WithMetrics(tel.Metrics),
	)

	ctx := tel.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(ctx, a); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}

	path := filepath.Join(t.TempDir(), "pioide.prom")
	if err := tel.Metrics.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`pioide_artifact_cache_lookups_total{artifact="deps.tar.gz",result="hit"} 1`,
		`pioide_artifact_cache_lookups_total{artifact="deps.tar.gz",result="miss"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %q in\n%s", want, data)
		}
	}
}

func TestFetchFailureLeavesNoCacheEntry(t *testing.T) {
	srv, _ := countingServer(t, []byte("nope"), http.StatusInternalServerError)
	c := newTestCache(t, srv)
	a := Artifact{Name: "deps.tar.gz", URL: srv.URL + "/deps.tar.gz"}

	if _, err := c.Ensure(context.Background(), a); err == nil {
		t.Fatal("expected an error for a failed download")
	}
	if c.Has(a) {
		t.Error("failed download must not be cached")
	}

	entries, _ := os.ReadDir(c.Dir())
	if len(entries) != 0 {
		t.Errorf("expected no files in cache dir, found %d", len(entries))
	}
}

func TestChecksumMismatchIsNotPromoted(t *testing.T) {
	body := buildTarGz(t, map[string]string{"pkg/a.txt": "a"})
	srv, _ := countingServer(t, body, http.StatusOK)
	c := newTestCache(t, srv)

	a := Artifact{Name: "pkg.tar.gz", URL: srv.URL, SHA256: strings.Repeat("0", 64)}
	_, err := c.Fetch(context.Background(), a)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if c.Has(a) {
		t.Error("mismatched download must not be cached")
	}

	sum := sha256.Sum256(body)
	a.SHA256 = hex.EncodeToString(sum[:])
	if _, err := c.Fetch(context.Background(), a); err != nil {
		t.Fatalf("Fetch with correct checksum failed: %v", err)
	}
	if !c.Has(a) {
		t.Error("expected artifact to be cached")
	}

	names, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(names) != 1 || names[0] != "pkg.tar.gz" {
		t.Errorf("expected [pkg.tar.gz], got %v", names)
	}
}

func TestEnsureExtractsZip(t *testing.T) {
	body := buildZip(t, map[string]string{"deps/tool-bar/package.json": `{"version":"1.0.0"}`})
	srv, _ := countingServer(t, body, http.StatusOK)
	c := newTestCache(t, srv)

	dir, err := c.Ensure(context.Background(), Artifact{Name: "deps.zip", URL: srv.URL})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	defer os.RemoveAll(dir)

	if _, err := os.Stat(filepath.Join(dir, "deps", "tool-bar", "package.json")); err != nil {
		t.Errorf("expected extracted package.json: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	if err := os.WriteFile(archive, buildZip(t, map[string]string{"../evil.txt": "x"}), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}

	_, err := Extract(archive, "evil.zip")
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	if _, err := Extract("whatever.rar", "whatever.rar"); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

func TestPayloadRoot(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(dir string)
		wantErr bool
	}{
		{name: "empty", setup: func(string) {}, wantErr: true},
		{
			name:  "single directory",
			setup: func(dir string) { _ = os.Mkdir(filepath.Join(dir, "root"), 0o755) },
		},
		{
			name:    "single file",
			setup:   func(dir string) { _ = os.WriteFile(filepath.Join(dir, "f"), nil, 0o644) },
			wantErr: true,
		},
		{
			name: "several entries",
			setup: func(dir string) {
				_ = os.Mkdir(filepath.Join(dir, "a"), 0o755)
				_ = os.Mkdir(filepath.Join(dir, "b"), 0o755)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(dir)
			root, err := PayloadRoot(dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PayloadRoot() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && filepath.Base(root) != "root" {
				t.Errorf("expected root dir, got %s", root)
			}
		})
	}
}

func TestFetchRejectsBadInput(t *testing.T) {
	c := NewCache(t.TempDir())

	if _, err := c.Fetch(context.Background(), Artifact{Name: "../x.tar.gz", URL: "http://example.com"}); err == nil {
		t.Error("expected an error for a name with a path separator")
	}
	if _, err := c.Fetch(context.Background(), Artifact{Name: "x.tar.gz", URL: "ftp://example.com/x"}); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://mirror/pio/virtualenv.tar.gz")
	if err != nil {
		t.Fatalf("parseS3URL failed: %v", err)
	}
	if bucket != "mirror" || key != "pio/virtualenv.tar.gz" {
		t.Errorf("unexpected bucket/key: %s %s", bucket, key)
	}

	for _, bad := range []string{"s3://bucket", "s3:///key", "https://bucket/key"} {
		if _, _, err := parseS3URL(bad); err == nil {
			t.Errorf("expected an error for %s", bad)
		}
	}
}
