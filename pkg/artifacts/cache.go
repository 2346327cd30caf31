// Package artifacts fetches remote archives into a flat on-disk cache and
// unpacks them into fresh temporary directories.
//
// A cached file is created only after a download completed and, when a
// checksum is configured, matched it. Partial downloads live under a temporary
// name and are removed on failure. The cache is never evicted.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// Artifact names a remote archive.
type Artifact struct {
	// Name is the cache file name, including the archive extension.
	Name string `json:"name" yaml:"name" mapstructure:"name" validate:"required"`

	// URL is the source location (http, https or s3).
	URL string `json:"url" yaml:"url" mapstructure:"url" validate:"required,url"`

	// SHA256 is the optional hex digest the download must match.
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty" mapstructure:"sha256" validate:"omitempty,hexadecimal,len=64"`
}

// ErrChecksumMismatch is returned when a download does not match its digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Source streams an artifact body.
type Source interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Cache is a flat directory of downloaded archives.
type Cache struct {
	dir     string
	sources map[string]Source
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithSource registers a source for a URL scheme, replacing the default.
func WithSource(scheme string, src Source) Option {
	return func(c *Cache) {
		c.sources[scheme] = src
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger.With().Str("component", "artifacts").Logger()
	}
}

// WithMetrics records cache hits, misses and downloaded bytes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache creates a cache rooted at dir. http, https and s3 sources are
// registered by default.
func NewCache(dir string, opts ...Option) *Cache {
	httpSrc := NewHTTPSource(nil)
	c := &Cache{
		dir: dir,
		sources: map[string]Source{
			"http":  httpSrc,
			"https": httpSrc,
			"s3":    NewS3Source(S3Config{}),
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Init creates the cache directory if it does not exist.
func (c *Cache) Init() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.dir, err)
	}
	return nil
}

// Path returns the cache path of an artifact.
func (c *Cache) Path(a Artifact) string {
	return filepath.Join(c.dir, a.Name)
}

// Has reports whether the artifact is already cached.
func (c *Cache) Has(a Artifact) bool {
	info, err := os.Stat(c.Path(a))
	return err == nil && info.Mode().IsRegular()
}

// Ensure makes sure the artifact is cached and extracts it into a new
// temporary directory. The caller owns the returned directory and should
// remove it when done.
func (c *Cache) Ensure(ctx context.Context, a Artifact) (string, error) {
	archive, err := c.Fetch(ctx, a)
	if err != nil {
		return "", err
	}

	dir, err := Extract(archive, a.Name)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", a.Name, err)
	}

	logger := telemetry.LoggerFrom(ctx, c.logger).WithArtifact(a.Name, a.URL).Zerolog()
	logger.Debug().Str("dir", dir).Msg("artifact extracted")
	return dir, nil
}

// Fetch returns the cache path of the artifact, downloading it on a miss.
func (c *Cache) Fetch(ctx context.Context, a Artifact) (string, error) {
	ctx, span := telemetry.StartArtifactSpan(ctx, a.Name, a.URL)
	defer span.End()

	path, hit, err := c.fetch(ctx, a)
	span.SetAttributes(telemetry.AttrCacheHit.Bool(hit))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.RecordSuccess(span)
	return path, nil
}

func (c *Cache) fetch(ctx context.Context, a Artifact) (string, bool, error) {
	if a.Name == "" || strings.ContainsAny(a.Name, `/\`) {
		return "", false, fmt.Errorf("invalid artifact name %q", a.Name)
	}
	logger := telemetry.LoggerFrom(ctx, c.logger).WithArtifact(a.Name, a.URL).Zerolog()

	target := c.Path(a)
	if c.Has(a) {
		c.metrics.RecordCacheHit(a.Name)
		logger.Debug().Msg("artifact cache hit")
		return target, true, nil
	}
	c.metrics.RecordCacheMiss(a.Name)

	if err := c.Init(); err != nil {
		return "", false, err
	}

	src, err := c.sourceFor(a.URL)
	if err != nil {
		return "", false, err
	}

	logger.Info().Msg("downloading artifact")

	body, err := src.Open(ctx, a.URL)
	if err != nil {
		return "", false, fmt.Errorf("failed to download %s: %w", a.Name, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(c.dir, a.Name+".part-*")
	if err != nil {
		return "", false, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	promoted := false
	defer func() {
		if !promoted {
			os.Remove(tmpName)
		}
	}()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), body)
	c.metrics.AddDownloadedBytes(n)
	if err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("failed to download %s: %w", a.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("failed to write %s: %w", a.Name, err)
	}

	if a.SHA256 != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, a.SHA256) {
			return "", false, fmt.Errorf("%w for %s: expected %s, got %s", ErrChecksumMismatch, a.Name, a.SHA256, got)
		}
	}

	if err := os.Rename(tmpName, target); err != nil {
		return "", false, fmt.Errorf("failed to move %s into the cache: %w", a.Name, err)
	}
	promoted = true

	telemetry.AddEvent(trace.SpanFromContext(ctx), "downloaded", attribute.Int64("bytes", n))
	logger.Info().Int64("bytes", n).Msg("artifact cached")
	return target, false, nil
}

// Entries lists cached artifact names. Temporary download files are omitted.
func (c *Cache) Entries() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.Contains(e.Name(), ".part-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (c *Cache) sourceFor(url string) (Source, error) {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("artifact url %q has no scheme", url)
	}
	src, ok := c.sources[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported artifact url scheme %q", scheme)
	}
	return src, nil
}
