// Package config loads pioide configuration from defaults, a YAML file and
// PIOIDE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ctag/platformio-atom-ide/pkg/artifacts"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// PIOIDE_PYTHON_EXECUTABLE.
const EnvPrefix = "PIOIDE"

// Config is the complete pioide configuration.
type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Python     PythonConfig     `mapstructure:"python"`
	PlatformIO PlatformIOConfig `mapstructure:"platformio"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Packages   PackagesConfig   `mapstructure:"packages"`
	IDE        IDEConfig        `mapstructure:"ide"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// PathsConfig holds filesystem locations. Empty derived paths are filled in
// from BaseDir by Resolve.
type PathsConfig struct {
	// BaseDir is the toolchain home, ~/.platformio by default.
	BaseDir string `mapstructure:"base_dir" validate:"required"`
	// EnvDir is the isolated environment directory.
	EnvDir string `mapstructure:"env_dir" validate:"required"`
	// CacheDir holds downloaded archives.
	CacheDir string `mapstructure:"cache_dir" validate:"required"`
	// PackagesDir is where IDE packages are installed.
	PackagesDir string `mapstructure:"packages_dir" validate:"required"`
	// StateDB is the SQLite database holding state and run history.
	StateDB string `mapstructure:"state_db" validate:"required"`
}

// PythonConfig configures the interpreter readiness check.
type PythonConfig struct {
	Executable   string `mapstructure:"executable" validate:"required"`
	DownloadsURL string `mapstructure:"downloads_url" validate:"required,url"`
}

// PlatformIOConfig configures the toolchain itself.
type PlatformIOConfig struct {
	// UseBuiltin selects the isolated environment over a system install.
	UseBuiltin bool `mapstructure:"use_builtin"`
	// CustomPath is an extra directory placed at the front of PATH.
	CustomPath string `mapstructure:"custom_path"`
	// PackageSpec is what pip installs, "platformio" by default.
	PackageSpec string `mapstructure:"package_spec" validate:"required"`
	// DevelopURL is installed by reinstall --develop.
	DevelopURL string `mapstructure:"develop_url" validate:"required,url"`
	// CommandsDir receives the platformio and pio links made by
	// install-commands.
	CommandsDir string `mapstructure:"commands_dir" validate:"required"`
}

// ArtifactsConfig names the archives the install steps fetch.
type ArtifactsConfig struct {
	Virtualenv artifacts.Artifact `mapstructure:"virtualenv"`
	Deps       artifacts.Artifact `mapstructure:"deps"`
	S3         artifacts.S3Config `mapstructure:"s3"`
}

// PackagesConfig declares the IDE packages to manage.
type PackagesConfig struct {
	// Manager is the package manager executable.
	Manager string `mapstructure:"manager" validate:"required"`
	// Required maps package names to semver ranges.
	Required map[string]string `mapstructure:"required" validate:"dive,keys,required,endkeys,required"`
	// Stale lists packages that must be removed when present.
	Stale []string `mapstructure:"stale" validate:"dive,required"`
}

// IDEConfig identifies the caller to the toolchain.
type IDEConfig struct {
	Caller  string `mapstructure:"caller" validate:"required"`
	Version string `mapstructure:"version"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// EnvBinDir returns the directory holding the isolated environment's
// executables.
func (c *Config) EnvBinDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(c.Paths.EnvDir, "Scripts")
	}
	return filepath.Join(c.Paths.EnvDir, "bin")
}

// TelemetrySettings converts the telemetry section into a telemetry.Config.
func (c *Config) TelemetrySettings(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Logging.Level = c.Telemetry.Logging.Level
	tc.Logging.Format = c.Telemetry.Logging.Format
	tc.Logging.Output = c.Telemetry.Logging.Output
	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Telemetry.Tracing.Insecure
	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	tc.Metrics.TextfilePath = c.Telemetry.Metrics.TextfilePath
	return tc
}

// LockFile returns the cross-process lock path.
func (c *Config) LockFile() string {
	return c.Paths.StateDB + ".lock"
}

// Default returns the default configuration with paths resolved against the
// user's home directory.
func Default() *Config {
	cfg := &Config{
		Paths: PathsConfig{
			BaseDir: filepath.Join(homeDir(), ".platformio"),
		},
		Python: PythonConfig{
			Executable:   defaultPython(),
			DownloadsURL: "https://www.python.org/downloads/",
		},
		PlatformIO: PlatformIOConfig{
			UseBuiltin:  true,
			PackageSpec: "platformio",
			DevelopURL:  "https://github.com/platformio/platformio/archive/develop.zip",
			CommandsDir: "/usr/local/bin",
		},
		Artifacts: ArtifactsConfig{
			Virtualenv: artifacts.Artifact{
				Name: "virtualenv.tar.gz",
				URL:  "https://pypi.python.org/packages/source/v/virtualenv/virtualenv-14.0.1.tar.gz",
			},
			Deps: artifacts.Artifact{
				Name: "deps.tar.gz",
				URL:  "https://sourceforge.net/projects/platformio-storage/files/ide-bundles/platformio-atom-ide-deps.tar.gz/download",
			},
		},
		Packages: PackagesConfig{
			Manager: "apm",
			Required: map[string]string{
				"build":    ">=0.57.0",
				"linter":   ">=1.11.0",
				"minimap":  ">=4.19.0",
				"tool-bar": ">=0.2.0",
			},
			Stale: []string{"terminal-plus"},
		},
		IDE: IDEConfig{
			Caller: "atom",
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "none",
				SamplingRate: 1.0,
				Insecure:     true,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
		},
	}
	cfg.Resolve()
	return cfg
}

// SetDefaults registers every default with v so that environment overrides
// apply to all keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	d.Paths = PathsConfig{BaseDir: d.Paths.BaseDir}

	// Paths defaults
	v.SetDefault("paths.base_dir", d.Paths.BaseDir)
	v.SetDefault("paths.env_dir", "")
	v.SetDefault("paths.cache_dir", "")
	v.SetDefault("paths.packages_dir", "")
	v.SetDefault("paths.state_db", "")

	// Python defaults
	v.SetDefault("python.executable", d.Python.Executable)
	v.SetDefault("python.downloads_url", d.Python.DownloadsURL)

	// PlatformIO defaults
	v.SetDefault("platformio.use_builtin", d.PlatformIO.UseBuiltin)
	v.SetDefault("platformio.custom_path", d.PlatformIO.CustomPath)
	v.SetDefault("platformio.package_spec", d.PlatformIO.PackageSpec)
	v.SetDefault("platformio.develop_url", d.PlatformIO.DevelopURL)
	v.SetDefault("platformio.commands_dir", d.PlatformIO.CommandsDir)

	// Artifact defaults
	v.SetDefault("artifacts.virtualenv.name", d.Artifacts.Virtualenv.Name)
	v.SetDefault("artifacts.virtualenv.url", d.Artifacts.Virtualenv.URL)
	v.SetDefault("artifacts.virtualenv.sha256", "")
	v.SetDefault("artifacts.deps.name", d.Artifacts.Deps.Name)
	v.SetDefault("artifacts.deps.url", d.Artifacts.Deps.URL)
	v.SetDefault("artifacts.deps.sha256", "")
	v.SetDefault("artifacts.s3.region", "")
	v.SetDefault("artifacts.s3.profile", "")

	// Package defaults
	v.SetDefault("packages.manager", d.Packages.Manager)
	v.SetDefault("packages.required", d.Packages.Required)
	v.SetDefault("packages.stale", d.Packages.Stale)

	// IDE defaults
	v.SetDefault("ide.caller", d.IDE.Caller)
	v.SetDefault("ide.version", d.IDE.Version)

	// Telemetry defaults
	v.SetDefault("telemetry.logging.level", d.Telemetry.Logging.Level)
	v.SetDefault("telemetry.logging.format", d.Telemetry.Logging.Format)
	v.SetDefault("telemetry.logging.output", d.Telemetry.Logging.Output)
	v.SetDefault("telemetry.tracing.enabled", d.Telemetry.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", d.Telemetry.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", d.Telemetry.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", d.Telemetry.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.insecure", d.Telemetry.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", d.Telemetry.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.textfile_path", d.Telemetry.Metrics.TextfilePath)
}

// New returns a viper instance with defaults and environment overrides
// configured.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	return v
}

// Load reads the configuration. An empty path uses ConfigFile; a missing
// default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	v := New()

	explicit := path != ""
	if !explicit {
		path = ConfigFile()
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes, resolves and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve expands ~ and fills derived paths from BaseDir.
func (c *Config) Resolve() {
	c.Paths.BaseDir = expandHome(c.Paths.BaseDir)
	if c.Paths.EnvDir == "" {
		c.Paths.EnvDir = filepath.Join(c.Paths.BaseDir, "penv")
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = filepath.Join(c.Paths.BaseDir, ".cache")
	}
	if c.Paths.PackagesDir == "" {
		c.Paths.PackagesDir = filepath.Join(homeDir(), ".atom", "packages")
	}
	if c.Paths.StateDB == "" {
		c.Paths.StateDB = filepath.Join(c.Paths.BaseDir, "pioide.db")
	}
	c.Paths.EnvDir = expandHome(c.Paths.EnvDir)
	c.Paths.CacheDir = expandHome(c.Paths.CacheDir)
	c.Paths.PackagesDir = expandHome(c.Paths.PackagesDir)
	c.Paths.StateDB = expandHome(c.Paths.StateDB)
	c.PlatformIO.CustomPath = expandHome(c.PlatformIO.CustomPath)
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pioide")
	}
	// Fall back to ~/.config/pioide
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pioide"
	}
	return filepath.Join(home, ".config", "pioide")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}
