package engine

import (
	"context"

	"github.com/ctag/platformio-atom-ide/pkg/artifacts"
	"github.com/ctag/platformio-atom-ide/pkg/notify"
	"github.com/ctag/platformio-atom-ide/pkg/runner"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
)

// StateStore persists the provisioning state.
type StateStore interface {
	// LoadState returns the value stored under key. ok is false when absent.
	LoadState(ctx context.Context, key string) ([]byte, bool, error)

	// SaveState stores value under key.
	SaveState(ctx context.Context, key string, value []byte) error
}

// RunRecorder keeps the history of runs and their step events.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	UpdateRunStatus(ctx context.Context, id string, status stores.RunStatus, errMsg *string) error
	AppendEvent(ctx context.Context, event *stores.Event) error
}

// Preferences stores user-facing settings.
type Preferences interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// ProcessRunner executes external commands.
type ProcessRunner interface {
	// RunSync blocks until the command exits. Used for readiness checks.
	RunSync(cmd runner.Command) (*runner.Result, error)

	// Run starts a command and waits for it, killing it if ctx ends first.
	Run(ctx context.Context, cmd runner.Command) (*runner.Result, error)

	// OpenURL opens a URL with the platform's default handler.
	OpenURL(url string) error

	// LookPath resolves an executable on the process PATH.
	LookPath(name string) (string, error)
}

// ArtifactCache resolves artifacts to extracted directories.
type ArtifactCache interface {
	// Init creates the cache directory.
	Init() error

	// Ensure returns a fresh temporary directory holding the extracted
	// artifact, downloading it first on a cache miss. The caller removes
	// the directory.
	Ensure(ctx context.Context, a artifacts.Artifact) (string, error)
}

// PackageHost is the IDE's view of installed packages.
type PackageHost interface {
	AvailableNames() ([]string, error)
	InstalledVersion(name string) (string, bool)
	IsActive(name string) bool
	ActivatePackage(ctx context.Context, name string) (string, error)
	CopyFrom(srcDir string, names []string) ([]string, error)
}

// PackageManager installs, removes and upgrades IDE packages.
type PackageManager interface {
	Install(ctx context.Context, names []string) error
	Uninstall(ctx context.Context, names []string) error
	Upgrade(ctx context.Context, names []string) error
}

// Action is a choice offered by Notifier.Confirm.
type Action = notify.Action

// ProgressView is a visible progress surface.
type ProgressView = notify.ProgressView

// Notifier reports outcomes to the user.
type Notifier interface {
	NotifySuccess(message string)
	NotifyWarning(title, detail string)
	NotifyError(title, detail string)

	// Confirm asks the user to pick one of actions and invokes exactly one.
	Confirm(message, detail string, actions []Action) error
}

// ViewFactory creates progress views.
type ViewFactory interface {
	NewView(title string) ProgressView
}

// Locker guards runs across processes.
type Locker interface {
	Lock() error
	Unlock() error
}
