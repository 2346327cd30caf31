package engine

import (
	"encoding/json"
	"fmt"
)

// StateKey is the key the provisioning state is persisted under.
const StateKey = "platformio-ide:install-state"

// State is the persisted provisioning record. The engine loads it once at
// the start of a run and saves it once at the end.
type State struct {
	Step  int `json:"step" yaml:"step"`
	Total int `json:"total" yaml:"total"`

	// Restored is true when the state was loaded from a previous run.
	Restored bool `json:"restored" yaml:"restored"`

	EnvShouldBeCreated bool `json:"envShouldBeCreated" yaml:"envShouldBeCreated"`

	PackagesToRemove             []string `json:"packagesToRemove" yaml:"packagesToRemove"`
	PackagesToInstall            []string `json:"packagesToInstall" yaml:"packagesToInstall"`
	PackagesToUpgrade            []string `json:"packagesToUpgrade" yaml:"packagesToUpgrade"`
	PackageManagementIsNecessary bool     `json:"packageManagementIsNecessary" yaml:"packageManagementIsNecessary"`

	Canceled            bool `json:"canceled" yaml:"canceled"`
	PlatformIOInstalled bool `json:"platformioInstalled" yaml:"platformioInstalled"`
	PythonWorks         bool `json:"pythonWorks" yaml:"pythonWorks"`
}

// DecodeState parses a persisted state record.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &s, nil
}

// Encode serializes the state.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// Percent returns the progress as floor(step/total*100).
func (s *State) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	if s.Step >= s.Total {
		return 100
	}
	return s.Step * 100 / s.Total
}

// ViewShouldBeDisplayed reports whether the run needs a visible progress
// surface.
func (s *State) ViewShouldBeDisplayed() bool {
	return !s.Restored || s.EnvShouldBeCreated || s.PackageManagementIsNecessary
}

// Phase is a stage of a provisioning run.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseComputingNeeds  Phase = "computing-needs"
	PhaseAwaitingDisplay Phase = "awaiting-display"
	PhaseRunning         Phase = "running"
	PhaseCanceled        Phase = "canceled"
	PhaseCompleted       Phase = "completed"
	PhaseFinalizing      Phase = "finalizing"
	PhaseTerminal        Phase = "terminal"
)
