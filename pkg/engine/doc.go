// Package engine provisions the PlatformIO toolchain for the IDE.
//
// # Overview
//
// A run moves through a fixed set of phases:
//
//  1. Initializing - Load the persisted State or start fresh
//  2. ComputingNeeds - Inspect the isolated environment and resolve packages
//  3. AwaitingDisplay - Open a progress view when there is work to show
//  4. Running - Execute the step pipeline
//  5. Canceled or Completed - Record the outcome
//  6. Finalizing - Clean up, close the view and save the State once
//
// A fatal step error skips the outcome phase and goes straight to
// Finalizing.
//
// # Pipeline
//
// The pipeline has eight steps, each consuming one progress slot:
//
//   - ensure-python: check the interpreter, asking the user until it works
//   - install-platformio: bootstrap a virtualenv and pip install PlatformIO
//   - install-dependencies-first-time: copy bundled packages on first run
//   - uninstall-stale, install-new, upgrade-outdated: package manager calls
//   - activate: activate required packages and extend PATH
//   - housekeeping: first-run preferences
//
// Once a run is canceled the remaining steps still advance the progress but
// do no work. The step in flight always completes.
//
// # Concurrency
//
// An Engine runs at most one provisioning run or reinstall at a time.
// Overlapping calls fail with ErrRunInProgress. A Locker extends the guard
// across processes.
//
// # Example
//
//	eng, err := engine.New(opts, engine.Dependencies{
//	    Store:    store,
//	    Runner:   runner.Default(),
//	    Cache:    cache,
//	    Host:     inventory,
//	    Manager:  manager,
//	    Notifier: console,
//	    Views:    console,
//	})
//	if err != nil {
//	    return err
//	}
//	report, err := eng.Run(ctx)
package engine
