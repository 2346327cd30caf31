// Package resolver computes which packages must be removed, installed or
// upgraded to move an installed package set to a declared one.
package resolver

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Requirement is a package name with the version range it must satisfy.
type Requirement struct {
	Name       string
	Constraint *semver.Constraints
	Raw        string
}

// MetadataLookup returns the installed version of a package. ok is false when
// the package metadata cannot be read.
type MetadataLookup func(name string) (version string, ok bool)

// Plan is the resolver output. The three sets are disjoint and sorted by name.
type Plan struct {
	ToRemove  []string `json:"toRemove"`
	ToInstall []string `json:"toInstall"`
	ToUpgrade []string `json:"toUpgrade"`
}

// Necessary reports whether any package operation is required.
func (p Plan) Necessary() bool {
	return len(p.ToRemove) > 0 || len(p.ToInstall) > 0 || len(p.ToUpgrade) > 0
}

// ParseRequirements parses a name to constraint map. The result is sorted by
// package name.
func ParseRequirements(desired map[string]string) ([]Requirement, error) {
	reqs := make([]Requirement, 0, len(desired))
	for name, raw := range desired {
		if name == "" {
			return nil, fmt.Errorf("package name is required")
		}
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid version range %q for package %s: %w", raw, name, err)
		}
		reqs = append(reqs, Requirement{Name: name, Constraint: c, Raw: raw})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	return reqs, nil
}

// Resolve classifies packages against the desired set:
//
//   - ToRemove: stale packages that are currently installed.
//   - ToInstall: desired packages that are not installed.
//   - ToUpgrade: desired, installed packages whose version does not satisfy
//     the range. Packages whose metadata or version cannot be read are
//     skipped rather than upgraded.
func Resolve(desired []Requirement, installed, stale []string, lookup MetadataLookup) Plan {
	installedSet := make(map[string]bool, len(installed))
	for _, name := range installed {
		installedSet[name] = true
	}

	desiredSet := make(map[string]bool, len(desired))
	for _, req := range desired {
		desiredSet[req.Name] = true
	}

	plan := Plan{
		ToRemove:  []string{},
		ToInstall: []string{},
		ToUpgrade: []string{},
	}

	seen := make(map[string]bool, len(stale))
	for _, name := range stale {
		// A name that is both desired and stale stays managed by the desired
		// set so the outputs remain disjoint.
		if seen[name] || desiredSet[name] || !installedSet[name] {
			continue
		}
		seen[name] = true
		plan.ToRemove = append(plan.ToRemove, name)
	}

	for _, req := range desired {
		if !installedSet[req.Name] {
			plan.ToInstall = append(plan.ToInstall, req.Name)
			continue
		}
		if needsUpgrade(req, lookup) {
			plan.ToUpgrade = append(plan.ToUpgrade, req.Name)
		}
	}

	sort.Strings(plan.ToRemove)
	sort.Strings(plan.ToInstall)
	sort.Strings(plan.ToUpgrade)
	return plan
}

func needsUpgrade(req Requirement, lookup MetadataLookup) bool {
	if lookup == nil || req.Constraint == nil {
		return false
	}
	raw, ok := lookup(req.Name)
	if !ok || raw == "" {
		return false
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	return !req.Constraint.Check(v)
}
