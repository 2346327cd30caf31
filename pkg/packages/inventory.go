// Package packages manages IDE packages installed in a packages directory.
//
// Each package lives in its own subdirectory holding a package.json with at
// least a version field. Executables, when present, are in its bin directory.
package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Metadata is the subset of package.json the inventory reads.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Inventory reads installed packages from disk and tracks which ones are
// active in this process.
type Inventory struct {
	dir string

	mu     sync.Mutex
	active map[string]bool
}

// NewInventory creates an inventory for dir.
func NewInventory(dir string) *Inventory {
	return &Inventory{dir: dir, active: make(map[string]bool)}
}

// PackagesDir returns the directory packages are installed into.
func (i *Inventory) PackagesDir() string {
	return i.dir
}

// PackageDir returns the directory of a package.
func (i *Inventory) PackageDir(name string) string {
	return filepath.Join(i.dir, name)
}

// AvailableNames lists installed package names in sorted order. A missing
// packages directory yields an empty list.
func (i *Inventory) AvailableNames() ([]string, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read packages directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Metadata reads the package.json of an installed package.
func (i *Inventory) Metadata(name string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(i.PackageDir(name), "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", name, err)
	}
	if md.Name == "" {
		md.Name = name
	}
	return &md, nil
}

// InstalledVersion returns the installed version of a package. ok is false
// when its metadata is missing or unreadable.
func (i *Inventory) InstalledVersion(name string) (string, bool) {
	md, err := i.Metadata(name)
	if err != nil || md.Version == "" {
		return "", false
	}
	return md.Version, true
}

// IsActive reports whether the package was activated in this process.
func (i *Inventory) IsActive(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active[name]
}

// ActivatePackage marks an installed package active and returns its bin
// directory, or "" when it has none.
func (i *Inventory) ActivatePackage(_ context.Context, name string) (string, error) {
	if _, err := i.Metadata(name); err != nil {
		return "", err
	}

	i.mu.Lock()
	i.active[name] = true
	i.mu.Unlock()

	bin := filepath.Join(i.PackageDir(name), "bin")
	if info, err := os.Stat(bin); err == nil && info.IsDir() {
		return bin, nil
	}
	return "", nil
}

// CopyFrom copies each named package found in srcDir into the packages
// directory, skipping names that are absent from srcDir or already
// installed. It returns the names that were copied.
func (i *Inventory) CopyFrom(srcDir string, names []string) ([]string, error) {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create packages directory: %w", err)
	}

	var copied []string
	for _, name := range names {
		src := filepath.Join(srcDir, name)
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			continue
		}
		target := i.PackageDir(name)
		if _, err := os.Stat(target); err == nil {
			continue
		}

		if err := os.CopyFS(target, os.DirFS(src)); err != nil {
			os.RemoveAll(target)
			return copied, fmt.Errorf("failed to copy package %s: %w", name, err)
		}
		copied = append(copied, name)
	}
	return copied, nil
}
