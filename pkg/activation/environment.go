// Package activation builds the process environment that provisioned tools
// run in and activates installed packages into it.
//
// EnvironmentContext is an immutable value: every mutation returns a new
// context. Nothing in this package touches the real process environment
// except Apply.
package activation

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// EnvironmentContext is a snapshot of environment variables.
type EnvironmentContext struct {
	vars    map[string]string
	pathKey string
}

// FromEnviron builds a context from KEY=VALUE pairs, as returned by
// os.Environ.
func FromEnviron(environ []string) EnvironmentContext {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return FromMap(vars)
}

// FromMap builds a context from a map. The map is copied.
func FromMap(vars map[string]string) EnvironmentContext {
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return EnvironmentContext{vars: cp, pathKey: findPathKey(cp)}
}

// Current returns a context holding the current process environment.
func Current() EnvironmentContext {
	return FromEnviron(os.Environ())
}

// Get returns the value of key.
func (e EnvironmentContext) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Path returns the PATH entries in order.
func (e EnvironmentContext) Path() []string {
	return splitPath(e.vars[e.pathKey])
}

// With returns a copy with key set to value.
func (e EnvironmentContext) With(key, value string) EnvironmentContext {
	next := e.clone()
	next.vars[key] = value
	if strings.EqualFold(key, "PATH") {
		next.pathKey = findPathKey(next.vars)
	}
	return next
}

// PrependPath returns a copy with dir as the first PATH entry. Every other
// occurrence of dir is removed, so applying it twice equals applying it once.
func (e EnvironmentContext) PrependPath(dir string) EnvironmentContext {
	if dir == "" {
		return e
	}
	entries := []string{dir}
	for _, p := range e.Path() {
		if !samePath(p, dir) {
			entries = append(entries, p)
		}
	}
	return e.withPath(entries)
}

// RemovePath returns a copy without any PATH entry equal to dir.
func (e EnvironmentContext) RemovePath(dir string) EnvironmentContext {
	if dir == "" {
		return e
	}
	var entries []string
	for _, p := range e.Path() {
		if !samePath(p, dir) {
			entries = append(entries, p)
		}
	}
	return e.withPath(entries)
}

// Map returns a copy of the variables.
func (e EnvironmentContext) Map() map[string]string {
	return e.clone().vars
}

// Environ returns the variables as sorted KEY=VALUE pairs.
func (e EnvironmentContext) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Apply writes the context into the process environment. Variables absent
// from the context are left untouched.
func (e EnvironmentContext) Apply() error {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := os.Setenv(k, e.vars[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e EnvironmentContext) withPath(entries []string) EnvironmentContext {
	next := e.clone()
	next.vars[next.pathKey] = strings.Join(entries, string(os.PathListSeparator))
	return next
}

func (e EnvironmentContext) clone() EnvironmentContext {
	vars := make(map[string]string, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	key := e.pathKey
	if key == "" {
		key = "PATH"
	}
	return EnvironmentContext{vars: vars, pathKey: key}
}

// findPathKey returns the PATH variable name. Windows environments commonly
// spell it "Path".
func findPathKey(vars map[string]string) string {
	if _, ok := vars["PATH"]; ok {
		return "PATH"
	}
	if runtime.GOOS == "windows" {
		for k := range vars {
			if strings.EqualFold(k, "PATH") {
				return k
			}
		}
	}
	return "PATH"
}

func splitPath(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(value, string(os.PathListSeparator)) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
