// Package version tracks build metadata for statbar.
package version

import (
	"fmt"
	"sync"
)

// Info describes build metadata, set through -ldflags at link time.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// String renders the metadata for --version output.
func (i Info) String() string {
	out := "statbar " + i.Version
	if i.Commit != "" {
		out += fmt.Sprintf(" (commit %s)", i.Commit)
	}
	if i.BuildTime != "" {
		out += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return out
}

var (
	mu      sync.RWMutex
	current = Info{Version: "dev"}
)

// Set replaces the build metadata. An empty version reads as "dev".
func Set(v Info) {
	mu.Lock()
	defer mu.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	current = v
}

// Current returns the build metadata.
func Current() Info {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
