package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appDirName is the directory created under each base location.
const appDirName = "agentbridge"

// Paths locates the per-user directories the broker reads and writes.
// They are resolved on every call, so env overrides in tests take effect.
type Paths struct {
	Data   string
	Config string
	Cache  string
	State  string
}

// GetPaths resolves the XDG base directories, falling back to the
// conventional dotted locations under HOME, or the roaming profile on
// windows.
func GetPaths() *Paths {
	return &Paths{
		Data:   resolveBase("XDG_DATA_HOME", ".local", "share"),
		Config: resolveBase("XDG_CONFIG_HOME", ".config"),
		Cache:  resolveBase("XDG_CACHE_HOME", ".cache"),
		State:  resolveBase("XDG_STATE_HOME", ".local", "state"),
	}
}

// EnsurePaths creates any of the directories that do not exist yet.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// resolveBase returns <base>/agentbridge, where base is the XDG variable
// when set and the platform fallback otherwise.
func resolveBase(xdgVar string, fallback ...string) string {
	base := os.Getenv(xdgVar)
	if base == "" {
		if runtime.GOOS == "windows" {
			base = os.Getenv("APPDATA")
		} else {
			base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
		}
	}
	return filepath.Join(base, appDirName)
}
