package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultBaseDir = ".easiwork"

// Paths holds resolved filesystem paths for easiwork data.
type Paths struct {
	Base    string // ~/.easiwork
	Config  string // ~/.easiwork/config.yaml
	Data    string // ~/.easiwork/data (sqlite transcripts)
	Logs    string // ~/.easiwork/logs
	Storage string // ~/.easiwork/storage (api_key, system_prompt, error records)
}

// ResolvePaths lays out the data directory under $EASIWORK_HOME, or
// ~/.easiwork when that is unset.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("EASIWORK_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
		Storage: filepath.Join(base, "storage"),
	}, nil
}

// Database returns the sqlite transcript database path.
func (p Paths) Database() string {
	return filepath.Join(p.Data, "easiwork.db")
}

// EnsureDirs creates the data directories owner-only.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs, p.Storage} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}
