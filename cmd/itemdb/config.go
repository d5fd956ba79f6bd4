package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultConfigFile = "itemdb.toml"

// Config is the optional TOML configuration of the CLI. Flags override it.
type Config struct {
	// DB is the path of the repository file.
	DB string `toml:"db"`

	// JournalDir is the commit journal directory read by the journal command.
	JournalDir string `toml:"journal_dir"`

	Verbose bool `toml:"verbose"`

	// LockTimeout bounds the wait for the database file lock, e.g. "5s".
	LockTimeout time.Duration `toml:"lock_timeout"`

	// Parallelism limits concurrent root walks of the check command.
	Parallelism int `toml:"parallelism"`
}

// loadConfig reads path. A missing file yields an empty config unless
// required is set.
func loadConfig(path string, required bool) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) && !required {
		return &cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return &cfg, nil
}
