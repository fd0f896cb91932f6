// Package config loads the library's tunables from HuJSON (JSON with
// comments and trailing commas) config files.
//
// Precedence, highest wins: built-in defaults, then the global user
// config ($XDG_CONFIG_HOME/hdf5/config.json or ~/.config/hdf5/config.json),
// then the project config (.hdf5.json in the working directory), then an
// explicitly named file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/qkoziol/hdf5/internal/freelist"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".hdf5.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config file")
	errBadLimit           = errors.New("free-list limit must be -1 or >= 0")
	errBadPageSize        = errors.New("page size must be at most 2^62")
	errBadIncrement       = errors.New("core increment must be > 0")
)

// FreeListLimits carries the eight free-list caps in bytes. -1 means
// "no cap"; it is stored internally as the maximum representable
// unsigned value.
type FreeListLimits struct {
	RegularList  int64 `json:"regular_list"`
	RegularClass int64 `json:"regular_global"`
	ArrayList    int64 `json:"array_list"`
	ArrayClass   int64 `json:"array_global"`
	BlockList    int64 `json:"block_list"`
	BlockClass   int64 `json:"block_global"`
	FactoryList  int64 `json:"factory_list"`
	FactoryClass int64 `json:"factory_global"`
}

// Config holds all configuration options.
type Config struct {
	FreeLists FreeListLimits `json:"free_list_limits"`

	// WriteTracking and PageSize configure dirty-page tracking for
	// memory-resident files; a zero page size disables tracking.
	WriteTracking bool   `json:"write_tracking"`
	PageSize      uint64 `json:"page_size"`

	// CoreIncrement is the growth granularity for memory-resident
	// files, in bytes.
	CoreIncrement uint64 `json:"core_increment"`

	// IgnoreDisabledFileLocks treats "advisory locks unsupported" as
	// success when locking files.
	IgnoreDisabledFileLocks bool `json:"ignore_disabled_file_locks"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // path to global config if loaded, empty otherwise
	Project string // path to project or explicit config if loaded
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	defaults := freelist.DefaultLimits()

	return Config{
		FreeLists: FreeListLimits{
			RegularList:  int64(defaults.RegularList),
			RegularClass: int64(defaults.RegularClass),
			ArrayList:    int64(defaults.ArrayList),
			ArrayClass:   int64(defaults.ArrayClass),
			BlockList:    int64(defaults.BlockList),
			BlockClass:   int64(defaults.BlockClass),
			FactoryList:  int64(defaults.FactoryList),
			FactoryClass: int64(defaults.FactoryClass),
		},
		PageSize:      4096,
		CoreIncrement: 64 * 1024,
	}
}

// Limits converts the config's caps to the free-list package's
// representation, mapping -1 to "no cap".
func (c Config) Limits() freelist.Limits {
	conv := func(v int64) uint64 {
		if v < 0 {
			return freelist.NoLimit
		}

		return uint64(v)
	}

	return freelist.Limits{
		RegularList:  conv(c.FreeLists.RegularList),
		RegularClass: conv(c.FreeLists.RegularClass),
		ArrayList:    conv(c.FreeLists.ArrayList),
		ArrayClass:   conv(c.FreeLists.ArrayClass),
		BlockList:    conv(c.FreeLists.BlockList),
		BlockClass:   conv(c.FreeLists.BlockClass),
		FactoryList:  conv(c.FreeLists.FactoryList),
		FactoryClass: conv(c.FreeLists.FactoryClass),
	}
}

// getGlobalConfigPath returns the path to the global config file. Uses
// $XDG_CONFIG_HOME/hdf5/config.json if set, otherwise
// ~/.config/hdf5/config.json. Returns empty if neither resolves.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "hdf5", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hdf5", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "hdf5", "config.json")
	}

	return ""
}

// Load loads configuration with the documented precedence. configPath,
// when non-empty, names an explicit config file that must exist.
func Load(workDir, configPath string, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalPath := getGlobalConfigPath(env)
	if globalPath != "" {
		loaded, err := mergeConfigFile(&cfg, globalPath, false)
		if err != nil {
			return Config{}, Sources{}, err
		}

		if loaded {
			sources.Global = globalPath
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if configPath != "" {
		projectPath = configPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	loaded, err := mergeConfigFile(&cfg, projectPath, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}

	if loaded {
		sources.Project = projectPath
	}

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

// mergeConfigFile overlays the file at path onto cfg. Missing optional
// files are not an error.
func mergeConfigFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return false, nil
		}

		if mustExist {
			return false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return false, nil
	}

	if err := parseInto(cfg, data); err != nil {
		return false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return true, nil
}

// parseInto standardizes HuJSON to JSON and overlays it onto cfg.
// Fields absent from the file keep their current values.
func parseInto(cfg *Config, data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		return err
	}

	return nil
}

func validate(cfg Config) error {
	limits := []int64{
		cfg.FreeLists.RegularList, cfg.FreeLists.RegularClass,
		cfg.FreeLists.ArrayList, cfg.FreeLists.ArrayClass,
		cfg.FreeLists.BlockList, cfg.FreeLists.BlockClass,
		cfg.FreeLists.FactoryList, cfg.FreeLists.FactoryClass,
	}

	for _, v := range limits {
		if v < -1 {
			return fmt.Errorf("%w: got %d", errBadLimit, v)
		}
	}

	if cfg.PageSize > uint64(1)<<62 {
		return errBadPageSize
	}

	if cfg.CoreIncrement == 0 {
		return errBadIncrement
	}

	return nil
}
