package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// Config holds all configuration for aeroobs
type Config struct {
	Data   DataConfig
	Cache  CacheConfig
	Ebas   EbasConfig
	Reader ReaderConfig
	Log    LogConfig
}

type DataConfig struct {
	Roots         map[string]string // dataset id -> archive root directory
	VariablesFile string            // optional override of the embedded variable registry
}

// Root returns the archive root for a dataset id. Viper lowercases map
// keys, so the lookup is case-insensitive.
func (d DataConfig) Root(dataID string) (string, bool) {
	dir, ok := d.Roots[strings.ToLower(dataID)]
	return dir, ok
}

type CacheConfig struct {
	Enabled   bool
	Dir       string // cache directory, created on first write
	ZstdLevel int    // compression level passed to the zstd encoder
}

// EbasConfig carries the EBAS reader option defaults. The values chosen at
// read time are recorded into the container's filter history.
type EbasConfig struct {
	IndexPath          string   // SQLite file index; resolved under the data root when empty
	PreferStatistics   []string // statistics codes in order of preference
	IgnoreStatistics   []string // statistics codes never selected
	WavelengthTolNm    float64  // column wavelength match tolerance
	EvalFlags          bool     // decode flag columns into per-row validity
	RemoveInvalidFlags bool     // NaN out rows whose flags mark them invalid
	KeepAuxVars        bool     // retain auxiliary variables read for computed ones
	MergeMeta          bool     // consolidate equal metadata blocks after reading
	Datalevel          string   // restrict to one EBAS data level ("" = any)
}

type ReaderConfig struct {
	Workers        int      // parallel per-file read workers
	LowMemoryTrim  bool     // shrink-to-fit each worker container before merging
	MergePrefAttrs []string // per-dataset merge preference: "dataset:attribute"
}

type LogConfig struct {
	Level      string
	Format     string
	BufferSize int // log entries retained for the warning replay
}

// Load loads configuration from defaults, an optional TOML file and
// AEROOBS_-prefixed environment variables. The file is looked up at path,
// then $AEROOBS_CONFIG, then the standard search paths; a missing file in
// the search paths is fine, an explicitly named one must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AEROOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("AEROOBS_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("aeroobs")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.aeroobs/")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// no config file found, defaults + env apply
		}
	}

	cfg := &Config{
		Data: DataConfig{
			Roots:         v.GetStringMapString("data.roots"),
			VariablesFile: v.GetString("data.variables_file"),
		},
		Cache: CacheConfig{
			Enabled:   v.GetBool("cache.enabled"),
			Dir:       v.GetString("cache.dir"),
			ZstdLevel: v.GetInt("cache.zstd_level"),
		},
		Ebas: EbasConfig{
			IndexPath:          v.GetString("ebas.index_path"),
			PreferStatistics:   v.GetStringSlice("ebas.prefer_statistics"),
			IgnoreStatistics:   v.GetStringSlice("ebas.ignore_statistics"),
			WavelengthTolNm:    v.GetFloat64("ebas.wavelength_tol_nm"),
			EvalFlags:          v.GetBool("ebas.eval_flags"),
			RemoveInvalidFlags: v.GetBool("ebas.remove_invalid_flags"),
			KeepAuxVars:        v.GetBool("ebas.keep_aux_vars"),
			MergeMeta:          v.GetBool("ebas.merge_meta"),
			Datalevel:          v.GetString("ebas.datalevel"),
		},
		Reader: ReaderConfig{
			Workers:        v.GetInt("reader.workers"),
			LowMemoryTrim:  v.GetBool("reader.low_memory_trim"),
			MergePrefAttrs: v.GetStringSlice("reader.merge_pref_attrs"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			BufferSize: v.GetInt("log.buffer_size"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Data defaults
	v.SetDefault("data.roots", map[string]string{})
	v.SetDefault("data.variables_file", "")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.zstd_level", 3)

	// EBAS reader defaults, matching the archive conventions
	v.SetDefault("ebas.index_path", "")
	v.SetDefault("ebas.prefer_statistics", []string{"arithmetic mean", "median"})
	v.SetDefault("ebas.ignore_statistics", []string{"percentile:15.87", "percentile:84.13"})
	v.SetDefault("ebas.wavelength_tol_nm", 50.0)
	v.SetDefault("ebas.eval_flags", true)
	v.SetDefault("ebas.remove_invalid_flags", true)
	v.SetDefault("ebas.keep_aux_vars", false)
	v.SetDefault("ebas.merge_meta", false)
	v.SetDefault("ebas.datalevel", "")

	// Reader defaults
	v.SetDefault("reader.workers", getDefaultWorkers())
	v.SetDefault("reader.low_memory_trim", false)
	v.SetDefault("reader.merge_pref_attrs", []string{})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.buffer_size", 10000)
}

func getDefaultWorkers() int {
	// File reads are parse-bound; one worker per core works well, with
	// bounds so tiny and huge machines both behave.
	workers := runtime.NumCPU()
	if workers < 2 {
		return 2
	}
	if workers > 32 {
		return 32
	}
	return workers
}

// Validate checks the configuration for problems that would surface later
// as confusing reader errors. Directories are only checked for features
// that are switched on or paths that are actually set.
func (c *Config) Validate() error {
	for id, dir := range c.Data.Roots {
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("data root for %s not found: %s", id, dir)
			}
			return fmt.Errorf("cannot access data root for %s: %w", id, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data root for %s is not a directory: %s", id, dir)
		}
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		return fmt.Errorf("cache enabled but cache.dir not set")
	}

	if c.Reader.Workers < 1 {
		return fmt.Errorf("reader.workers must be at least 1, got %d", c.Reader.Workers)
	}

	if c.Data.VariablesFile != "" {
		info, err := c.statVariablesFile()
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("data.variables_file is a directory, not a file: %s", c.Data.VariablesFile)
		}
	}

	return nil
}

func (c *Config) statVariablesFile() (os.FileInfo, error) {
	info, err := os.Stat(c.Data.VariablesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("variables file not found: %s", c.Data.VariablesFile)
		}
		return nil, fmt.Errorf("cannot access variables file %s: %w", c.Data.VariablesFile, err)
	}
	return info, nil
}

// VarRegistry returns the variable registry configured for this run: the
// embedded default, or the overriding file when data.variables_file is set.
func (c *Config) VarRegistry() (*obs.VarRegistry, error) {
	if c.Data.VariablesFile == "" {
		return obs.DefaultRegistry(), nil
	}
	reg, err := obs.LoadRegistryFile(c.Data.VariablesFile)
	if err != nil {
		return nil, fmt.Errorf("loading variable registry: %w", err)
	}
	return reg, nil
}
