package obs

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Variable describes one observed quantity: canonical unit, plausible value
// bounds (used as outlier-removal defaults) and known aliases.
type Variable struct {
	Name        string   `mapstructure:"-"`
	Description string   `mapstructure:"description"`
	Units       string   `mapstructure:"units"`
	Minimum     float64  `mapstructure:"minimum"`
	Maximum     float64  `mapstructure:"maximum"`
	Aliases     []string `mapstructure:"aliases"`
}

// VarRegistry holds the known variable definitions. Lookups are
// case-insensitive (the TOML loader lowercases keys).
type VarRegistry struct {
	vars    map[string]Variable
	aliases map[string]string
}

//go:embed variables.toml
var defaultVariablesTOML []byte

var (
	defaultRegistry     *VarRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry built from the embedded variable
// table. The embedded table is part of the build; a parse failure is a
// packaging bug and panics.
func DefaultRegistry() *VarRegistry {
	defaultRegistryOnce.Do(func() {
		r, err := LoadRegistry(bytes.NewReader(defaultVariablesTOML))
		if err != nil {
			panic(fmt.Sprintf("obs: embedded variables.toml: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// LoadRegistry reads a TOML variable table.
func LoadRegistry(r io.Reader) (*VarRegistry, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to read variable table: %w", err)
	}

	reg := &VarRegistry{
		vars:    make(map[string]Variable),
		aliases: make(map[string]string),
	}
	for name := range v.AllSettings() {
		var entry Variable
		if err := v.UnmarshalKey(name, &entry); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		entry.Name = name
		reg.vars[name] = entry
		for _, alias := range entry.Aliases {
			reg.aliases[strings.ToLower(alias)] = name
		}
	}
	return reg, nil
}

// LoadRegistryFile reads a TOML variable table from disk.
func LoadRegistryFile(path string) (*VarRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open variable table: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// Get resolves a variable name or alias.
func (r *VarRegistry) Get(name string) (Variable, error) {
	key := strings.ToLower(name)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	entry, ok := r.vars[key]
	if !ok {
		return Variable{}, fmt.Errorf("%w: %s", ErrVarNotFound, name)
	}
	return entry, nil
}

// Has reports whether name (or an alias of it) is registered.
func (r *VarRegistry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Names returns the registered canonical names, sorted.
func (r *VarRegistry) Names() []string {
	names := make([]string, 0, len(r.vars))
	for name := range r.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
