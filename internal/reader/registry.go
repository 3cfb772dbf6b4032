package reader

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/internal/config"
)

// Constructor builds a reader for one dataset from the runtime config.
type Constructor func(cfg *config.Config, log zerolog.Logger) (Reader, error)

var (
	regMu        sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register makes a reader constructor available under a dataset id. The
// reader subpackages call it from their init functions; import them for
// side effects to populate the registry. Registering a duplicate id or a
// nil constructor panics.
func Register(dataID string, c Constructor) {
	regMu.Lock()
	defer regMu.Unlock()
	if c == nil {
		panic("reader: Register constructor is nil for " + dataID)
	}
	if _, dup := constructors[dataID]; dup {
		panic("reader: Register called twice for " + dataID)
	}
	constructors[dataID] = c
}

// For builds the reader registered for a dataset id.
func For(dataID string, cfg *config.Config, log zerolog.Logger) (Reader, error) {
	regMu.RLock()
	c, ok := constructors[dataID]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no reader registered for dataset %q (supported: %s)",
			dataID, strings.Join(Supported(), ", "))
	}
	return c(cfg, log)
}

// Supported returns the registered dataset ids, sorted.
func Supported() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	ids := make([]string, 0, len(constructors))
	for id := range constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
