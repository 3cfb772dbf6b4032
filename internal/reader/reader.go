// Package reader turns archive files into ungridded data containers. Each
// supported network implements the Reader interface in a subpackage and
// registers itself under its dataset id; Read runs the shared batch
// pipeline: list files, read them on a worker pool into private
// containers, reduce in file order, stamp the revision and apply the
// post-read hooks.
package reader

import (
	"context"
	"fmt"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// Reader is one network's file front-end. ReadFile must be safe for
// concurrent use; the batch pipeline calls it from several goroutines.
type Reader interface {
	// DataID returns the dataset id, e.g. "EBASMC".
	DataID() string

	// SupportedVars lists every variable this reader can deliver,
	// including computed ones.
	SupportedVars() []string

	// DefaultVars lists the variables read when the caller names none.
	DefaultVars() []string

	// TsType returns the sampling frequency of the dataset, or
	// "undefined" when it varies per file.
	TsType() string

	// Revision returns the archive revision stamped on read containers.
	Revision() string

	// FilesToRead lists the files of one batch, in read order.
	FilesToRead(ctx context.Context) ([]string, error)

	// ReadFile reads one file into a station record carrying the
	// requested variables.
	ReadFile(path string, vars []string) (*obs.StationData, error)

	// Read runs the batch pipeline with the reader's configured options.
	Read(ctx context.Context, vars []string) (*ungridded.Data, error)
}

// OptionRecorder is implemented by readers whose read options belong in
// the container's filter history.
type OptionRecorder interface {
	ReadOptionsEntry() (name, spec string)
}

// OptionProvider exposes a reader's configured batch options so callers
// can adjust them (worker count, cache bypass) before running Read
// themselves.
type OptionProvider interface {
	RunOptions() ReadOptions
}

// VarFileLister is implemented by readers that resolve the file list per
// requested variable, for archives indexed by component rather than laid
// out one file per station.
type VarFileLister interface {
	FilesForVars(ctx context.Context, vars []string) ([]string, error)
}

// SplitAuxVars partitions the requested variables into those read directly
// from files and those computed from others. Requirements of computed
// variables are pulled into the read list (or the compute list, when they
// are themselves computed); the compute list comes back in dependency
// order. A variable that is neither provided nor computable is an error.
func SplitAuxVars(requested, provided []string, requires map[string][]string) (read, compute []string, err error) {
	providedSet := make(map[string]bool, len(provided))
	for _, v := range provided {
		providedSet[v] = true
	}
	inRead := make(map[string]bool)
	inCompute := make(map[string]bool)

	var resolve func(name string, stack map[string]bool) error
	resolve = func(name string, stack map[string]bool) error {
		if inRead[name] || inCompute[name] {
			return nil
		}
		if providedSet[name] {
			inRead[name] = true
			read = append(read, name)
			return nil
		}
		deps, ok := requires[name]
		if !ok {
			return fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, name)
		}
		if stack[name] {
			return fmt.Errorf("circular requirement for %s", name)
		}
		stack[name] = true
		for _, dep := range deps {
			if err := resolve(dep, stack); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		delete(stack, name)
		inCompute[name] = true
		compute = append(compute, name)
		return nil
	}

	for _, name := range requested {
		if err := resolve(name, make(map[string]bool)); err != nil {
			return nil, nil, err
		}
	}
	return read, compute, nil
}
