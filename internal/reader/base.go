package reader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// revisionFile sits next to the data files and holds the archive revision
// on its first line.
const revisionFile = "Revision.txt"

// Base carries the identity and file location shared by the archive
// readers. Concrete readers embed it and override FilesToRead when their
// file list comes from an index instead of a glob.
type Base struct {
	dataID   string
	tsType   string
	root     string
	fileMask string
	log      zerolog.Logger
}

// NewBase returns a Base for a dataset rooted at dir whose files match
// mask.
func NewBase(dataID, tsType, dir, mask string, log zerolog.Logger) Base {
	return Base{dataID: dataID, tsType: tsType, root: dir, fileMask: mask, log: log}
}

func (b *Base) DataID() string         { return b.dataID }
func (b *Base) TsType() string         { return b.tsType }
func (b *Base) Root() string           { return b.root }
func (b *Base) Logger() zerolog.Logger { return b.log }

// FilesToRead lists the archive files matching the file mask, sorted by
// name so batch reads are reproducible.
func (b *Base) FilesToRead(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pattern := filepath.Join(b.root, b.fileMask)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad file mask %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching %q", pattern)
	}
	sort.Strings(files)
	return files, nil
}

// Revision returns the archive revision from Revision.txt in the dataset
// directory, or "n/d" when the file is absent or empty.
func (b *Base) Revision() string {
	raw, err := os.ReadFile(filepath.Join(b.root, revisionFile))
	if err != nil {
		return "n/d"
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	if rev := strings.TrimSpace(line); rev != "" {
		return rev
	}
	return "n/d"
}
