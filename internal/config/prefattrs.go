package config

import (
	"fmt"
	"strings"
)

// ParseMergePrefAttrs parses the per-dataset station merge preference from
// ReaderConfig.
// Format: ["dataset:attribute", ...], e.g. "AeronetSunV2:revision_date".
// Returns a dataset -> attribute map suitable for
// ungridded.Data.SetMergePrefAttr.
func ParseMergePrefAttrs(cfg ReaderConfig) (map[string]string, error) {
	prefs := make(map[string]string)

	for _, entry := range cfg.MergePrefAttrs {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid merge preference format: %s (expected 'dataset:attribute')", entry)
		}

		dataset := strings.TrimSpace(parts[0])
		if dataset == "" {
			return nil, fmt.Errorf("empty dataset name in merge preference: %s", entry)
		}

		attr := strings.TrimSpace(parts[1])
		if attr == "" {
			return nil, fmt.Errorf("empty attribute in merge preference: %s", entry)
		}

		prefs[dataset] = attr
	}

	return prefs, nil
}
