package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultItems decodes the bundled fallback catalog. Each call returns a fresh
// copy.
func DefaultItems() ([]Item, error) {
	return decodeDefaults(defaultsYAML)
}

func decodeDefaults(raw []byte) ([]Item, error) {
	var entries []map[string]any
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode default catalog: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, Item(entry))
	}
	if len(items) == 0 || ContentHash(items) == ContentHash(nil) {
		return nil, ErrInvalidCatalog
	}
	return items, nil
}
