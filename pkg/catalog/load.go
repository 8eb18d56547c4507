package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format selects the catalog file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from the file extension. JSONC files are
// decoded as JSON after comments are stripped.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates a catalog file. A missing, malformed or empty
// file is an error; callers are expected to abort startup on it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	items, err := Decode(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("decode catalog %q: %w", path, err)
	}
	c, err := New(items)
	if err != nil {
		return nil, fmt.Errorf("validate catalog %q: %w", path, err)
	}
	return c, nil
}

// Decode parses catalog records. The document is either a top-level list
// of items or an object with an "items" list.
func Decode(data []byte, format Format) ([]Item, error) {
	var normalized []byte
	switch format {
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		normalized = encoded
	default:
		normalized = jsonc.ToJSON(data)
	}

	trimmed := bytes.TrimSpace(normalized)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("document is empty")
	}

	var items []Item
	if trimmed[0] == '{' {
		var wrapped struct {
			Items []Item `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
		items = wrapped.Items
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	return items, nil
}
