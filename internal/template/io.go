package template

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Marshal encodes t as indented JSON.
func Marshal(t *VirtualDocumentTemplate) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

func Unmarshal(data []byte) (*VirtualDocumentTemplate, error) {
	var t VirtualDocumentTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}
	for i := range t.Fields {
		if t.Fields[i].Predicates == nil {
			t.Fields[i].Predicates = make(PredicateSet)
		}
	}
	return &t, nil
}

// Save writes t to path, creating parent directories.
func Save(fs afero.Fs, path string, t *VirtualDocumentTemplate) error {
	data, err := Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding template: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating template dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming template: %w", err)
	}
	return nil
}

// Load reads a template written by Save.
func Load(fs afero.Fs, path string) (*VirtualDocumentTemplate, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	return Unmarshal(data)
}
