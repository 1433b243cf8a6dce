package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a single YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return &s, nil
}

// LoadDir registers every *.yaml / *.yml file in dir. A file without a name
// key is registered under its base name.
func LoadDir(dir string, reg *Registry) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)

	loaded := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", f, err)
		}
		s, err := Parse(data)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", f, err)
		}
		name := s.Name
		if name == "" {
			name = strings.TrimSuffix(f, filepath.Ext(f))
		}
		if err := reg.Register(name, s); err != nil {
			return loaded, fmt.Errorf("%s: %w", f, err)
		}
		loaded = append(loaded, name)
	}
	return loaded, nil
}
