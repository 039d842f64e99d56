package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDefinitionFile reads a definition saved as YAML or JSON.
func LoadDefinitionFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes a YAML (or JSON) document. Missing sections take
// the values of a freshly opened builder.
func ParseDefinition(data []byte) (Definition, error) {
	def := New()
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}
	if def.SelectedFields == nil {
		def.SelectedFields = map[string][]string{}
	}
	if def.Visualization.Kind == "" {
		def.Visualization.Kind = VisTable
	}
	return def, nil
}
