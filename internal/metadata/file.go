package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Entities []EntityDescriptor `yaml:"entities"`
}

// LoadCatalogFile reads a YAML catalog:
//
//	entities:
//	  - key: debtors
//	    display_name: Debtors
//	    primary_key: id
//	    fields:
//	      - {key: id, label: ID, type: text, category: Basic}
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("catalog defines no entities")
	}
	return NewCatalog(f.Entities...)
}
