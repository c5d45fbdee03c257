package manifest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"labflow/internal/workflow"
)

// SectionSchema holds the captured-parameter schema of one station.
type SectionSchema struct {
	// ID is the section identifier used in the section manifest.
	ID string `yaml:"id"`

	// Parameters are the fields captured at this station.
	Parameters []workflow.ParameterField `yaml:"parameters"`
}

// schemaManifestFile represents the raw YAML structure of the schema file.
type schemaManifestFile struct {
	Sections []SectionSchema `yaml:"sections"`
}

// SchemaManifest holds the parameter schemas keyed by section id.
type SchemaManifest struct {
	// Sections is the list of section schemas in file order.
	Sections []SectionSchema
}

// ReadSchemasFromFile reads and parses a section schema YAML file.
//
// The YAML format is:
//
//	sections:
//	  - id: hematology
//	    parameters:
//	      - name: wbc
//	        type: number
//	        required: true
//	      - name: smear
//	        type: file
func ReadSchemasFromFile(path string) (*SchemaManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema manifest: %w", err)
	}

	return ReadSchemasFromBytes(data)
}

// ReadSchemasFromBytes parses a section schema manifest from YAML bytes.
func ReadSchemasFromBytes(data []byte) (*SchemaManifest, error) {
	var raw schemaManifestFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema manifest: %w", err)
	}

	if len(raw.Sections) == 0 {
		return nil, fmt.Errorf("schema manifest contains no sections")
	}

	for i, s := range raw.Sections {
		if s.ID == "" {
			return nil, fmt.Errorf("section schema at index %d has no id", i)
		}
	}

	return &SchemaManifest{Sections: raw.Sections}, nil
}

// HasSection returns true if a schema exists for the given section id.
func (sm *SchemaManifest) HasSection(id string) bool {
	return sm.GetSection(id) != nil
}

// GetSection returns the schema for the given section id, or nil if not found.
func (sm *SchemaManifest) GetSection(id string) *SectionSchema {
	if sm == nil {
		return nil
	}
	for _, s := range sm.Sections {
		if s.ID == id {
			return &s
		}
	}
	return nil
}

// IDs returns all section ids in sorted order.
func (sm *SchemaManifest) IDs() []string {
	ids := make([]string, len(sm.Sections))
	for i, s := range sm.Sections {
		ids[i] = s.ID
	}
	sort.Strings(ids)
	return ids
}
