package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlDoc is the on-disk schema document shape:
//
//	types:
//	  - name: person
//	    attributes: [name, age]
//	    relationships:
//	      - name: tags
//	        kind: hasMany
//	        type: tag
//	        inverse: people
type yamlDoc struct {
	Types []yamlType `yaml:"types"`
}

type yamlType struct {
	Name          string     `yaml:"name"`
	Attributes    []string   `yaml:"attributes"`
	Relationships []yamlRel  `yaml:"relationships"`
}

type yamlRel struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Type        string `yaml:"type"`
	Inverse     string `yaml:"inverse"`
	Polymorphic bool   `yaml:"polymorphic"`
}

// FromYAML parses a declarative schema document, defines every type and runs
// Check. The returned registry is ready to back a store.
func FromYAML(data []byte) (*Registry, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	reg := NewRegistry()
	for _, yt := range doc.Types {
		rels := make(map[string]Relationship, len(yt.Relationships))
		for _, yr := range yt.Relationships {
			kind, err := parseKind(yr.Kind)
			if err != nil {
				return nil, &Error{Type: yt.Name, Field: yr.Name, Reason: err.Error()}
			}
			rels[yr.Name] = Relationship{
				Name:        yr.Name,
				Kind:        kind,
				Type:        yr.Type,
				Inverse:     yr.Inverse,
				Polymorphic: yr.Polymorphic,
			}
		}
		if err := reg.Define(Type{
			Name:          yt.Name,
			Attributes:    yt.Attributes,
			Relationships: rels,
		}); err != nil {
			return nil, err
		}
	}

	if err := reg.Check(); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadFile reads and parses a schema file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return FromYAML(data)
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "belongsTo", "belongs_to", "belongs-to":
		return BelongsTo, nil
	case "hasMany", "has_many", "has-many":
		return HasMany, nil
	default:
		return 0, fmt.Errorf("unknown relationship kind %q", s)
	}
}
