// Package schema holds the questionnaire step and field definitions and
// answers lookups against them.
package schema

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/msdsdraft/model"
)

//go:embed msds.yaml
var defaultSchemaYAML []byte

// Loader reads schema definitions from YAML.
type Loader struct{}

// NewLoader creates a new schema Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile loads and parses a single YAML schema file.
func (l *Loader) LoadFile(path string) (model.SchemaDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SchemaDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := l.Parse(data)
	if err != nil {
		return model.SchemaDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a YAML schema document.
func (l *Loader) Parse(data []byte) (model.SchemaDefinition, error) {
	var def model.SchemaDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.SchemaDefinition{}, err
	}
	return def, nil
}

// Load returns the schema at path, or the built-in MSDS schema when path is
// empty. The result is validated.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default()
	}
	def, err := NewLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return New(def)
}

// Default returns the built-in MSDS questionnaire schema.
func Default() (*Schema, error) {
	def, err := NewLoader().Parse(defaultSchemaYAML)
	if err != nil {
		return nil, fmt.Errorf("schema: parsing built-in schema: %w", err)
	}
	return New(def)
}
