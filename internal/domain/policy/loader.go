package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads and validates a policy Document from a YAML file.
func LoadFromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse unmarshals and validates a YAML policy document. The name is used
// only in error messages.
func Parse(data []byte, name string) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", name, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy %s: %w", name, err)
	}
	if d.Version == 0 {
		d.Version = 1
	}
	return &d, nil
}
