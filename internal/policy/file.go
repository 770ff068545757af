package policy

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource loads a policy from a YAML file.
type FileSource struct {
	Path string
}

// LoadPolicy implements Source.
func (f FileSource) LoadPolicy(_ context.Context) (*Definition, error) {
	return LoadFile(f.Path)
}

// LoadFile reads and strictly decodes a YAML policy file. Unknown keys,
// operators and action types are rejected.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a policy definition from YAML.
func ParseYAML(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &def, nil
}
