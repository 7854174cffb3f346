package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type tenantsFile struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// LoadTenantsFile reads tenant definitions from a standalone YAML file.
// Unknown fields are rejected.
func LoadTenantsFile(path string) ([]TenantConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenants file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc tenantsFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	return doc.Tenants, nil
}
