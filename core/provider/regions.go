// Package provider - region name mappings
package provider

import (
	"os"

	"gopkg.in/yaml.v3"

	"cloud-cost/internal/errors"
)

// RegionNames maps a provider's region codes to the display names its
// pricing API keys on ("eu-west-2" to "EU (London)", "uksouth" to
// "UK South"). Inventory APIs report codes, pricing APIs report names;
// a running instance in an unmapped region cannot be priced.
type RegionNames map[string]string

// Resolve returns the pricing display name for a region code
func (r RegionNames) Resolve(code string) (string, error) {
	name, ok := r[code]
	if !ok {
		return "", errors.NotFound("region mapping", code)
	}
	return name, nil
}

// LoadRegionNames reads a region mapping from a YAML file of
// code: display-name pairs
func LoadRegionNames(path string) (RegionNames, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Config("failed to read region names from "+path, err)
	}
	var names RegionNames
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, errors.Config("failed to parse region names in "+path, err)
	}
	return names, nil
}
