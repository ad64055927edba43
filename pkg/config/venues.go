package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Venue describes one configured execution venue. The file order defines the
// engine's routing order.
type Venue struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"` // "equity" or "crypto"
	BaseURL      string `yaml:"base_url"`
	WebsocketURL string `yaml:"websocket_url"`
	Enabled      bool   `yaml:"enabled"`
}

// VenueFile is the top-level venues.yaml structure.
type VenueFile struct {
	Venues []Venue `yaml:"venues"`
}

// LoadVenues reads venue definitions from a YAML file. A missing file is not
// an error; the caller falls back to the env-configured defaults.
func LoadVenues(path string) ([]Venue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file VenueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	enabled := make([]Venue, 0, len(file.Venues))
	for _, v := range file.Venues {
		if v.Enabled {
			enabled = append(enabled, v)
		}
	}
	return enabled, nil
}
