package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

// Seed is the initial contents of the route/parking registry.
//
//	parvani_day_active: false
//	routes:
//	  - id: black-1
//	    name: Kali Marg
//	    type: black
//	    capacity: 5000
//	    ...
//	parking:
//	  - id: p-naini
//	    ...
type Seed struct {
	ParvaniDayActive bool                `yaml:"parvani_day_active"`
	Routes           []model.Route       `yaml:"routes"`
	Parking          []model.ParkingZone `yaml:"parking"`
}

// LoadSeed reads a registry seed file. Unknown keys are rejected so a typo in
// a capacity or status field does not silently seed a zero value.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a registry seed document.
func ParseSeed(raw []byte) (*Seed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	return &seed, nil
}
