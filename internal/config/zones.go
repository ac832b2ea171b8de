package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
)

// DefaultZones is the campus used when no zone file is configured.
func DefaultZones() []entities.Zone {
	return []entities.Zone{
		{ID: "newblock", Name: "New Block", Capacity: 300, BaseDensity: 150, Category: entities.CategoryAcademic},
		{ID: "dblock", Name: "Academic Block D", Capacity: 400, BaseDensity: 200, Category: entities.CategoryAcademic},
		{ID: "pg", Name: "PG Block", Capacity: 150, BaseDensity: 80, Category: entities.CategoryAcademic},
		{ID: "canteen", Name: "Student Canteen", Capacity: 200, BaseDensity: 100, Category: entities.CategorySocial},
		{ID: "lib", Name: "Main Library", Capacity: 500, BaseDensity: 250, Category: entities.CategoryStudy},
	}
}

// LoadZones reads a JSON array of zones. An empty path yields DefaultZones.
func LoadZones(path string) ([]entities.Zone, error) {
	if path == "" {
		return DefaultZones(), nil
	}
	var zones []entities.Zone
	if err := readJSON(path, &zones); err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	for i := range zones {
		if zones[i].Category == "" {
			zones[i].Category = entities.CategoryAcademic
		}
		if zones[i].Name == "" {
			zones[i].Name = zones[i].ID
		}
	}
	return zones, nil
}

// LoadEvents reads a JSON array of events. An empty path yields none.
func LoadEvents(path string) ([]entities.Event, error) {
	if path == "" {
		return nil, nil
	}
	var evs []entities.Event
	if err := readJSON(path, &evs); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return evs, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func validateZones(zones []entities.Zone) error {
	if len(zones) == 0 {
		return fmt.Errorf("%w: no zones configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(zones))
	for _, z := range zones {
		switch {
		case z.ID == "":
			return fmt.Errorf("%w: zone with empty id", ErrInvalidConfig)
		case seen[z.ID]:
			return fmt.Errorf("%w: duplicate zone %q", ErrInvalidConfig, z.ID)
		case z.Capacity <= 0:
			return fmt.Errorf("%w: zone %q capacity must be positive", ErrInvalidConfig, z.ID)
		case z.BaseDensity < 0:
			return fmt.Errorf("%w: zone %q base density is negative", ErrInvalidConfig, z.ID)
		case !z.Category.Valid():
			return fmt.Errorf("%w: zone %q has unknown category %q", ErrInvalidConfig, z.ID, z.Category)
		}
		seen[z.ID] = true
	}
	return nil
}
