package generator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/synthlab/internal/domain"
)

const CatalogSchemaV1 = "synthlab.catalog.v1"

// Catalog holds the fixed lookup tables records are drawn from.
type Catalog struct {
	Schema      string            `json:"schema" yaml:"schema"`
	Vehicle     domain.Vehicle    `json:"vehicle" yaml:"vehicle"`
	Categories  []domain.Category `json:"categories" yaml:"categories"`
	Technicians []string          `json:"technicians" yaml:"technicians"`
}

// DefaultCatalog is the dealership case-study catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Schema: CatalogSchemaV1,
		Vehicle: domain.Vehicle{
			VIN:     "VIN12345ABC",
			Year:    2020,
			Make:    "Toyota",
			Model:   "Camry",
			Trim:    "SE",
			Mileage: 45230,
		},
		Categories: []domain.Category{
			{
				Value:      "oil_change",
				Label:      "Oil Change",
				Parts:      []string{"oil", "filter"},
				LaborHours: 0.5,
				Notes: []string{
					"Routine maintenance. No issues detected.",
					"Synthetic oil (5qt) and filter replaced. Reset maintenance reminder.",
					"Minor seepage at drain plug gasket. Gasket replaced.",
				},
			},
			{
				Value:      "brake_service",
				Label:      "Brake Service",
				Parts:      []string{"brakes", "rotors"},
				LaborHours: 2.0,
				Notes: []string{
					"Front pads at 20%. Replaced per recommendation.",
					"Rear pads approaching 40%. Recommend inspection at next visit.",
					"Brake fluid flushed. Rotors within spec.",
				},
			},
			{
				Value:      "tire_rotation",
				Label:      "Tire Rotation",
				Parts:      []string{"tires"},
				LaborHours: 0.75,
				Notes: []string{
					"Rotated and balanced. Tire pressure adjusted.",
					"Tread depth good (7/32\"). Rotation completed.",
					"Uneven wear on front left. Alignment check recommended.",
				},
			},
			{
				Value:      "battery_replacement",
				Label:      "Battery Replacement",
				Parts:      []string{"battery"},
				LaborHours: 0.5,
				Notes: []string{
					"Battery failed load test. Replaced under warranty.",
					"Terminals cleaned. Group 24F battery installed.",
					"Slow crank reported by customer. Battery replaced and charging system tested.",
				},
			},
			{
				Value:      "ac_recharge",
				Label:      "A/C Recharge",
				Parts:      []string{"ac", "refrigerant"},
				LaborHours: 1.0,
				Notes: []string{
					"Refrigerant recharged. Vent temperature within spec.",
					"Cabin filter replaced. System performing well.",
					"Small leak detected at service port. Valve core replaced.",
				},
			},
			{
				Value:      "engine_tune",
				Label:      "Engine Tune-Up",
				Parts:      []string{"engine", "spark_plugs"},
				LaborHours: 1.5,
				Notes: []string{
					"Spark plugs replaced. Idle smooth after service.",
					"Air filter replaced. Throttle body cleaned.",
					"Check engine light cleared after ignition coil replacement.",
				},
			},
		},
		Technicians: []string{
			"Mike Rodriguez",
			"Lisa Chen",
			"James Wilson",
			"Priya Patel",
			"Carlos Mendez",
		},
	}
}

// LoadCatalog decodes and validates a YAML catalog.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var catalog Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

func (c Catalog) Validate() error {
	if strings.TrimSpace(c.Schema) != CatalogSchemaV1 {
		return fmt.Errorf("catalog.schema must be %q", CatalogSchemaV1)
	}
	if strings.TrimSpace(c.Vehicle.VIN) == "" {
		return errors.New("catalog.vehicle.vin is required")
	}
	if strings.TrimSpace(c.Vehicle.Make) == "" || strings.TrimSpace(c.Vehicle.Model) == "" {
		return errors.New("catalog.vehicle.make and model are required")
	}
	if c.Vehicle.Mileage < 0 {
		return errors.New("catalog.vehicle.mileage must be >= 0")
	}
	if len(c.Categories) == 0 {
		return errors.New("catalog.categories must be non-empty")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, category := range c.Categories {
		value := strings.TrimSpace(category.Value)
		if value == "" {
			return fmt.Errorf("catalog.categories[%d].value is required", i)
		}
		if _, ok := seen[value]; ok {
			return fmt.Errorf("catalog.categories[%d].value must be unique (duplicate %q)", i, value)
		}
		seen[value] = struct{}{}
		if strings.TrimSpace(category.Label) == "" {
			return fmt.Errorf("catalog.categories[%d].label is required", i)
		}
		if category.LaborHours <= 0 {
			return fmt.Errorf("catalog.categories[%d].labor_hours must be positive", i)
		}
		if len(trimNonEmpty(category.Notes)) != len(category.Notes) || len(category.Notes) == 0 {
			return fmt.Errorf("catalog.categories[%d].notes must be non-empty strings", i)
		}
		if hasLineBreak(category.Label) || hasLineBreak(category.Notes...) {
			return fmt.Errorf("catalog.categories[%d] must not contain line breaks", i)
		}
	}
	if len(c.Technicians) == 0 || len(trimNonEmpty(c.Technicians)) != len(c.Technicians) {
		return errors.New("catalog.technicians must be non-empty strings")
	}
	if hasLineBreak(c.Technicians...) || hasLineBreak(c.Vehicle.Make, c.Vehicle.Model, c.Vehicle.Trim, c.Vehicle.VIN) {
		return errors.New("catalog values must not contain line breaks")
	}
	return nil
}

// HasCategory reports whether value names a catalog category.
func (c Catalog) HasCategory(value string) bool {
	for _, category := range c.Categories {
		if category.Value == value {
			return true
		}
	}
	return false
}

func (c Catalog) HasTechnician(name string) bool {
	for _, tech := range c.Technicians {
		if tech == name {
			return true
		}
	}
	return false
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func hasLineBreak(values ...string) bool {
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return true
		}
	}
	return false
}
