package domain

import "fmt"

const DateLayout = "2006-01-02"

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityNormal Priority = "Normal"
)

// Category describes one kind of service visit.
type Category struct {
	Value      string   `json:"value" yaml:"value"`
	Label      string   `json:"label" yaml:"label"`
	Parts      []string `json:"parts,omitempty" yaml:"parts,omitempty"`
	LaborHours float64  `json:"labor_hours" yaml:"labor_hours"`
	Notes      []string `json:"notes" yaml:"notes"`
}

type Vehicle struct {
	VIN     string `json:"vin" yaml:"vin"`
	Year    int    `json:"year" yaml:"year"`
	Make    string `json:"make" yaml:"make"`
	Model   string `json:"model" yaml:"model"`
	Trim    string `json:"trim,omitempty" yaml:"trim,omitempty"`
	Mileage int    `json:"mileage" yaml:"mileage"`
}

// DisplayName renders "2020 Toyota Camry SE".
func (v Vehicle) DisplayName() string {
	name := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Trim != "" {
		name += " " + v.Trim
	}
	return name
}

// SyntheticRecord is one generated service ticket. Records are immutable once generated.
type SyntheticRecord struct {
	TicketID   string   `json:"ticket_id"`
	Date       string   `json:"date"`
	Vehicle    Vehicle  `json:"vehicle"`
	Category   Category `json:"service_type"`
	Mileage    int      `json:"mileage"`
	Technician string   `json:"technician"`
	Cost       float64  `json:"estimated_cost"`
	Priority   Priority `json:"priority"`
	Note       string   `json:"notes"`
	Status     string   `json:"status"`
}

const TicketStatusPending = "Pending"
