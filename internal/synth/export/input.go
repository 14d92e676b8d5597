package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/synthlab/internal/domain"
)

const (
	keyVehicle    = "Vehicle"
	keyTicket     = "Ticket"
	keyDate       = "Date"
	keyMileage    = "Mileage"
	keyService    = "Service"
	keyCost       = "Estimated cost"
	keyTechnician = "Technician"
	keyPriority   = "Priority"
	keyNotes      = "Notes"
)

// InputFields is the structured content of a line's input text.
type InputFields struct {
	Vehicle    string
	VIN        string
	TicketID   string
	Date       string
	Mileage    int
	Kilometres int
	Service    string
	Cost       float64
	Technician string
	Priority   domain.Priority
	Note       string
}

func (in InputFields) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (VIN %s)\n", keyVehicle, in.Vehicle, in.VIN)
	fmt.Fprintf(&b, "%s: %s\n", keyTicket, in.TicketID)
	fmt.Fprintf(&b, "%s: %s\n", keyDate, in.Date)
	fmt.Fprintf(&b, "%s: %d mi (%d km)\n", keyMileage, in.Mileage, in.Kilometres)
	fmt.Fprintf(&b, "%s: %s\n", keyService, in.Service)
	fmt.Fprintf(&b, "%s: $%.2f\n", keyCost, in.Cost)
	fmt.Fprintf(&b, "%s: %s\n", keyTechnician, in.Technician)
	fmt.Fprintf(&b, "%s: %s\n", keyPriority, in.Priority)
	fmt.Fprintf(&b, "%s: %s", keyNotes, in.Note)
	return b.String()
}

// ParseLine decodes one exported line. Trailing data after the object is rejected.
func ParseLine(s string) (Line, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	var line Line
	if err := dec.Decode(&line); err != nil {
		return Line{}, fmt.Errorf("decode line: %w", err)
	}
	if dec.More() {
		return Line{}, errors.New("decode line: trailing data")
	}
	if strings.TrimSpace(line.Instruction) == "" || strings.TrimSpace(line.Input) == "" || strings.TrimSpace(line.Output) == "" {
		return Line{}, errors.New("line requires instruction, input and output")
	}
	return line, nil
}

// ParseInput recovers the fields rendered by InputFields.String.
func ParseInput(input string) (InputFields, error) {
	values := make(map[string]string, 9)
	for _, row := range strings.Split(input, "\n") {
		key, value, ok := strings.Cut(row, ": ")
		if !ok {
			return InputFields{}, fmt.Errorf("malformed input row %q", row)
		}
		values[key] = value
	}
	for _, key := range []string{keyVehicle, keyTicket, keyDate, keyMileage, keyService, keyCost, keyTechnician, keyPriority, keyNotes} {
		if _, ok := values[key]; !ok {
			return InputFields{}, fmt.Errorf("input missing %q", key)
		}
	}

	var in InputFields
	vehicle, vin, ok := strings.Cut(values[keyVehicle], " (VIN ")
	if !ok || !strings.HasSuffix(vin, ")") {
		return InputFields{}, fmt.Errorf("malformed vehicle %q", values[keyVehicle])
	}
	in.Vehicle = vehicle
	in.VIN = strings.TrimSuffix(vin, ")")
	in.TicketID = values[keyTicket]
	in.Date = values[keyDate]

	var err error
	if _, err = fmt.Sscanf(values[keyMileage], "%d mi (%d km)", &in.Mileage, &in.Kilometres); err != nil {
		return InputFields{}, fmt.Errorf("parse mileage %q: %w", values[keyMileage], err)
	}
	if want := milesToKilometres(in.Mileage); in.Kilometres != want {
		return InputFields{}, fmt.Errorf("mileage %d mi is %d km, not %d", in.Mileage, want, in.Kilometres)
	}
	in.Service = values[keyService]
	if in.Cost, err = strconv.ParseFloat(strings.TrimPrefix(values[keyCost], "$"), 64); err != nil {
		return InputFields{}, fmt.Errorf("parse cost %q: %w", values[keyCost], err)
	}
	in.Technician = values[keyTechnician]
	switch p := domain.Priority(values[keyPriority]); p {
	case domain.PriorityHigh, domain.PriorityNormal:
		in.Priority = p
	default:
		return InputFields{}, fmt.Errorf("unknown priority %q", values[keyPriority])
	}
	in.Note = values[keyNotes]
	return in, nil
}

// Verify checks that a line's output matches the output recomputed from its input.
func (f Formatter) Verify(s string) error {
	line, err := ParseLine(s)
	if err != nil {
		return err
	}
	fields, err := ParseInput(line.Input)
	if err != nil {
		return err
	}
	if want := f.Output(fields); line.Output != want {
		return fmt.Errorf("output mismatch for %s", fields.TicketID)
	}
	return nil
}

// VerifyDocument runs Verify on every line of a joined export.
func (f Formatter) VerifyDocument(content []byte) (int, error) {
	n := 0
	for _, row := range bytes.Split(content, []byte("\n")) {
		if len(row) == 0 {
			return n, fmt.Errorf("line %d: empty", n+1)
		}
		if err := f.Verify(string(row)); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	return n, nil
}
