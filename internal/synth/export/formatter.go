// Package export turns generated records into instruction-tuning examples and
// hands the resulting JSONL document to a Sink.
//
// Each line is a complete JSON object {"instruction","input","output"}. The
// output is computed only from the mileage, priority and note carried in the
// same line's input, so any line can be re-checked on its own with
// ParseInput and Formatter.Output.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
)

const (
	DefaultInstruction = "Analyze this vehicle service ticket and provide maintenance recommendations."

	DefaultOilInterval   = 5000
	DefaultMajorInterval = 30000

	kmPerMile = 1.609344
)

// Line is one training example.
type Line struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

type Formatter struct {
	Instruction   string
	OilInterval   int
	MajorInterval int
}

func NewFormatter() Formatter {
	return Formatter{
		Instruction:   DefaultInstruction,
		OilInterval:   DefaultOilInterval,
		MajorInterval: DefaultMajorInterval,
	}
}

func (f Formatter) Validate() error {
	if strings.TrimSpace(f.Instruction) == "" {
		return errors.New("instruction is required")
	}
	if f.OilInterval < 1 || f.MajorInterval < 1 {
		return errors.New("service intervals must be >= 1")
	}
	return nil
}

// Line builds the training example for a single record.
func (f Formatter) Line(rec domain.SyntheticRecord) Line {
	fields := InputFields{
		Vehicle:    rec.Vehicle.DisplayName(),
		VIN:        rec.Vehicle.VIN,
		TicketID:   rec.TicketID,
		Date:       rec.Date,
		Mileage:    rec.Mileage,
		Kilometres: milesToKilometres(rec.Mileage),
		Service:    rec.Category.Label,
		Cost:       rec.Cost,
		Technician: rec.Technician,
		Priority:   rec.Priority,
		Note:       rec.Note,
	}
	return Line{
		Instruction: f.Instruction,
		Input:       fields.String(),
		Output:      f.Output(fields),
	}
}

// Lines encodes every record as a single-line JSON object, in record order.
func (f Formatter) Lines(records []domain.SyntheticRecord) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := make([]string, 0, len(records))
	for _, rec := range records {
		buf.Reset()
		if err := enc.Encode(f.Line(rec)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.TicketID, err)
		}
		out = append(out, strings.TrimSuffix(buf.String(), "\n"))
	}
	return out, nil
}

// Output is the recommendation text for the given input fields.
func (f Formatter) Output(fields InputFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Next oil service due at %d miles. ", nextThreshold(fields.Mileage, f.OilInterval))
	fmt.Fprintf(&b, "Next major service due at %d miles. ", nextThreshold(fields.Mileage, f.MajorInterval))
	if fields.Priority == domain.PriorityHigh {
		b.WriteString("High priority: schedule the follow-up within 48 hours. ")
	} else {
		b.WriteString("Normal priority: follow the standard maintenance schedule. ")
	}
	b.WriteString("Technician notes: ")
	b.WriteString(fields.Note)
	return b.String()
}

// Join concatenates lines into one newline-delimited document without a trailing newline.
func Join(lines []string) string {
	return strings.Join(lines, "\n")
}

// SuggestedName is the file name offered to sinks for an export produced at now.
func SuggestedName(now time.Time) string {
	return "service-tickets-training-" + now.UTC().Format(domain.DateLayout) + ".jsonl"
}

func nextThreshold(mileage, interval int) int {
	return mileage + (interval - mileage%interval)
}

func milesToKilometres(miles int) int {
	return int(math.Round(float64(miles) * kmPerMile))
}
