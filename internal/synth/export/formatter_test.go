package export

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/synth/generator"
)

func sampleRecord() domain.SyntheticRecord {
	catalog := generator.DefaultCatalog()
	return domain.SyntheticRecord{
		TicketID:   "SVC-20260315-0001",
		Date:       "2026-03-14",
		Vehicle:    catalog.Vehicle,
		Category:   catalog.Categories[0],
		Mileage:    45230,
		Technician: "Lisa Chen",
		Cost:       134.56,
		Priority:   domain.PriorityHigh,
		Note:       `Tread depth good (7/32"). Rotation completed.`,
		Status:     domain.TicketStatusPending,
	}
}

func TestOutputThresholds(t *testing.T) {
	f := NewFormatter()
	line := f.Line(sampleRecord())
	if !strings.Contains(line.Output, "Next oil service due at 50000 miles.") {
		t.Fatalf("Output=%q, want oil threshold 50000", line.Output)
	}
	if !strings.Contains(line.Output, "Next major service due at 60000 miles.") {
		t.Fatalf("Output=%q, want major threshold 60000", line.Output)
	}
	if !strings.Contains(line.Output, "High priority") {
		t.Fatalf("Output=%q, want high priority phrase", line.Output)
	}
	if !strings.HasSuffix(line.Output, sampleRecord().Note) {
		t.Fatalf("Output=%q, want note verbatim", line.Output)
	}
}

func TestNextThresholdOnBoundary(t *testing.T) {
	if got := nextThreshold(50000, 5000); got != 55000 {
		t.Fatalf("nextThreshold()=%d, want 55000", got)
	}
	if got := nextThreshold(0, 30000); got != 30000 {
		t.Fatalf("nextThreshold()=%d, want 30000", got)
	}
}

func TestInputRoundTrip(t *testing.T) {
	f := NewFormatter()
	rec := sampleRecord()
	line := f.Line(rec)
	fields, err := ParseInput(line.Input)
	if err != nil {
		t.Fatalf("ParseInput() err=%v", err)
	}
	if fields.TicketID != rec.TicketID || fields.Mileage != rec.Mileage || fields.Priority != rec.Priority || fields.Note != rec.Note {
		t.Fatalf("ParseInput()=%+v", fields)
	}
	if fields.Vehicle != "2020 Toyota Camry SE" || fields.VIN != "VIN12345ABC" {
		t.Fatalf("vehicle=%q vin=%q", fields.Vehicle, fields.VIN)
	}
	if fields.Kilometres != 72791 {
		t.Fatalf("Kilometres=%d, want 72791", fields.Kilometres)
	}
	if fields.Cost != 134.56 {
		t.Fatalf("Cost=%v, want 134.56", fields.Cost)
	}
}

func TestLinesAreSelfContainedAndRecomputable(t *testing.T) {
	g, err := generator.New(generator.DefaultConfig(), generator.DefaultCatalog(), rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("generator.New() err=%v", err)
	}
	records, err := g.Generate(300)
	if err != nil {
		t.Fatalf("Generate() err=%v", err)
	}
	f := NewFormatter()
	lines, err := f.Lines(records)
	if err != nil {
		t.Fatalf("Lines() err=%v", err)
	}
	if len(lines) != len(records) {
		t.Fatalf("len(lines)=%d, want %d", len(lines), len(records))
	}
	for i, s := range lines {
		if strings.ContainsAny(s, "\r\n") {
			t.Fatalf("lines[%d] contains a line break", i)
		}
		if err := f.Verify(s); err != nil {
			t.Fatalf("Verify(lines[%d]) err=%v", i, err)
		}
	}

	n, err := f.VerifyDocument([]byte(Join(lines)))
	if err != nil {
		t.Fatalf("VerifyDocument() err=%v", err)
	}
	if n != len(lines) {
		t.Fatalf("VerifyDocument()=%d, want %d", n, len(lines))
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	f := NewFormatter()
	lines, err := f.Lines([]domain.SyntheticRecord{sampleRecord()})
	if err != nil {
		t.Fatalf("Lines() err=%v", err)
	}
	km := fmt.Sprintf("(%d km)", milesToKilometres(45230))
	cases := map[string]string{
		"mileage past oil threshold": strings.Replace(lines[0], "45230 mi "+km, fmt.Sprintf("50230 mi (%d km)", milesToKilometres(50230)), 1),
		"priority":                   strings.Replace(lines[0], "Priority: High", "Priority: Normal", 1),
		"kilometres":                 strings.Replace(lines[0], km, "(1 km)", 1),
	}
	for name, tampered := range cases {
		if tampered == lines[0] {
			t.Fatalf("%s: replacement did not apply", name)
		}
		if err := f.Verify(tampered); err == nil {
			t.Fatalf("%s: Verify() expected mismatch", name)
		}
	}
	if err := f.Verify(lines[0]); err != nil {
		t.Fatalf("Verify() err=%v", err)
	}
}

func TestParseLineRejectsInvalid(t *testing.T) {
	cases := []string{
		``,
		`{"instruction":"a","input":"b"}`,
		`{"instruction":"a","input":"b","output":"c"} {"x":1}`,
		`{"instruction":"a","input":"b","output":"c","extra":true}`,
	}
	for _, tc := range cases {
		if _, err := ParseLine(tc); err == nil {
			t.Fatalf("ParseLine(%q) expected error", tc)
		}
	}
}

func TestJoinHasNoTrailingNewline(t *testing.T) {
	if got := Join([]string{"a", "b"}); got != "a\nb" {
		t.Fatalf("Join()=%q", got)
	}
}

func TestSuggestedName(t *testing.T) {
	got := SuggestedName(time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC))
	if got != "service-tickets-training-2026-03-15.jsonl" {
		t.Fatalf("SuggestedName()=%q", got)
	}
}
