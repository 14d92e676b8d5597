// Package generator produces batches of synthetic service tickets.
//
// Every batch follows the same shape: index i is dated (count-i) days before
// today and its mileage advances by a fixed step plus bounded jitter, so both
// sequences are ordered by index. Category, technician, note and priority are
// drawn from the injected random source.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/platform/env"
)

// Rand is the random source used for generation. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type Config struct {
	MaxCount int

	MileageStep   float64
	MileageJitter int

	LaborRate  float64
	CostJitter float64
	CostFloor  float64

	HighPriorityProbability float64
}

func DefaultConfig() Config {
	return Config{
		MaxCount:                100000,
		MileageStep:             45,
		MileageJitter:           40,
		LaborRate:               110,
		CostJitter:              80,
		CostFloor:               35,
		HighPriorityProbability: 0.2,
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.MaxCount, err = env.Int("SYNTHLAB_MAX_COUNT", cfg.MaxCount); err != nil {
		return Config{}, err
	}
	if cfg.HighPriorityProbability, err = env.Float("SYNTHLAB_HIGH_PRIORITY_PROBABILITY", cfg.HighPriorityProbability); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxCount < 1 {
		return errors.New("max count must be >= 1")
	}
	if c.MileageStep <= 0 {
		return errors.New("mileage step must be positive")
	}
	if c.MileageJitter < 0 {
		return errors.New("mileage jitter must be >= 0")
	}
	// floor(i*step) advances by at least floor(step) per index.
	if c.MileageJitter > int(math.Floor(c.MileageStep)) {
		return fmt.Errorf("mileage jitter %d must be <= floor(mileage step %.2f)", c.MileageJitter, c.MileageStep)
	}
	if c.LaborRate < 0 || c.CostJitter < 0 || c.CostFloor < 0 {
		return errors.New("cost parameters must be >= 0")
	}
	if c.HighPriorityProbability < 0 || c.HighPriorityProbability > 1 {
		return errors.New("high priority probability must be within [0,1]")
	}
	return nil
}

type Generator struct {
	cfg     Config
	catalog Catalog
	now     func() time.Time

	mu   sync.Mutex
	rand Rand
}

// New returns a generator. A nil rnd seeds one from the clock.
func New(cfg Config, catalog Catalog, rnd Rand) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		cfg:     cfg,
		catalog: catalog,
		now:     time.Now,
		rand:    rnd,
	}, nil
}

func (g *Generator) Catalog() Catalog {
	return g.catalog
}

// Generate returns count records ordered oldest first.
func (g *Generator) Generate(count int) ([]domain.SyntheticRecord, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1 (got %d)", domain.ErrInvalidArgument, count)
	}
	if count > g.cfg.MaxCount {
		return nil, fmt.Errorf("%w: count must be <= %d (got %d)", domain.ErrInvalidArgument, g.cfg.MaxCount, count)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	batch := today.Format("20060102")

	records := make([]domain.SyntheticRecord, 0, count)
	for i := 0; i < count; i++ {
		category := g.catalog.Categories[g.rand.Intn(len(g.catalog.Categories))]
		mileage := g.catalog.Vehicle.Mileage +
			int(math.Floor(float64(i)*g.cfg.MileageStep)) +
			g.rand.Intn(g.cfg.MileageJitter+1)
		cost := round2(category.LaborHours*g.cfg.LaborRate + g.rand.Float64()*g.cfg.CostJitter + g.cfg.CostFloor)
		technician := g.catalog.Technicians[g.rand.Intn(len(g.catalog.Technicians))]
		note := category.Notes[g.rand.Intn(len(category.Notes))]
		priority := domain.PriorityNormal
		if g.rand.Float64() < g.cfg.HighPriorityProbability {
			priority = domain.PriorityHigh
		}

		records = append(records, domain.SyntheticRecord{
			TicketID:   fmt.Sprintf("SVC-%s-%04d", batch, i+1),
			Date:       today.AddDate(0, 0, -(count - i)).Format(domain.DateLayout),
			Vehicle:    g.catalog.Vehicle,
			Category:   category,
			Mileage:    mileage,
			Technician: technician,
			Cost:       cost,
			Priority:   priority,
			Note:       note,
			Status:     domain.TicketStatusPending,
		})
	}
	return records, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
