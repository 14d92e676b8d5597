// Package pipeline owns the lab session state machine: record generation,
// export and the timed playback of a simulated training run.
//
// A Controller holds at most one playback schedule. Starting a run stops the
// previous schedule under the same lock that installs the new one, and every
// schedule carries the run number it was created for, so a callback that fires
// after its run was replaced is dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/synth/export"
	"github.com/animus-labs/synthlab/internal/synth/trainlog"
)

// ErrDisposed is returned by every operation on a disposed controller.
var ErrDisposed = fmt.Errorf("%w: controller disposed", domain.ErrInvalidTransition)

// RecordSource produces record batches. *generator.Generator satisfies it.
type RecordSource interface {
	Generate(count int) ([]domain.SyntheticRecord, error)
}

type Deps struct {
	Records   RecordSource
	Sink      export.Sink
	Scheduler Scheduler
	Listener  Listener
	Logger    *slog.Logger
}

// Snapshot is a consistent copy of the observable state.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	Stage       domain.Stage `json:"stage"`
	Progress    int          `json:"progress"`
	Complete    bool         `json:"complete"`
	Exported    bool         `json:"exported"`
	RecordCount int          `json:"record_count"`
	LineCount   int          `json:"line_count"`
	TotalLines  int          `json:"total_lines"`
	RunID       string       `json:"run_id,omitempty"`
	Disposed    bool         `json:"disposed"`
}

// ExportResult describes a successful export.
type ExportResult struct {
	Name   string `json:"name"`
	Lines  int    `json:"lines"`
	Bytes  int    `json:"bytes"`
	SHA256 string `json:"sha256"`
}

type Controller struct {
	id        string
	records   RecordSource
	sink      export.Sink
	scheduler Scheduler
	listener  Listener
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	mu          sync.Mutex
	stage       domain.Stage
	data        []domain.SyntheticRecord
	dataVersion int
	exported    bool
	genToken    int
	script      []domain.LogLine
	emitted     int
	progress    int
	complete    bool
	run         int
	runID       string
	stop        func()
	disposed    bool
	lastActive  time.Time
}

func NewController(id string, deps Deps, opts Options) (*Controller, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if deps.Records == nil {
		return nil, errors.New("record source is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TickerScheduler{}
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		id:        id,
		records:   deps.Records,
		sink:      deps.Sink,
		scheduler: deps.Scheduler,
		listener:  deps.Listener,
		logger:    deps.Logger.With("session_id", id),
		opts:      opts,
		now:       time.Now,
		stage:     domain.StageIdle,
	}
	c.lastActive = c.now()
	return c, nil
}

func (c *Controller) ID() string {
	return c.id
}

// StartGeneration generates count records and moves the session to DataReady.
// It is accepted only from Idle or DataReady; a call made while another
// generation is in flight fails with ErrInvalidTransition.
func (c *Controller) StartGeneration(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("%w: count must be >= 1 (got %d)", domain.ErrInvalidArgument, count)
	}

	c.mu.Lock()
	if err := c.checkGenerationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	records, err := c.records.Generate(count)
	if err != nil {
		return err
	}

	var events []func()
	c.mu.Lock()
	if err := c.checkGenerationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.stage
	c.genToken++
	token := c.genToken
	c.setStageLocked(domain.StageGeneratingData, &events)
	c.mu.Unlock()
	c.dispatch(events)

	if c.opts.GenerationDelay > 0 {
		timer := time.NewTimer(c.opts.GenerationDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			events = nil
			c.mu.Lock()
			if !c.disposed && c.genToken == token && c.stage == domain.StageGeneratingData {
				c.setStageLocked(prev, &events)
			}
			c.mu.Unlock()
			c.dispatch(events)
			return ctx.Err()
		}
	}

	events = nil
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.genToken != token || c.stage != domain.StageGeneratingData {
		c.mu.Unlock()
		return fmt.Errorf("%w: generation superseded", domain.ErrInvalidTransition)
	}
	c.data = records
	c.dataVersion++
	c.exported = false
	c.resetRunLocked()
	c.touchLocked()
	c.setStageLocked(domain.StageDataReady, &events)
	events = append(events, func() { c.listener.RecordsGenerated(c.id, len(records)) })
	c.mu.Unlock()

	c.logger.Info("records generated", "count", len(records))
	c.dispatch(events)
	return nil
}

func (c *Controller) checkGenerationLocked() error {
	if c.disposed {
		return ErrDisposed
	}
	if c.stage != domain.StageIdle && c.stage != domain.StageDataReady {
		return fmt.Errorf("%w: cannot generate from %s", domain.ErrInvalidTransition, c.stage)
	}
	return nil
}

// ExportData formats the current records and hands them to the sink. The stage
// does not change. A sink failure is returned wrapped in ErrSinkUnavailable and
// leaves the session untouched.
func (c *Controller) ExportData(ctx context.Context) (ExportResult, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ExportResult{}, ErrDisposed
	}
	if c.stage != domain.StageDataReady || len(c.data) == 0 {
		stage := c.stage
		c.mu.Unlock()
		return ExportResult{}, fmt.Errorf("%w: export requires generated data (stage %s)", domain.ErrInvalidTransition, stage)
	}
	records := c.data
	version := c.dataVersion
	c.touchLocked()
	c.mu.Unlock()

	lines, err := c.opts.Formatter.Lines(records)
	if err != nil {
		return ExportResult{}, err
	}
	content := export.Join(lines)
	result := ExportResult{
		Name:   export.SuggestedName(c.now()),
		Lines:  len(lines),
		Bytes:  len(content),
		SHA256: export.Checksum(content),
	}

	if err := c.sink.Emit(ctx, content, result.Name); err != nil {
		if !errors.Is(err, domain.ErrSinkUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
		}
		c.logger.Warn("export failed", "name", result.Name, "error", err)
		c.listener.ExportFinished(c.id, result, err)
		return ExportResult{}, err
	}

	c.mu.Lock()
	if !c.disposed && c.dataVersion == version {
		c.exported = true
	}
	c.mu.Unlock()

	c.logger.Info("records exported", "name", result.Name, "lines", result.Lines, "bytes", result.Bytes)
	c.listener.ExportFinished(c.id, result, nil)
	return result, nil
}

// StartTraining builds a fresh script and starts playing it back, one line per
// tick. Any running playback is stopped first. It returns immediately.
func (c *Controller) StartTraining() error {
	var events []func()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if len(c.data) == 0 || !domain.CanTransitionStage(c.stage, domain.StageTraining) {
		stage := c.stage
		c.mu.Unlock()
		return fmt.Errorf("%w: training requires generated data (stage %s)", domain.ErrInvalidTransition, stage)
	}
	if c.opts.RequireExport && !c.exported {
		c.mu.Unlock()
		return fmt.Errorf("%w: export the data before training", domain.ErrInvalidTransition)
	}

	c.stopLocked()
	c.resetRunLocked()

	scriptOpts := c.opts.Script
	scriptOpts.DatasetLines = len(c.data)
	c.script = trainlog.Build(scriptOpts)
	c.runID = uuid.NewString()
	run := c.run
	c.stop = c.scheduler.Every(c.opts.TickInterval, func() { c.tick(run) })
	c.touchLocked()
	c.setStageLocked(domain.StageTraining, &events)
	runID := c.runID
	total := len(c.script)
	c.mu.Unlock()

	c.logger.Info("training started", "run_id", runID, "lines", total, "interval", c.opts.TickInterval)
	c.dispatch(events)
	return nil
}

// tick appends the next script line of run. Callbacks for any other run are ignored.
func (c *Controller) tick(run int) {
	var events []func()

	c.mu.Lock()
	if c.disposed || run != c.run || c.stage != domain.StageTraining || c.emitted >= len(c.script) {
		c.mu.Unlock()
		return
	}
	line := c.script[c.emitted]
	c.emitted++
	c.progress = ProgressFor(c.emitted, len(c.script))
	progress := c.progress
	events = append(events, func() { c.listener.LineEmitted(c.id, line, progress) })

	finished := c.emitted == len(c.script)
	if finished {
		c.stopLocked()
		c.complete = true
		c.setStageLocked(domain.StageComplete, &events)
	}
	runID := c.runID
	c.mu.Unlock()

	if finished {
		c.logger.Info("training complete", "run_id", runID, "lines", line.Seq+1)
	}
	c.dispatch(events)
}

// ProgressFor is round(100*emitted/total), held below 100 until the last line.
func ProgressFor(emitted, total int) int {
	if total <= 0 {
		return 0
	}
	if emitted >= total {
		return 100
	}
	p := int(math.Round(100 * float64(emitted) / float64(total)))
	if p > 99 {
		p = 99
	}
	return p
}

// Reset stops any playback, drops records and log, and returns to Idle.
func (c *Controller) Reset() error {
	var events []func()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.stopLocked()
	c.genToken++
	c.data = nil
	c.dataVersion++
	c.exported = false
	c.resetRunLocked()
	c.touchLocked()
	c.setStageLocked(domain.StageIdle, &events)
	c.mu.Unlock()

	c.dispatch(events)
	return nil
}

// Dispose stops any playback. It is safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.stopLocked()
	c.run++
	c.genToken++
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Follow returns the snapshot and the lines emitted from offset from, read
// under one lock so the lines belong to snap.RunID.
func (c *Controller) Follow(from int) (Snapshot, []domain.LogLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), c.linesLocked(from)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:   c.id,
		Stage:       c.stage,
		Progress:    c.progress,
		Complete:    c.complete,
		Exported:    c.exported,
		RecordCount: len(c.data),
		LineCount:   c.emitted,
		TotalLines:  len(c.script),
		RunID:       c.runID,
		Disposed:    c.disposed,
	}
}

// Lines returns the emitted lines from offset from onwards.
func (c *Controller) Lines(from int) []domain.LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linesLocked(from)
}

func (c *Controller) linesLocked(from int) []domain.LogLine {
	if from < 0 {
		from = 0
	}
	if from >= c.emitted {
		return nil
	}
	out := make([]domain.LogLine, c.emitted-from)
	copy(out, c.script[from:c.emitted])
	return out
}

// Records returns the current batch. The records themselves are never modified.
func (c *Controller) Records() []domain.SyntheticRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SyntheticRecord, len(c.data))
	copy(out, c.data)
	return out
}

// Active reports whether a playback schedule is installed.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Controller) idleSince() (time.Time, domain.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive, c.stage
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.touchLocked()
	c.mu.Unlock()
}

func (c *Controller) touchLocked() {
	c.lastActive = c.now()
}

func (c *Controller) stopLocked() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}

// resetRunLocked clears playback state and invalidates pending ticks.
func (c *Controller) resetRunLocked() {
	c.run++
	c.runID = ""
	c.script = nil
	c.emitted = 0
	c.progress = 0
	c.complete = false
}

func (c *Controller) setStageLocked(next domain.Stage, events *[]func()) {
	prev := c.stage
	if prev == next && next != domain.StageTraining {
		return
	}
	c.stage = next
	*events = append(*events, func() { c.listener.StageChanged(c.id, prev, next) })
}

func (c *Controller) dispatch(events []func()) {
	for _, fn := range events {
		fn()
	}
}
