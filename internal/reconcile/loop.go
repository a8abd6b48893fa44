// Package reconcile runs the periodic cycle that fetches the openHAB
// inventory, renders it, and publishes the result to the host.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/thane-openhab/internal/events"
	"github.com/nugget/thane-openhab/internal/inventory"
	"github.com/nugget/thane-openhab/internal/openhab"
	"github.com/nugget/thane-openhab/internal/render"
	"github.com/nugget/thane-openhab/internal/tools"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 60 * time.Second

// Stage is the position of the loop within a cycle.
type Stage int

const (
	StageIdle Stage = iota
	StageFetching
	StageRendering
	StagePublished
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageFetching:
		return "fetching"
	case StageRendering:
		return "rendering"
	case StagePublished:
		return "published"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Source provides the remote inventory.
type Source interface {
	Items(ctx context.Context) ([]openhab.Item, error)
	SystemInfo(ctx context.Context) (*openhab.SystemInfo, error)
}

// Renderer turns a snapshot into publishable output.
type Renderer interface {
	Render(snap inventory.Snapshot) (render.Result, error)
}

// Publisher receives the output of each cycle and its errors.
type Publisher interface {
	SetInstructions(text string)
	SetFunctionSchemas(schemas []tools.Schema)
	SetSoftwareVersion(v string)
	IsEnabled() bool
	ClearErrors()
	AddError(msg string)
}

// Config configures a Loop.
type Config struct {
	Source    Source
	Renderer  Renderer
	Publisher Publisher

	// Interval between the end of one cycle and the start of the next.
	Interval time.Duration

	// Events, when set, receives cycle_start, cycle_complete and
	// cycle_failed events.
	Events *events.Bus

	Logger *slog.Logger
}

// Status describes the loop for health reporting.
type Status struct {
	Stage       string    `json:"stage"`
	CycleID     string    `json:"cycle_id,omitempty"`
	Cycles      int64     `json:"cycles"`
	Failures    int64     `json:"failures"`
	LastCycle   time.Time `json:"last_cycle,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loop reconciles the published state with openHAB. Cycles never
// overlap: they run on the goroutine that calls [Loop.Run].
type Loop struct {
	cfg     Config
	trigger chan struct{}

	mu     sync.Mutex
	status Status
	stage  Stage
}

// New creates a loop. It does nothing until [Loop.Run] is called and a
// trigger arrives.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a cycle now. Any pending scheduled run is replaced.
// It never blocks; triggers arriving while one is queued coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers and scheduled runs until ctx is cancelled.
// It blocks.
func (l *Loop) Run(ctx context.Context) {
	l.cfg.Logger.Info("reconcile loop started", "interval", l.cfg.Interval)

	var t task

	for {
		select {
		case <-ctx.Done():
			t.cancel()
			l.setNextRun(&t)
			l.cfg.Logger.Info("reconcile loop stopped")
			return
		case <-l.trigger:
			t.cancel()
			l.setNextRun(&t)
			l.cycle(ctx, &t)
		case <-t.fired():
			l.cycle(ctx, &t)
		}
	}
}

// cycle runs once and re-arms, whatever the outcome.
func (l *Loop) cycle(ctx context.Context, t *task) {
	_ = l.RunOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	t.arm(l.cfg.Interval)
	l.setNextRun(t)
}

// setNextRun mirrors the pending run into Status; zero when none is
// pending.
func (l *Loop) setNextRun(t *task) {
	var next time.Time
	if t.armed() {
		next = t.due
	}
	l.mu.Lock()
	l.status.NextRun = next
	l.mu.Unlock()
}

// RunOnce performs a single cycle. If the item list cannot be fetched
// or rendered, nothing is published and the previous output stays in
// place. A system info failure is reported but does not stop the cycle.
func (l *Loop) RunOnce(ctx context.Context) error {
	cycleID := newCycleID()
	logger := l.cfg.Logger.With("cycle_id", cycleID)
	start := time.Now()

	l.setStage(StageFetching, cycleID)
	l.cfg.Events.Emit(events.SourceReconcile, events.KindCycleStart, map[string]any{"cycle_id": cycleID})

	var errs []error

	info, err := l.cfg.Source.SystemInfo(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch system info: %w", err))
	} else if info.OSVersion != "" {
		l.cfg.Publisher.SetSoftwareVersion(info.OSVersion)
	}

	items, err := l.cfg.Source.Items(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch items: %w", err))
		return l.finish(logger, cycleID, start, false, errs)
	}

	l.setStage(StageRendering, cycleID)

	snap := inventory.Classify(items)
	res, err := l.cfg.Renderer.Render(snap)
	if err != nil {
		errs = append(errs, fmt.Errorf("render snapshot: %w", err))
		return l.finish(logger, cycleID, start, false, errs)
	}

	l.cfg.Publisher.SetInstructions(res.Instructions)
	l.cfg.Publisher.SetFunctionSchemas(res.Functions)
	l.setStage(StagePublished, cycleID)

	logger.Debug("snapshot published",
		"items", len(items),
		"locations", len(snap.Locations),
		"switches", len(snap.Switchs),
		"shutters", len(snap.Shutters),
		"functions", len(res.Functions),
	)
	l.cfg.Events.Emit(events.SourceReconcile, events.KindCycleComplete, map[string]any{
		"cycle_id":   cycleID,
		"items":      len(items),
		"switches":   len(snap.Switchs),
		"shutters":   len(snap.Shutters),
		"functions":  len(res.Functions),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	return l.finish(logger, cycleID, start, true, errs)
}

// finish records the outcome and reports errors to the publisher.
// Errors are reported only while the extension is enabled; a clean
// cycle clears previously reported errors.
func (l *Loop) finish(logger *slog.Logger, cycleID string, start time.Time, published bool, errs []error) error {
	err := errors.Join(errs...)
	if err != nil {
		l.cfg.Events.Emit(events.SourceReconcile, events.KindCycleFailed, map[string]any{
			"cycle_id":  cycleID,
			"error":     err.Error(),
			"published": published,
		})
	}

	l.mu.Lock()
	l.status.Cycles++
	l.status.LastCycle = start
	if published {
		l.status.LastSuccess = start
	} else {
		l.status.Failures++
		l.stage = StageIdle
	}
	if err != nil {
		l.status.LastError = err.Error()
	} else {
		l.status.LastError = ""
	}
	l.mu.Unlock()

	pub := l.cfg.Publisher
	switch {
	case err == nil:
		pub.ClearErrors()
	case pub.IsEnabled():
		pub.ClearErrors()
		for _, e := range errs {
			logger.Warn("reconcile cycle error", "error", e, "published", published)
			pub.AddError(e.Error())
		}
	default:
		logger.Debug("reconcile cycle error suppressed while disabled", "error", err)
	}

	logger.Debug("reconcile cycle finished",
		"published", published,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return err
}

// Status returns a snapshot of the loop's progress.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Stage = l.stage.String()
	return st
}

func (l *Loop) setStage(s Stage, cycleID string) {
	l.mu.Lock()
	l.stage = s
	l.status.CycleID = cycleID
	l.mu.Unlock()
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
