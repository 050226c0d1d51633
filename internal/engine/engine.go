package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmhodges/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"carminder/internal/model"
	"carminder/internal/timer"
)

const (
	otelScope       = "carminder/engine"
	spanSchedule    = "engine.schedule"
	spanFire        = "engine.fire"
	spanRecover     = "engine.recover"
	metricScheduled = "carminder.engine.timers.scheduled"
	metricFired     = "carminder.engine.timers.fired"
	metricNotified  = "carminder.engine.notifications.sent"
	metricCompleted = "carminder.engine.reminders.completed"
	metricRenewed   = "carminder.engine.reminders.renewed"
	metricErrors    = "carminder.engine.errors"
)

// Config holds the engine's scheduling parameters.
type Config struct {
	// NotifyHour is the local hour of day at which wake-ups fire.
	NotifyHour int

	// LeadDays is the default pre-notification window for date reminders.
	// A reminder's own NotifyDaysBefore list takes precedence.
	LeadDays []int

	// WarnBandsKm are the remaining-distance thresholds for mileage warnings,
	// sorted ascending.
	WarnBandsKm []int

	// PollInterval is the cadence of the recurring mileage check.
	PollInterval time.Duration

	// RescanInterval is the period between recovery passes in [Engine.Run].
	RescanInterval time.Duration

	// ExactTimers requests precise wake-up delivery from the registry.
	ExactTimers bool
}

func (c *Config) withDefaults() {
	if c.NotifyHour == 0 {
		c.NotifyHour = 9
	}
	if len(c.LeadDays) == 0 {
		c.LeadDays = append([]int(nil), model.DefaultLeadDays...)
	}
	if len(c.WarnBandsKm) == 0 {
		c.WarnBandsKm = []int{100, 500, 1000}
	}
	if c.PollInterval == 0 {
		c.PollInterval = 24 * time.Hour
	}
	if c.RescanInterval == 0 {
		c.RescanInterval = 5 * time.Minute
	}
}

// Engine wires the store, timer registry, and notification sink together.
// Create one with [New] and start it with [Engine.Run], or drive the
// Schedule/Recover/HandleFire methods directly.
type Engine struct {
	store    ReminderStore
	vehicles VehicleStateProvider
	timers   TimerRegistry
	fires    <-chan timer.Key
	sink     NotificationSink
	clk      clock.Clock
	cfg      Config
	log      *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntScheduled metric.Int64Counter
	cntFired     metric.Int64Counter
	cntNotified  metric.Int64Counter
	cntCompleted metric.Int64Counter
	cntRenewed   metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// New creates an Engine. The fires channel is the registry's fire output;
// passing it explicitly keeps the engine independent of the registry's
// dispatch loop (tests feed keys directly).
func New(store ReminderStore, vehicles VehicleStateProvider, timers TimerRegistry,
	fires <-chan timer.Key, sink NotificationSink, clk clock.Clock, cfg Config,
	logger *slog.Logger) *Engine {

	cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		store:    store,
		vehicles: vehicles,
		timers:   timers,
		fires:    fires,
		sink:     sink,
		clk:      clk,
		cfg:      cfg,
		log:      logger,

		tracer:       tracer,
		cntScheduled: mustCounter(metricScheduled, "Number of wake-up registrations created"),
		cntFired:     mustCounter(metricFired, "Number of timer fires handled"),
		cntNotified:  mustCounter(metricNotified, "Number of notifications delivered"),
		cntCompleted: mustCounter(metricCompleted, "Number of reminders auto-completed"),
		cntRenewed:   mustCounter(metricRenewed, "Number of periodic reminders renewed"),
		cntErrors:    mustCounter(metricErrors, "Number of errors inside the engine"),
	}
}

// Run performs an initial recovery pass, then blocks draining timer fires and
// re-running recovery on the rescan interval until ctx is cancelled. Fires are
// handled on this single goroutine, so for any one reminder the cancel/register
// and fire sequences never interleave.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.Recover(ctx); err != nil {
		e.log.Error("initial recovery failed", "error", err)
	}

	ticker := time.NewTicker(e.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine shutting down")
			return ctx.Err()
		case key := <-e.fires:
			e.HandleFire(ctx, key)
		case <-ticker.C:
			if _, err := e.Recover(ctx); err != nil {
				e.log.Error("rescan recovery failed", "error", err)
			}
		}
	}
}

// notify delivers a notification through the sink, absorbing and logging any
// failure: the user missing one notification must never take the process down.
func (e *Engine) notify(ctx context.Context, id int64, title, body string) {
	if err := e.sink.Show(ctx, id, title, body); err != nil {
		e.log.Error("showing notification", "id", id, "title", title, "error", err)
		e.cntErrors.Add(ctx, 1)
		return
	}
	e.cntNotified.Add(ctx, 1)
}
