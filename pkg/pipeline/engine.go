// Package pipeline drives analysis tasks through their declared stage
// sequences. Submission is synchronous; advancement runs on a bounded
// worker pool and is observable only through the result store and the
// broadcast layer.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainsentry/chainsentry/pkg/duration"
	"github.com/chainsentry/chainsentry/pkg/scoring"
	"github.com/chainsentry/chainsentry/pkg/store"
	"github.com/chainsentry/chainsentry/pkg/task"
	"github.com/chainsentry/chainsentry/pkg/telemetry"
	"github.com/chainsentry/chainsentry/pkg/workerpool"
)

// Notifier receives task update publications. The broker satisfies it;
// tests substitute a recorder.
type Notifier interface {
	Publish(topic string, payload map[string]any)
}

// Options configures engine behavior. The zero value gets reference
// defaults.
type Options struct {
	// Logger for lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics sink; nil disables instrumentation.
	Metrics *telemetry.Metrics

	// StageDelay is the simulated work interval between stages.
	// Negative disables the delay (used by tests); zero defaults to
	// duration.StageDelay.
	StageDelay time.Duration

	// Workers bounds concurrent task advancement. Zero defaults to 8.
	Workers int
}

// Engine accepts task submissions and advances them to a terminal state.
type Engine struct {
	kinds    *task.Kinds
	store    *store.Store
	scorer   scoring.Scorer
	notifier Notifier
	pool     *workerpool.Pool
	tracer   trace.Tracer
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	delay    time.Duration
}

// New creates an engine over the given store, scorer, and notifier.
// A nil notifier suppresses publications but not store writes.
func New(kinds *task.Kinds, st *store.Store, scorer scoring.Scorer, notifier Notifier, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StageDelay == 0 {
		opts.StageDelay = duration.StageDelay
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Engine{
		kinds:    kinds,
		store:    st,
		scorer:   scorer,
		notifier: notifier,
		pool:     workerpool.New(opts.Workers),
		tracer:   otel.Tracer("chainsentry/pipeline"),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		delay:    opts.StageDelay,
	}
}

// Submit validates the parameters for kind, writes the initial queued
// record, and returns its snapshot while advancement continues
// independently. Validation failures return a *task.ValidationError and
// leave no trace in the store.
func (e *Engine) Submit(ctx context.Context, kind string, params map[string]any) (*task.Task, error) {
	spec, ok := e.kinds.Lookup(kind)
	if !ok {
		return nil, &task.ValidationError{Field: "kind", Reason: "unknown kind"}
	}
	if err := spec.Validate(params); err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    task.StatusQueued,
		Progress:  0,
		Stages:    spec.Stages(params),
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Put(t); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TaskSubmitted(kind)
	}
	e.logger.Info("task submitted", "task", t.ID, "kind", kind, "stages", len(t.Stages))

	working := t.Clone()
	e.pool.Submit(func() {
		e.advance(spec, working)
	})
	return t.Clone(), nil
}

// Get returns the current record for a task id.
func (e *Engine) Get(id string) (*task.Task, error) {
	return e.store.Get(id)
}

// History returns the retained task snapshots, most recent first.
func (e *Engine) History(limit int) []*task.Task {
	return e.store.History(limit)
}

// Close drains in-flight advancement and stops the pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// advance walks the task through its stages and computes the terminal
// result. Every failure along the way is absorbed into the failed state;
// nothing propagates back to the submitter.
func (e *Engine) advance(spec *task.Spec, t *task.Task) {
	ctx, span := e.tracer.Start(context.Background(), "pipeline.advance",
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.String("task.kind", t.Kind),
		))
	defer span.End()

	start := time.Now()
	total := len(t.Stages)

	for i, stage := range t.Stages {
		e.pause()

		t.Status = task.StatusRunning
		t.CurrentStage = stage
		t.Progress = stageProgress(i, total)

		// Write precedes publish: a poller reacting to the push is
		// guaranteed to observe at least this state.
		if err := e.store.Put(t); err != nil {
			e.logger.Error("stage write rejected", "task", t.ID, "stage", stage, "error", err)
			return
		}
		span.AddEvent(stage)
		e.notify(spec.Topic, t)
	}

	e.pause()
	result, err := e.scorer.Score(ctx, t.Kind, t.Params)
	if err != nil {
		// Progress stays at its last recorded value.
		t.Status = task.StatusFailed
		t.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		e.logger.Warn("task failed", "task", t.ID, "kind", t.Kind, "error", err)
	} else {
		t.Status = task.StatusCompleted
		t.Progress = 100
		t.CurrentStage = ""
		t.Result = result
	}

	if err := e.store.Put(t); err != nil {
		e.logger.Error("terminal write rejected", "task", t.ID, "error", err)
		return
	}
	e.notify(spec.Topic, t)

	if e.metrics != nil {
		e.metrics.TaskFinished(t.Kind, t.Status == task.StatusFailed, time.Since(start).Seconds())
	}
	e.logger.Info("task finished", "task", t.ID, "kind", t.Kind, "status", t.Status)
}

func (e *Engine) pause() {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
}

func (e *Engine) notify(topic string, t *task.Task) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(topic, TaskPayload(t))
}

// stageProgress is the overall completion percentage after i of total
// stages are done, rounded to the nearest integer. With per-plugin stage
// lists concatenated at equal length this matches equal weighting per
// plugin.
func stageProgress(i, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(i) / float64(total)))
}

// TaskPayload renders a task snapshot as a wire data object.
func TaskPayload(t *task.Task) map[string]any {
	payload := map[string]any{
		"id":         t.ID,
		"kind":       t.Kind,
		"status":     string(t.Status),
		"progress":   t.Progress,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
	if t.CurrentStage != "" {
		payload["current_stage"] = t.CurrentStage
	}
	if t.Result != nil {
		payload["result"] = t.Result
	}
	if t.Error != "" {
		payload["error"] = t.Error
	}
	return payload
}
