// Package consumer runs the worker side of guidepost: a blocking
// consumer-group loop over the event log that applies the trigger
// policy to each entry and drives the nudge workflow.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/trigger"
)

const (
	defaultBatchSize = 10
	defaultBlock     = 5 * time.Second
	defaultBackoff   = 5 * time.Second
)

// PipelineRunner executes one workflow run to a terminal state. The
// runner must contain stage failures; Run never reports an error.
type PipelineRunner interface {
	Run(ctx context.Context, state *domain.PipelineState) *domain.PipelineState
}

// Config tunes the consumer loop. Zero values take defaults.
type Config struct {
	BatchSize int64
	Block     time.Duration
	Backoff   time.Duration
}

// Consumer polls the event log and triggers workflow runs. One Consumer
// is one polling loop; entries within a batch are processed strictly
// sequentially to preserve per-session ordering.
type Consumer struct {
	log      ports.EventLog
	sessions ports.SessionStore
	store    ports.Store
	runner   PipelineRunner
	logger   *slog.Logger
	tracer   trace.Tracer

	batchSize int64
	block     time.Duration
	backoff   time.Duration

	now func() time.Time
}

// New creates a consumer.
func New(log ports.EventLog, sessions ports.SessionStore, store ports.Store, runner PipelineRunner, logger *slog.Logger, cfg Config) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Consumer{
		log:       log,
		sessions:  sessions,
		store:     store,
		runner:    runner,
		logger:    logger,
		tracer:    otel.Tracer("guidepost/consumer"),
		batchSize: cfg.BatchSize,
		block:     cfg.Block,
		backoff:   cfg.Backoff,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the polling loop until ctx is canceled. Loop-level
// failures (log unreachable and the like) are logged and followed by a
// fixed backoff; they never terminate the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.log.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("consumer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := c.log.Read(ctx, c.batchSize, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("event log read failed", slog.String("error", err.Error()))
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, entry := range entries {
			c.process(ctx, entry)
		}
	}
}

// process handles one entry. The entry is acknowledged whenever it
// decoded, regardless of trigger outcome or pipeline success: a poison
// entry is logged and dropped rather than blocking the stream.
func (c *Consumer) process(ctx context.Context, entry ports.StreamEntry) {
	ev, err := DecodeEvent(entry.Values)
	if err != nil {
		c.logger.Error("dropping undecodable stream entry",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()))
		c.ack(ctx, entry.ID)
		return
	}

	session, err := c.sessions.Get(ctx, ev.UserID)
	if err != nil {
		c.logger.Warn("session state read failed",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()))
		session = domain.SessionState{}
	}

	if trigger.ShouldTrigger(ev, session, c.now()) {
		c.runPipeline(ctx, ev, session)
	}

	c.ack(ctx, entry.ID)
}

func (c *Consumer) runPipeline(ctx context.Context, ev *domain.Event, session domain.SessionState) {
	// A panicking run is a poison entry: it is logged and dropped so the
	// caller still acknowledges it instead of blocking the stream.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("workflow run panicked",
				slog.String("user_id", ev.UserID),
				slog.Any("panic", r))
		}
	}()

	ctx, span := c.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("user_id", ev.UserID),
			attribute.String("session_id", ev.SessionID),
			attribute.String("event_type", ev.EventType),
		))
	defer span.End()

	state := c.buildState(ctx, ev, session)

	c.logger.Info("triggering workflow",
		slog.String("user_id", ev.UserID),
		slog.String("session_id", ev.SessionID),
		slog.String("event_type", ev.EventType))

	result := c.runner.Run(ctx, state)

	stuckPoint := "n/a"
	if result.Diagnosis != nil {
		stuckPoint = result.Diagnosis.StuckPoint
	}
	c.logger.Info("workflow complete",
		slog.String("user_id", ev.UserID),
		slog.String("stuck_point", stuckPoint),
		slog.Bool("escalated", result.Escalation != nil))
}

// buildState assembles the pipeline inputs by fanning in reads from the
// persistence and session collaborators. Absent data never aborts the
// run: an empty baseline and a default company configuration are valid
// inputs that the stages degrade around.
func (c *Consumer) buildState(ctx context.Context, ev *domain.Event, session domain.SessionState) *domain.PipelineState {
	state := &domain.PipelineState{
		UserID:              ev.UserID,
		CompanyID:           ev.CompanyID,
		SessionID:           ev.SessionID,
		SessionState:        session,
		Tone:                domain.DefaultTone(),
		EscalationThreshold: domain.DefaultEscalationThreshold,
	}

	events, err := c.store.SessionEvents(ctx, ev.UserID, ev.SessionID)
	if err != nil {
		c.logger.Warn("session event history unavailable",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()))
		events = []domain.Event{*ev}
	}
	state.SessionEvents = events

	baseline, err := c.store.ActiveBaseline(ctx, ev.CompanyID)
	switch {
	case err == nil:
		state.BaselineSequence = baseline.Sequence
	case errorsIsNotFound(err):
		// No active baseline configured; stages handle the empty path.
	default:
		c.logger.Warn("baseline lookup failed",
			slog.String("company_id", ev.CompanyID),
			slog.String("error", err.Error()))
	}

	company, err := c.store.CompanyByID(ctx, ev.CompanyID)
	if err == nil && company != nil {
		state.Tone = company.Tone
		if company.EscalationThreshold > 0 {
			state.EscalationThreshold = company.EscalationThreshold
		}
	} else if err != nil && !errorsIsNotFound(err) {
		c.logger.Warn("company lookup failed",
			slog.String("company_id", ev.CompanyID),
			slog.String("error", err.Error()))
	}

	return state
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.log.Ack(ctx, entryID); err != nil {
		c.logger.Error("ack failed",
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()))
	}
}
