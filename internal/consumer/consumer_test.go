package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/workflow"
)

type readResult struct {
	entries []ports.StreamEntry
	err     error
}

// mockLog serves a scripted sequence of reads, then cancels the
// consumer's context to end the loop.
type mockLog struct {
	reads     []readResult
	i         int
	acks      []string
	groupErr  error
	cancel    context.CancelFunc
	groupMade bool
}

func (l *mockLog) EnsureGroup(ctx context.Context) error {
	l.groupMade = true
	return l.groupErr
}

func (l *mockLog) Read(ctx context.Context, count int64, block time.Duration) ([]ports.StreamEntry, error) {
	if l.i >= len(l.reads) {
		l.cancel()
		return nil, context.Canceled
	}
	r := l.reads[l.i]
	l.i++
	return r.entries, r.err
}

func (l *mockLog) Ack(ctx context.Context, entryID string) error {
	l.acks = append(l.acks, entryID)
	return nil
}

func (l *mockLog) Append(ctx context.Context, ev *domain.Event) error { return nil }

type mockSessions struct {
	state domain.SessionState
	err   error
}

func (s *mockSessions) Get(ctx context.Context, userID string) (domain.SessionState, error) {
	if s.err != nil {
		return domain.SessionState{}, s.err
	}
	return s.state, nil
}

func (s *mockSessions) Put(ctx context.Context, userID string, state domain.SessionState, ttl time.Duration) error {
	return nil
}

type mockStore struct {
	ports.Store

	events      []domain.Event
	eventsErr   error
	baseline    *domain.Baseline
	baselineErr error
	company     *domain.Company
	companyErr  error
}

func (s *mockStore) SessionEvents(ctx context.Context, userID, sessionID string) ([]domain.Event, error) {
	return s.events, s.eventsErr
}

func (s *mockStore) ActiveBaseline(ctx context.Context, companyID string) (*domain.Baseline, error) {
	if s.baselineErr != nil {
		return nil, s.baselineErr
	}
	return s.baseline, nil
}

func (s *mockStore) CompanyByID(ctx context.Context, id string) (*domain.Company, error) {
	if s.companyErr != nil {
		return nil, s.companyErr
	}
	return s.company, nil
}

type mockRunner struct {
	states []*domain.PipelineState
	panics bool
}

func (r *mockRunner) Run(ctx context.Context, state *domain.PipelineState) *domain.PipelineState {
	r.states = append(r.states, state)
	if r.panics {
		panic("stage exploded")
	}
	state.Completed = true
	return state
}

func entry(id string, values map[string]string) ports.StreamEntry {
	return ports.StreamEntry{ID: id, Values: values}
}

func stuckEntry(id, userID string) ports.StreamEntry {
	return entry(id, map[string]string{
		"user_id":    userID,
		"company_id": "c1",
		"session_id": "s1",
		"event_type": "help_click",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func runConsumer(t *testing.T, log *mockLog, sessions *mockSessions, store *mockStore, runner *mockRunner) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log.cancel = cancel

	c := New(log, sessions, store, runner, slog.New(slog.DiscardHandler), Config{
		Backoff: time.Millisecond,
	})
	return c.Run(ctx)
}

func TestConsumer_StuckEventTriggersAndAcks(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{stuckEntry("1-0", "u1")}},
	}}
	runner := &mockRunner{}
	store := &mockStore{
		baselineErr: domain.ErrNotFound,
		companyErr:  domain.ErrNotFound,
	}

	err := runConsumer(t, log, &mockSessions{}, store, runner)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	if !log.groupMade {
		t.Error("consumer must ensure its group on startup")
	}
	if len(runner.states) != 1 {
		t.Fatalf("runner invoked %d times, want 1", len(runner.states))
	}
	if len(log.acks) != 1 || log.acks[0] != "1-0" {
		t.Errorf("acks = %v", log.acks)
	}

	state := runner.states[0]
	if state.UserID != "u1" || state.CompanyID != "c1" || state.SessionID != "s1" {
		t.Errorf("state identities = %s/%s/%s", state.UserID, state.CompanyID, state.SessionID)
	}
	if state.EscalationThreshold != domain.DefaultEscalationThreshold {
		t.Errorf("threshold = %d, want default", state.EscalationThreshold)
	}
}

func TestConsumer_NonTriggerEventStillAcked(t *testing.T) {
	now := time.Now().UTC()
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{entry("1-0", map[string]string{
			"user_id":    "u1",
			"company_id": "c1",
			"session_id": "s1",
			"event_type": "page_view",
		})}},
	}}
	runner := &mockRunner{}
	sessions := &mockSessions{state: domain.SessionState{
		LastEvent:     "page_view",
		LastTimestamp: now.Format(time.RFC3339),
	}}

	runConsumer(t, log, sessions, &mockStore{}, runner)

	if len(runner.states) != 0 {
		t.Error("fresh session with non-stuck event must not trigger")
	}
	if len(log.acks) != 1 {
		t.Errorf("acks = %v", log.acks)
	}
}

func TestConsumer_UndecodableEntryAckedAndSkipped(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{
			entry("1-0", map[string]string{"event_type": "help_click"}), // no user_id
			stuckEntry("1-1", "u2"),
		}},
	}}
	runner := &mockRunner{}

	runConsumer(t, log, &mockSessions{}, &mockStore{baselineErr: domain.ErrNotFound, companyErr: domain.ErrNotFound}, runner)

	if len(runner.states) != 1 || runner.states[0].UserID != "u2" {
		t.Errorf("runner states = %+v", runner.states)
	}
	// Both entries acked, in read order.
	if len(log.acks) != 2 || log.acks[0] != "1-0" || log.acks[1] != "1-1" {
		t.Errorf("acks = %v", log.acks)
	}
}

func TestConsumer_PanickingRunStillAcks(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{stuckEntry("1-0", "u1")}},
	}}
	runner := &mockRunner{panics: true}

	runConsumer(t, log, &mockSessions{}, &mockStore{baselineErr: domain.ErrNotFound, companyErr: domain.ErrNotFound}, runner)

	if len(log.acks) != 1 {
		t.Errorf("poison entry must still be acked, acks = %v", log.acks)
	}
}

func TestConsumer_ReadErrorBacksOffAndContinues(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{err: errors.New("connection reset")},
		{entries: []ports.StreamEntry{stuckEntry("2-0", "u1")}},
	}}
	runner := &mockRunner{}

	runConsumer(t, log, &mockSessions{}, &mockStore{baselineErr: domain.ErrNotFound, companyErr: domain.ErrNotFound}, runner)

	if len(runner.states) != 1 {
		t.Errorf("consumer should survive a read error, states = %d", len(runner.states))
	}
}

func TestConsumer_EmptyBatchIsNormal(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{}, // empty batch
		{entries: []ports.StreamEntry{stuckEntry("3-0", "u1")}},
	}}
	runner := &mockRunner{}

	runConsumer(t, log, &mockSessions{}, &mockStore{baselineErr: domain.ErrNotFound, companyErr: domain.ErrNotFound}, runner)

	if len(runner.states) != 1 {
		t.Errorf("states = %d, want 1", len(runner.states))
	}
}

func TestConsumer_EnsureGroupFailureIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &mockLog{groupErr: errors.New("no redis"), cancel: cancel}
	c := New(log, &mockSessions{}, &mockStore{}, &mockRunner{}, slog.New(slog.DiscardHandler), Config{})

	if err := c.Run(ctx); err == nil {
		t.Fatal("expected error when group cannot be ensured")
	}
}

func TestConsumer_AssemblesCompanyConfigAndBaseline(t *testing.T) {
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{stuckEntry("4-0", "u1")}},
	}}
	runner := &mockRunner{}
	store := &mockStore{
		events: []domain.Event{{EventType: "page_view"}, {EventType: "help_click"}},
		baseline: &domain.Baseline{
			CompanyID: "c1",
			Sequence:  []domain.BaselineStep{{EventType: "signup", Label: "Sign up"}},
			Active:    true,
		},
		company: &domain.Company{
			ID:                  "c1",
			Tone:                domain.ToneSettings{Voice: "professional", Formality: "formal"},
			EscalationThreshold: 5,
		},
	}

	runConsumer(t, log, &mockSessions{}, store, runner)

	if len(runner.states) != 1 {
		t.Fatalf("states = %d", len(runner.states))
	}
	state := runner.states[0]
	if state.EscalationThreshold != 5 {
		t.Errorf("threshold = %d, want 5", state.EscalationThreshold)
	}
	if state.Tone.Voice != "professional" {
		t.Errorf("tone = %+v", state.Tone)
	}
	if len(state.BaselineSequence) != 1 || len(state.SessionEvents) != 2 {
		t.Errorf("baseline = %d events = %d", len(state.BaselineSequence), len(state.SessionEvents))
	}
}

type stubStage struct {
	name   string
	update *domain.StateUpdate
	calls  int
}

func (s *stubStage) Name() string { return s.name }
func (s *stubStage) Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate {
	s.calls++
	return s.update
}

type nudgeStore struct {
	ports.Store
	inserts int
}

func (s *nudgeStore) InsertNudge(ctx context.Context, n *domain.NudgeRecord) error {
	s.inserts++
	return nil
}

type replayCounter struct {
	counts map[string]int64
}

func (c *replayCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

type nullPublisher struct{}

func (nullPublisher) Publish(ctx context.Context, userID string, payload []byte) error { return nil }

// A crash before ack makes the log redeliver an entry. Each replay is a
// full independent run, so the counter must equal the number of deliver
// invocations and every replay must still be acknowledged.
func TestConsumer_ReplayedEntryCountsEachDelivery(t *testing.T) {
	entry := stuckEntry("5-0", "u1")
	log := &mockLog{reads: []readResult{
		{entries: []ports.StreamEntry{entry}},
		{entries: []ports.StreamEntry{entry}},
	}}

	deliverStore := &nudgeStore{}
	counter := &replayCounter{}
	escalate := &stubStage{name: "escalate", update: &domain.StateUpdate{Completed: true}}
	engine := workflow.NewOnboardingEngine(
		&stubStage{name: "diagnose", update: &domain.StateUpdate{
			Diagnosis: &domain.Diagnosis{StuckPoint: "pricing_page", ConfidenceScore: 0.9},
		}},
		&stubStage{name: "coach", update: &domain.StateUpdate{
			Nudge: &domain.Nudge{Type: domain.NudgeTooltip, Content: "try this", StuckPoint: "pricing_page"},
		}},
		workflow.NewDeliverStage(deliverStore, counter, nullPublisher{}, slog.New(slog.DiscardHandler)),
		escalate,
		slog.New(slog.DiscardHandler),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log.cancel = cancel

	c := New(log, &mockSessions{}, &mockStore{baselineErr: domain.ErrNotFound, companyErr: domain.ErrNotFound},
		engine, slog.New(slog.DiscardHandler), Config{Backoff: time.Millisecond})
	c.Run(ctx)

	if deliverStore.inserts != 2 {
		t.Fatalf("deliver invocations = %d, want 2", deliverStore.inserts)
	}
	key := workflow.CounterKey("u1", "pricing_page")
	if counter.counts[key] != 2 {
		t.Errorf("counter = %d, want exactly one increment per delivery", counter.counts[key])
	}
	if len(log.acks) != 2 || log.acks[0] != "5-0" || log.acks[1] != "5-0" {
		t.Errorf("acks = %v", log.acks)
	}
	// Counts 1 and 2 stay at or below the default threshold of 3.
	if escalate.calls != 0 {
		t.Errorf("escalate ran %d times, want 0", escalate.calls)
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(map[string]string{
		"user_id":           "u1",
		"company_id":        "c1",
		"session_id":        "s1",
		"event_type":        "help_click",
		"target_element_id": "help-btn",
		"timestamp":         "2025-06-01T10:00:00Z",
		"metadata":          `{"page":"checkout"}`,
	})
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.TargetElementID != "help-btn" || ev.Metadata["page"] != "checkout" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should parse")
	}
}

func TestDecodeEvent_LenientFields(t *testing.T) {
	ev, err := DecodeEvent(map[string]string{
		"user_id":    "u1",
		"session_id": "s1",
		"event_type": "click",
		"timestamp":  "garbage",
		"metadata":   "also garbage",
	})
	if err != nil {
		t.Fatalf("lenient fields must not fail decode: %v", err)
	}
	if !ev.Timestamp.IsZero() || ev.Metadata != nil {
		t.Errorf("event = %+v", ev)
	}
}

func TestDecodeEvent_MissingIdentity(t *testing.T) {
	for name, values := range map[string]map[string]string{
		"no user":    {"session_id": "s1", "event_type": "click"},
		"no session": {"user_id": "u1", "event_type": "click"},
		"no type":    {"user_id": "u1", "session_id": "s1"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeEvent(values); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
