package notify

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/storage/sqldb"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type failingSink struct{ err error }

func (f failingSink) Name() string { return "failing" }

func (f failingSink) Publish(context.Context, Event) error { return f.err }

func TestNotifierFansOutDespiteFailures(t *testing.T) {
	mem := NewMemorySink(0)
	n := NewNotifier(failingSink{err: stdErrors.New("boom")}, nil, LogSink{}, mem)

	if got := n.Sinks(); len(got) != 3 {
		t.Fatalf("nil sinks should be dropped, got %v", got)
	}

	err := n.OnEvolutionChanged(context.Background(), evolution.Change{
		AssetID: 7, Level: 2, Stage: evolution.StageSprout, Reason: evolution.ReasonEvolved, At: at,
	})
	if err == nil {
		t.Fatalf("expected joined error from failing sink")
	}

	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("memory sink should still receive the event, got %d", len(events))
	}
	ev := events[0]
	if _, parseErr := uuid.Parse(ev.ID); parseErr != nil {
		t.Fatalf("event id is not a uuid: %q", ev.ID)
	}
	if ev.AssetID != 7 || ev.Level != 2 || ev.Reason != evolution.ReasonEvolved || !ev.At.Equal(at) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMemorySinkLimit(t *testing.T) {
	mem := NewMemorySink(2)
	for i := uint64(1); i <= 3; i++ {
		_ = mem.Publish(context.Background(), Event{AssetID: i})
	}
	events := mem.Events()
	if len(events) != 2 || events[0].AssetID != 2 || events[1].AssetID != 3 {
		t.Fatalf("unexpected retained events: %+v", events)
	}
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	client := &fakeRedis{}
	sink := newRedisSink(client, "")
	event := Event{ID: "e1", AssetID: 3, Level: 4, Stage: evolution.StageTree, Reason: evolution.ReasonOverride, At: at}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.channel != "evolve:events" {
		t.Fatalf("unexpected channel %q", client.channel)
	}
	var decoded Event
	if err := json.Unmarshal(client.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.AssetID != 3 || decoded.Stage != evolution.StageTree {
		t.Fatalf("unexpected payload: %+v", decoded)
	}

	client.err = stdErrors.New("connection reset")
	err := sink.Publish(context.Background(), event)
	if xerrors.CodeOf(err) != xerrors.CodePublishFailure {
		t.Fatalf("expected publish failure code, got %v", err)
	}
}

type fakeAMQP struct {
	key string
	msg amqp.Publishing
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if exchange != "" {
		return stdErrors.New("unexpected exchange")
	}
	f.key = key
	f.msg = msg
	return nil
}

func TestRabbitMQSinkPublishesPersistentMessage(t *testing.T) {
	ch := &fakeAMQP{}
	sink := newRabbitMQSink(ch, "evolve.events", true)
	event := Event{ID: "e2", AssetID: 9, Level: 1, Stage: evolution.StageSeedling, Reason: evolution.ReasonDevolved, At: at}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.key != "evolve.events" || ch.msg.MessageId != "e2" || ch.msg.Type != "devolved" {
		t.Fatalf("unexpected publishing: key=%s msg=%+v", ch.key, ch.msg)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" {
		t.Fatalf("expected persistent JSON message, got %+v", ch.msg)
	}
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := sqldb.Open(context.Background(), sqldb.Config{Driver: sqldb.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	journal := NewJournal(db)
	tick := at
	journal.clock = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return journal
}

func TestJournalLatestStates(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)
	changes := []evolution.Change{
		{AssetID: 1, Level: 1, Stage: evolution.StageSeedling, Reason: evolution.ReasonCreated, At: at},
		{AssetID: 2, Level: 1, Stage: evolution.StageSeedling, Reason: evolution.ReasonCreated, At: at},
		{AssetID: 1, Level: 2, Stage: evolution.StageSprout, Reason: evolution.ReasonEvolved, At: at.Add(time.Hour)},
		{AssetID: 1, Level: 5, Stage: evolution.StageAncientTree, Reason: evolution.ReasonOverride, At: at.Add(time.Hour)},
	}
	for _, change := range changes {
		if err := journal.Publish(ctx, FromChange(change)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	states, err := journal.LatestStates(ctx)
	if err != nil {
		t.Fatalf("latest states: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 assets, got %+v", states)
	}
	if states[0].AssetID != 1 || states[0].Level != 5 || !states[0].LastCheck.Equal(at.Add(time.Hour)) {
		t.Fatalf("unexpected state for asset 1: %+v", states[0])
	}
	if states[1].AssetID != 2 || states[1].Level != 1 {
		t.Fatalf("unexpected state for asset 2: %+v", states[1])
	}

	history, err := journal.History(ctx, 1, 0)
	if err != nil || len(history) != 3 {
		t.Fatalf("history: %v %+v", err, history)
	}
	if history[2].Reason != evolution.ReasonOverride {
		t.Fatalf("history out of order: %+v", history)
	}
}

func TestJournalHistoryReturnsLatestEvents(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)
	for i, level := range []evolution.Level{1, 2, 3, 4} {
		change := evolution.Change{AssetID: 7, Level: level, Reason: evolution.ReasonEvolved, At: at.Add(time.Duration(i) * time.Hour)}
		change.Stage, _ = evolution.MapLevelToStage(level)
		if err := journal.Publish(ctx, FromChange(change)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	history, err := journal.History(ctx, 7, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Level != 3 || history[1].Level != 4 {
		t.Fatalf("expected the two most recent events in order, got %+v", history)
	}
}

func TestJournalRestoresNeutralEvaluationTime(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)
	created := evolution.Change{AssetID: 1, Level: 1, Stage: evolution.StageSeedling, Reason: evolution.ReasonCreated, At: at}
	if err := journal.Publish(ctx, FromChange(created)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := journal.SaveLastCheck(ctx, 1, at.Add(5*time.Hour)); err != nil {
		t.Fatalf("save last check: %v", err)
	}
	if err := journal.SaveLastCheck(ctx, 1, at.Add(4*time.Hour)); err != nil {
		t.Fatalf("older last check: %v", err)
	}
	// 没有流水的资产只有评估时间，不参与恢复。
	if err := journal.SaveLastCheck(ctx, 9, at); err != nil {
		t.Fatalf("save orphan check: %v", err)
	}

	states, err := journal.LatestStates(ctx)
	if err != nil {
		t.Fatalf("latest states: %v", err)
	}
	if len(states) != 1 || states[0].Level != 1 || !states[0].LastCheck.Equal(at.Add(5*time.Hour)) {
		t.Fatalf("expected last check from the newest evaluation, got %+v", states)
	}

	store, err := policy.NewStore(policy.Policy{
		LowThreshold:  decimal.NewFromInt(1000),
		HighThreshold: decimal.NewFromInt(50000),
		Cooldown:      time.Hour,
		MinCooldown:   time.Minute,
		MaxCooldown:   24 * time.Hour,
	}, "static", oracle.NewStatic(decimal.NewFromInt(20000)))
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}
	engine := evolution.NewEngine(store)
	if _, err := engine.Restore(states); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := engine.Evaluate(ctx, 1, at.Add(5*time.Hour+time.Minute)); !stdErrors.Is(err, evolution.ErrCooldownActive) {
		t.Fatalf("cooldown should survive restart, got %v", err)
	}
}
