package processor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/cmd/processor/internal/processor"
	"github.com/amr-shafiq/live-stock-market/cmd/processor/internal/testutils"
	"github.com/amr-shafiq/live-stock-market/cmd/processor/internal/throttle"
	"github.com/amr-shafiq/live-stock-market/pkg/config"
	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

var t0 = time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)

func msgFor(t *testing.T, q models.Quote) kafka.Message {
	t.Helper()
	val, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Key: []byte(q.Symbol), Value: val}
}

// runProcessor drains the given messages through a single worker and
// returns once the run loop has stopped.
func runProcessor(t *testing.T, msgs []kafka.Message, latest *testutils.MockLatestSink, history *testutils.MockHistorySink, gate processor.ThrottleGate) {
	t.Helper()

	cfg := &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}
	reader := &testutils.MockKafkaReader{Messages: msgs}

	proc := processor.NewProcessor(cfg, zap.NewNop(), latest, history, gate, reader)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	proc.Run(ctx)
}

func TestProcessor_UpsertsLatestAndAppendsHistory(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}
	gate := &testutils.OpenGate{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
		msgFor(t, models.Quote{Symbol: "TSLA", Price: 250.00, Timestamp: t0}),
	}
	runProcessor(t, msgs, latest, history, gate)

	if len(latest.Upserts) != 2 {
		t.Fatalf("Expected 2 latest upserts, got %d", len(latest.Upserts))
	}
	if len(history.Rows) != 2 {
		t.Fatalf("Expected 2 history rows, got %d", len(history.Rows))
	}
	if len(gate.Marked) != 2 {
		t.Errorf("Gate should be marked once per successful append, got %d", len(gate.Marked))
	}
}

func TestProcessor_StaleAndDuplicateTimestampsDropped(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),                       // duplicate replay
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 170.00, Timestamp: t0.Add(-1 * time.Minute)}), // older
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 176.00, Timestamp: t0.Add(1 * time.Minute)}),  // fresh
	}
	runProcessor(t, msgs, latest, history, &testutils.OpenGate{})

	if len(latest.Upserts) != 2 {
		t.Errorf("Expected 2 accepted quotes, got %d upserts", len(latest.Upserts))
	}
	if len(history.Rows) != 2 {
		t.Errorf("Expected 2 history rows, got %d", len(history.Rows))
	}

	var last models.Quote
	if err := json.Unmarshal(latest.Payloads["AAPL"], &last); err != nil {
		t.Fatalf("Bad latest payload: %v", err)
	}
	if last.Price != 176.00 {
		t.Errorf("Latest sink holds %.2f, want 176.00", last.Price)
	}
}

func TestProcessor_DerivesChangeFromPreviousAccepted(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	// Wire messages with change/changePercent omitted entirely.
	raw0 := []byte(`{"symbol":"AAPL","price":100.0,"timestamp":"2025-06-01T14:30:00Z"}`)
	raw1 := []byte(`{"symbol":"AAPL","price":110.0,"timestamp":"2025-06-01T14:31:00Z"}`)
	msgs := []kafka.Message{
		{Key: []byte("AAPL"), Value: raw0},
		{Key: []byte("AAPL"), Value: raw1},
	}
	runProcessor(t, msgs, latest, history, &testutils.OpenGate{})

	if len(history.Rows) != 2 {
		t.Fatalf("Expected 2 history rows, got %d", len(history.Rows))
	}

	first := history.Rows[0]
	if first.Change != 0 || first.ChangePercent != 0 {
		t.Errorf("First quote has no baseline: change=%v pct=%v, want zeros", first.Change, first.ChangePercent)
	}

	second := history.Rows[1]
	if second.Change != 10.0 {
		t.Errorf("Change = %v, want 10.0", second.Change)
	}
	if second.ChangePercent != 10.0 {
		t.Errorf("ChangePercent = %v, want 10.0", second.ChangePercent)
	}
}

func TestProcessor_SuppliedChangePassesThrough(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 100, Change: 2.5, ChangePercent: 2.56, Timestamp: t0}),
	}
	runProcessor(t, msgs, latest, history, &testutils.OpenGate{})

	if len(history.Rows) != 1 {
		t.Fatalf("Expected 1 history row, got %d", len(history.Rows))
	}
	if history.Rows[0].Change != 2.5 || history.Rows[0].ChangePercent != 2.56 {
		t.Errorf("Supplied change fields were not preserved: %+v", history.Rows[0])
	}
}

func TestProcessor_MalformedMessagesDropped(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	msgs := []kafka.Message{
		{Key: []byte("AAPL"), Value: []byte(`{broken-json`)},
		{Key: []byte("AAPL"), Value: []byte(`{"symbol":"","price":10,"timestamp":"2025-06-01T14:30:00Z"}`)},
		{Key: []byte("AAPL"), Value: []byte(`{"symbol":"AAPL","price":-5,"timestamp":"2025-06-01T14:30:00Z"}`)},
		{Key: []byte("AAPL"), Value: []byte(`{"symbol":"AAPL","price":10}`)},
	}
	runProcessor(t, msgs, latest, history, &testutils.OpenGate{})

	if len(latest.Upserts) != 0 {
		t.Errorf("Malformed messages must not reach the latest sink, got %d upserts", len(latest.Upserts))
	}
	if len(history.Rows) != 0 {
		t.Errorf("Malformed messages must not reach the history sink, got %d rows", len(history.Rows))
	}
}

func TestProcessor_SinkFailuresAreIndependent(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	latest.FailNext = true
	history := &testutils.MockHistorySink{}
	gate := &testutils.OpenGate{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
	}
	runProcessor(t, msgs, latest, history, gate)

	// Latest write failed, history must still have been attempted.
	if len(history.Rows) != 1 {
		t.Errorf("History append should survive a latest-sink failure, got %d rows", len(history.Rows))
	}
}

func TestProcessor_FailedHistoryAppendLeavesThrottleBaseline(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{FailNext: true}
	gate := &testutils.OpenGate{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.01, Timestamp: t0.Add(time.Second)}),
	}
	runProcessor(t, msgs, latest, history, gate)

	// First append failed, second succeeded: exactly one mark.
	if len(gate.Marked) != 1 {
		t.Errorf("Expected 1 MarkInserted after the failed append, got %d", len(gate.Marked))
	}
	if len(history.Rows) != 1 {
		t.Errorf("Expected 1 history row, got %d", len(history.Rows))
	}
}

func TestProcessor_ThrottleSuppresssSmallMoves(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}
	gate := throttle.NewCache(0.1, 5*time.Minute)

	// 175.00 -> insert, 175.05 -> suppressed, 175.20 -> insert
	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.05, Timestamp: t0.Add(30 * time.Second)}),
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.20, Timestamp: t0.Add(60 * time.Second)}),
	}
	runProcessor(t, msgs, latest, history, gate)

	if len(latest.Upserts) != 3 {
		t.Errorf("Latest sink is unconditional, expected 3 upserts, got %d", len(latest.Upserts))
	}
	if len(history.Rows) != 2 {
		t.Fatalf("Expected history rows for 175.00 and 175.20 only, got %d", len(history.Rows))
	}
	if history.Rows[0].Price != 175.00 || history.Rows[1].Price != 175.20 {
		t.Errorf("Wrong history rows: %+v", history.Rows)
	}
}

// cancelThenDeliverReader cancels the run context and then hands back one
// final message, modelling a fetch that completes just as shutdown begins.
type cancelThenDeliverReader struct {
	cancel context.CancelFunc
	msg    kafka.Message
	calls  int
}

func (r *cancelThenDeliverReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.calls++
	if r.calls == 1 {
		r.cancel()
		return r.msg, nil
	}
	return kafka.Message{}, context.Canceled
}

func (r *cancelThenDeliverReader) Close() error { return nil }

func TestProcessor_ShutdownDeliversInFlightMessage(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	cfg := &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &cancelThenDeliverReader{
		cancel: cancel,
		msg:    msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
	}

	proc := processor.NewProcessor(cfg, zap.NewNop(), latest, history, &testutils.OpenGate{}, reader)

	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The message fetched alongside the cancellation must still have been
	// drained through the worker, not lost or panicked on.
	if len(latest.Upserts) != 1 {
		t.Errorf("Expected the in-flight quote to reach the latest sink, got %d upserts", len(latest.Upserts))
	}
	if len(history.Rows) != 1 {
		t.Errorf("Expected the in-flight quote to reach the history sink, got %d rows", len(history.Rows))
	}
}

func TestProcessor_ClosedGateStillUpsertsLatest(t *testing.T) {
	latest := testutils.NewMockLatestSink()
	history := &testutils.MockHistorySink{}

	msgs := []kafka.Message{
		msgFor(t, models.Quote{Symbol: "AAPL", Price: 175.00, Timestamp: t0}),
	}
	runProcessor(t, msgs, latest, history, testutils.ClosedGate{})

	if len(latest.Upserts) != 1 {
		t.Errorf("Expected unconditional latest upsert, got %d", len(latest.Upserts))
	}
	if len(history.Rows) != 0 {
		t.Errorf("Closed gate must suppress history writes, got %d rows", len(history.Rows))
	}
}
