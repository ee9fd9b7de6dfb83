package testutils

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// Returning DeadlineExceeded is a clean way to stop the
		// processor read loop once the canned messages run out.
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockLatestSink records upserts in order; FailNext forces one error.
type MockLatestSink struct {
	Mu       sync.Mutex
	Upserts  []string // symbols in upsert order
	Payloads map[string][]byte
	FailNext bool
}

func NewMockLatestSink() *MockLatestSink {
	return &MockLatestSink{Payloads: make(map[string][]byte)}
}

func (m *MockLatestSink) Upsert(ctx context.Context, symbol string, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return errors.New("latest sink unavailable")
	}
	m.Upserts = append(m.Upserts, symbol)
	m.Payloads[symbol] = append([]byte(nil), payload...)
	return nil
}

// MockHistorySink records inserted quotes; FailNext forces one error.
type MockHistorySink struct {
	Mu       sync.Mutex
	Rows     []models.Quote
	FailNext bool
}

func (m *MockHistorySink) Insert(ctx context.Context, q models.Quote) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return errors.New("history sink unavailable")
	}
	m.Rows = append(m.Rows, q)
	return nil
}

// OpenGate passes everything through and records MarkInserted calls.
type OpenGate struct {
	Mu     sync.Mutex
	Marked []string
}

func (g *OpenGate) ShouldInsert(symbol string, price float64) bool { return true }

func (g *OpenGate) MarkInserted(symbol string, price float64) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	g.Marked = append(g.Marked, symbol)
}

// ClosedGate suppresses every history write.
type ClosedGate struct{}

func (ClosedGate) ShouldInsert(symbol string, price float64) bool { return false }
func (ClosedGate) MarkInserted(symbol string, price float64)      {}
