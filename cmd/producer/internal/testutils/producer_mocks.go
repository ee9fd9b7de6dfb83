package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amr-shafiq/live-stock-market/cmd/producer/internal/publisher"
	"github.com/amr-shafiq/live-stock-market/pkg/models"
	"github.com/segmentio/kafka-go"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

type MockClock struct {
	CurrentTime time.Time
	// AfterCh is returned by After when set, letting a test hold the
	// publish loop between rounds. When nil, After fires immediately.
	AfterCh chan time.Time
}

func (m *MockClock) Now() time.Time        { return m.CurrentTime }
func (m *MockClock) Sleep(d time.Duration) { m.CurrentTime = m.CurrentTime.Add(d) }

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.CurrentTime = m.CurrentTime.Add(d)
	if m.AfterCh != nil {
		return m.AfterCh
	}
	ch := make(chan time.Time, 1)
	ch <- m.CurrentTime
	return ch
}

// MockFetcher serves canned quotes per symbol and can fail selectively.
type MockFetcher struct {
	Mu      sync.Mutex
	Quotes  map[string]models.Quote
	FailFor map[string]bool
	Calls   []string
}

func (m *MockFetcher) Fetch(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls = append(m.Calls, symbol)
	if m.FailFor[symbol] {
		return models.Quote{}, errors.New("upstream error")
	}
	quote, ok := m.Quotes[symbol]
	if !ok {
		return models.Quote{}, errors.New("no quote data for " + symbol)
	}
	return quote, nil
}

type MockKafkaConn struct {
	CreatedTopics []string
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (publisher.KafkaConn, error) {
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
