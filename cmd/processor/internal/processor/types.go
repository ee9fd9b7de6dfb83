package processor

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	Sync() error
}

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// LatestSink is the upsert-keyed store of the most recent quote per symbol
type LatestSink interface {
	Upsert(ctx context.Context, symbol string, payload []byte) error
}

// HistorySink is the append-only store of throttle-gated quote snapshots
type HistorySink interface {
	Insert(ctx context.Context, q models.Quote) error
}

// ThrottleGate decides whether a quote produces a history row
type ThrottleGate interface {
	ShouldInsert(symbol string, price float64) bool
	MarkInserted(symbol string, price float64)
}
