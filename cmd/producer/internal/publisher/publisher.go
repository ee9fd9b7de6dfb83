package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher polls the quote source on a fixed interval and forwards
// every successful fetch to Kafka, keyed by symbol for partition ordering.
type Publisher struct {
	logger   *zap.Logger
	writer   KafkaWriter
	fetcher  QuoteFetcher
	clock    Clock
	symbols  []string
	interval time.Duration
}

func New(logger *zap.Logger, writer KafkaWriter, fetcher QuoteFetcher, clock Clock, symbols []string, interval time.Duration) *Publisher {
	return &Publisher{
		logger:   logger,
		writer:   writer,
		fetcher:  fetcher,
		clock:    clock,
		symbols:  symbols,
		interval: interval,
	}
}

// Run publishes one round immediately, then once per interval until ctx is
// cancelled. Cancellation interrupts the inter-round wait, so shutdown
// never blocks for a full interval.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Producer started",
		zap.Strings("symbols", p.symbols),
		zap.Duration("interval", p.interval))

	for {
		p.PublishAll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}
}

// PublishAll fetches every configured symbol concurrently. A failure on one
// symbol never blocks the others; it is logged and the round carries on.
func (p *Publisher) PublishAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range p.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			p.publishOne(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

func (p *Publisher) publishOne(ctx context.Context, symbol string) {
	quote, err := p.fetcher.Fetch(ctx, symbol)
	if err != nil {
		p.logger.Warn("Quote fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	payload, err := json.Marshal(quote)
	if err != nil {
		p.logger.Error("JSON Marshal Error", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol), // Key ensures partition ordering
		Value: payload,
	})
	if err != nil {
		p.logger.Error("Kafka Write Error", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	// Debug level helps reduce log spam in production
	p.logger.Debug("Published quote",
		zap.String("symbol", symbol),
		zap.Float64("price", quote.Price))
}
