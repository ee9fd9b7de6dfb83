package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/pkg/config"
	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

// Processor consumes quote messages and fans them out to the latest-value
// sink and the throttled history sink. Messages are sharded to workers by
// symbol, so each worker sees one symbol's quotes in delivery order and
// can keep the per-symbol baseline state locally.
type Processor struct {
	cfg        *config.Config
	logger     Logger
	latest     LatestSink
	history    HistorySink
	gate       ThrottleGate
	reader     KafkaReader
	numWorkers int
}

func NewProcessor(cfg *config.Config, logger Logger, latest LatestSink, history HistorySink, gate ThrottleGate, reader KafkaReader) *Processor {
	return &Processor{
		cfg:        cfg,
		logger:     logger,
		latest:     latest,
		history:    history,
		gate:       gate,
		reader:     reader,
		numWorkers: cfg.Processor.NumWorkers,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				if ctx.Err() != nil {
					return
				}
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			default:
				// Channel full: drop the packet. For live quotes,
				// "latest" beats "all".
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// The reader may hold a message fetched just before cancellation, so
	// the worker channels stay open until it has exited.
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

// quoteMessage is the raw wire form. Change fields are pointers so a
// producer that omits them can be told apart from one sending zeros.
type quoteMessage struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        *float64  `json:"change"`
	ChangePercent *float64  `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context prevents cancellation mid-sink-write
	ctx := context.Background()

	// Per-symbol baseline, local to this worker. Safe because sharding
	// pins a symbol to one worker for the life of the process.
	lastAccepted := make(map[string]models.Quote)

	for payload := range msgs {
		var msg quoteMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.logger.Error("Validation Error: bad JSON", zap.Error(err))
			continue
		}
		if err := validateQuote(msg); err != nil {
			p.logger.Error("Validation Error", zap.Error(err), zap.String("symbol", msg.Symbol))
			continue
		}

		prev, seen := lastAccepted[msg.Symbol]

		// Freshness guard: drop anything not strictly newer than the
		// last accepted quote for this symbol. Replays of an already
		// accepted timestamp land here too, which makes redelivery
		// idempotent.
		if seen && !msg.Timestamp.After(prev.Timestamp) {
			p.logger.Debug("Skipping stale quote",
				zap.String("symbol", msg.Symbol),
				zap.Time("ts", msg.Timestamp),
				zap.Time("last_ts", prev.Timestamp))
			continue
		}

		quote := resolveQuote(msg, prev, seen)
		lastAccepted[quote.Symbol] = quote

		// Re-marshal the resolved quote so both sinks and the ledger
		// feed always carry the full schema.
		out, err := json.Marshal(quote)
		if err != nil {
			p.logger.Error("Marshal Error", zap.Error(err), zap.String("symbol", quote.Symbol))
			continue
		}

		// Sink failures are independent and non-fatal: a latest-sink
		// error must not block the history attempt, and vice versa.
		if err := p.latest.Upsert(ctx, quote.Symbol, out); err != nil {
			p.logger.Error("Latest Sink Error", zap.Error(err), zap.String("symbol", quote.Symbol))
		}

		if p.gate.ShouldInsert(quote.Symbol, quote.Price) {
			if err := p.history.Insert(ctx, quote); err != nil {
				// Baseline not advanced; the next quote is judged
				// against the same throttle window.
				p.logger.Error("History Sink Error", zap.Error(err), zap.String("symbol", quote.Symbol))
			} else {
				p.gate.MarkInserted(quote.Symbol, quote.Price)
				p.logger.Debug("History row appended", zap.String("symbol", quote.Symbol), zap.Float64("price", quote.Price))
			}
		}

		p.logger.Debug("Processed", zap.String("symbol", quote.Symbol), zap.Int("worker_id", id))
	}
}

// resolveQuote fills in change/changePercent when the producer omitted
// them, using the previous accepted quote as baseline. With no baseline
// both are zero.
func resolveQuote(msg quoteMessage, prev models.Quote, seen bool) models.Quote {
	q := models.Quote{
		Symbol:    msg.Symbol,
		Price:     msg.Price,
		Timestamp: msg.Timestamp,
	}

	switch {
	case msg.Change != nil && msg.ChangePercent != nil:
		q.Change = *msg.Change
		q.ChangePercent = *msg.ChangePercent
	case seen && prev.Price != 0:
		q.Change = msg.Price - prev.Price
		q.ChangePercent = q.Change / prev.Price * 100
	}
	return q
}

func validateQuote(msg quoteMessage) error {
	if msg.Symbol == "" {
		return errors.New("missing symbol")
	}
	if msg.Price <= 0 || math.IsNaN(msg.Price) || math.IsInf(msg.Price, 0) {
		return errors.New("price must be a positive finite number")
	}
	if msg.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	return nil
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
