package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	TypeMarket = "market"
	TypeLimit  = "limit"
	TypeStop   = "stop"
)

const (
	StatusPending   = "pending"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// Order is one accepted entry in the append-only order log.
// Immutable after creation.
type Order struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is an open, non-zero holding of a symbol with its cost basis.
// Exists only while Quantity > 0.
type Position struct {
	Symbol          string          `json:"symbol"`
	Quantity        int64           `json:"quantity"`
	AvgPrice        decimal.Decimal `json:"avgPrice"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	GainLoss        decimal.Decimal `json:"gainLoss"`
	GainLossPercent decimal.Decimal `json:"gainLossPercent"`
}

// OrderRequest is the input to SubmitOrder. Price is the caller-supplied
// hint; it is ignored for market orders, which resolve against the
// latest-price store.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// PriceSource resolves the current market price for a symbol. The gateway
// backs this with the latest-quote store; tests use a stub.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
}

// Ledger owns the cash balance, open positions, and order log of the
// trading simulation. All mutation is serialized through one mutex so
// concurrent orders can never oversell or double-spend.
type Ledger struct {
	logger *zap.Logger
	prices PriceSource
	clock  func() time.Time

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*Position
	orders    []Order
	nextID    int64
}

func New(logger *zap.Logger, prices PriceSource, startingBalance decimal.Decimal) *Ledger {
	return &Ledger{
		logger:    logger,
		prices:    prices,
		clock:     time.Now,
		balance:   startingBalance,
		positions: make(map[string]*Position),
		nextID:    1,
	}
}

// SubmitOrder validates, prices, and immediately fills a market/limit/stop
// order. Limit and stop orders fill at the caller-supplied price; there is
// no resting book or trigger monitoring. On any failure the ledger state
// is untouched and no order is appended.
func (l *Ledger) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := validate(req); err != nil {
		return Order{}, err
	}

	// Resolve the execution price before taking the lock; the price
	// lookup may hit the network and must not extend the critical section.
	price := req.Price
	if req.Type == TypeMarket {
		p, ok, err := l.prices.LatestPrice(ctx, req.Symbol)
		if err != nil {
			return Order{}, fmt.Errorf("resolving market price for %s: %w", req.Symbol, err)
		}
		if !ok || !p.IsPositive() {
			return Order{}, fmt.Errorf("%w: %s", ErrNoPrice, req.Symbol)
		}
		price = p
	}

	total := price.Mul(decimal.NewFromInt(req.Quantity))

	l.mu.Lock()
	defer l.mu.Unlock()

	switch req.Side {
	case SideBuy:
		if l.balance.LessThan(total) {
			return Order{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, l.balance)
		}
		l.balance = l.balance.Sub(total)
		l.applyBuy(req.Symbol, req.Quantity, price)

	case SideSell:
		pos, ok := l.positions[req.Symbol]
		if !ok || pos.Quantity < req.Quantity {
			held := int64(0)
			if ok {
				held = pos.Quantity
			}
			return Order{}, fmt.Errorf("%w: want %d, hold %d", ErrInsufficientShares, req.Quantity, held)
		}
		l.balance = l.balance.Add(total)
		pos.Quantity -= req.Quantity
		if pos.Quantity == 0 {
			delete(l.positions, req.Symbol)
		} else {
			// AvgPrice is unchanged by sells; only the derived metrics move.
			revalue(pos)
		}
	}

	order := Order{
		ID:        l.nextID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     price,
		Total:     total,
		Status:    StatusFilled,
		Timestamp: l.clock(),
	}
	l.nextID++
	l.orders = append(l.orders, order)

	l.logger.Info("Order filled",
		zap.Int64("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int64("quantity", order.Quantity),
		zap.String("price", price.String()),
		zap.String("balance", l.balance.String()))

	return order, nil
}

// applyBuy folds newQty shares at price into the position's cost-weighted
// average, creating the position on first buy.
func (l *Ledger) applyBuy(symbol string, newQty int64, price decimal.Decimal) {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, AvgPrice: price, CurrentPrice: price}
		l.positions[symbol] = pos
	} else {
		oldQty := decimal.NewFromInt(pos.Quantity)
		addQty := decimal.NewFromInt(newQty)
		cost := pos.AvgPrice.Mul(oldQty).Add(price.Mul(addQty))
		pos.AvgPrice = cost.Div(oldQty.Add(addQty))
	}
	pos.Quantity += newQty
	revalue(pos)
}

// RefreshValuation applies an accepted quote to the matching position's
// current price and derived metrics. No-op when the symbol is not held.
func (l *Ledger) RefreshValuation(q models.Quote) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[q.Symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = decimal.NewFromFloat(q.Price)
	revalue(pos)
}

func revalue(pos *Position) {
	qty := decimal.NewFromInt(pos.Quantity)
	pos.TotalValue = qty.Mul(pos.CurrentPrice)
	costBasis := qty.Mul(pos.AvgPrice)
	pos.GainLoss = pos.TotalValue.Sub(costBasis)
	if costBasis.IsPositive() {
		pos.GainLossPercent = pos.GainLoss.Div(costBasis).Mul(decimal.NewFromInt(100))
	} else {
		pos.GainLossPercent = decimal.Zero
	}
}

// Balance returns the current cash balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Positions returns a snapshot of all open positions, sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Orders returns a copy of the order log in acceptance order.
func (l *Ledger) Orders() []Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Order, len(l.orders))
	copy(out, l.orders)
	return out
}

func validate(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	switch req.Type {
	case TypeMarket:
	case TypeLimit, TypeStop:
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: %s orders require a positive price", ErrInvalidOrder, req.Type)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.Type)
	}
	return nil
}
