package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/cmd/gateway/internal/protocol"
	"github.com/amr-shafiq/live-stock-market/cmd/gateway/internal/repository"
	"github.com/amr-shafiq/live-stock-market/pkg/ledger"
	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// TradingEngine is the slice of the ledger the hub drives.
type TradingEngine interface {
	SubmitOrder(ctx context.Context, req ledger.OrderRequest) (ledger.Order, error)
	RefreshValuation(q models.Quote)
	Balance() decimal.Decimal
	Positions() []ledger.Position
	Orders() []ledger.Order
}

type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	store    repository.PriceStore
	engine   TradingEngine
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(store repository.PriceStore, engine TradingEngine, logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		store:       store,
		engine:      engine,
		logger:      logger,
		refCount:    make(map[string]int),
	}

	go h.store.RunPubSub(context.Background(), h.onPrice)

	return h
}

// TrackSymbols opens a permanent upstream subscription for each symbol so
// position valuations keep flowing even with no websocket subscribers. The
// baseline reference is never released.
func (h *Hub) TrackSymbols(symbols []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sym := range symbols {
		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			if err := h.store.SubscribeToFeed(context.Background(), sym); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req, validTickers)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	case protocol.ActionSubmitOrder:
		h.handleSubmitOrder(client, req)
	case protocol.ActionPortfolio:
		h.handlePortfolio(client, req)
	case protocol.ActionOrders:
		h.handleOrders(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var valid []string
	for _, s := range req.Payload.Symbols {
		if validTickers[s] {
			// Idempotency: Ignore if already subscribed
			if h.clientSubs[client] != nil && h.clientSubs[client][s] {
				continue
			}
			valid = append(valid, s)
		}
	}

	if len(valid) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	for _, sym := range valid {
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true

		// Manage upstream subscription (Ref counting)
		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			if err := h.store.SubscribeToFeed(context.Background(), sym); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", valid))

	// Send Snapshots (Async to avoid blocking lock)
	go func(targets []string) {
		snapshots, err := h.store.GetSnapshots(context.Background(), targets)
		if err == nil {
			for _, snap := range snapshots {
				client.SendBytes([]byte(snap))
			}
		}
	}(valid)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range req.Payload.Symbols {
			if subs[sym] {
				delete(subs, sym)
				delete(h.subscribers[sym], client)
				removed = append(removed, sym)
				h.decreaseRefCount(sym)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

func (h *Hub) handleSubmitOrder(client ClientInterface, req protocol.WSRequest) {
	order, err := h.engine.SubmitOrder(context.Background(), ledger.OrderRequest{
		Symbol:   req.Payload.Symbol,
		Side:     req.Payload.Side,
		Type:     req.Payload.Type,
		Quantity: req.Payload.Quantity,
		Price:    decimal.NewFromFloat(req.Payload.Price),
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds),
			errors.Is(err, ledger.ErrInsufficientShares),
			errors.Is(err, ledger.ErrNoPrice),
			errors.Is(err, ledger.ErrInvalidOrder):
			h.sendError(client, req.ID, err.Error())
		default:
			h.logger.Error("Order submission failed", zap.Error(err))
			h.sendError(client, req.ID, "Order could not be processed")
		}
		return
	}

	client.SendJSON(protocol.WSResponse{Type: "order", ID: req.ID, Status: "success", Data: order})
}

func (h *Hub) handlePortfolio(client ClientInterface, req protocol.WSRequest) {
	view := protocol.PortfolioView{
		Balance:   h.engine.Balance().String(),
		Positions: h.engine.Positions(),
	}
	client.SendJSON(protocol.WSResponse{Type: "portfolio", ID: req.ID, Status: "success", Data: view})
}

func (h *Hub) handleOrders(client ClientInterface, req protocol.WSRequest) {
	client.SendJSON(protocol.WSResponse{Type: "orders", ID: req.ID, Status: "success", Data: h.engine.Orders()})
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// onPrice handles one quote off the Redis feed: revalue any matching
// position first, then fan the raw payload out to subscribers.
func (h *Hub) onPrice(symbol string, payload string) {
	var q models.Quote
	if err := json.Unmarshal([]byte(payload), &q); err == nil && q.Symbol != "" {
		h.engine.RefreshValuation(q)
	}
	h.Broadcast(symbol, payload)
}

func (h *Hub) Broadcast(symbol string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[symbol]; ok {
		msgBytes := []byte(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
		}
	}
}

func (h *Hub) decreaseRefCount(symbol string) {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		if err := h.store.UnsubscribeFromFeed(context.Background(), symbol); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", symbol), zap.Error(err))
		}
		delete(h.refCount, symbol)
		delete(h.subscribers, symbol)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}
