package protocol

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
	ActionSubmitOrder    = "submit_order"
	ActionPortfolio      = "portfolio"
	ActionOrders         = "orders"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`

	// Order fields, only read for submit_order.
	Symbol   string  `json:"symbol,omitempty"`
	Side     string  `json:"side,omitempty"`
	Type     string  `json:"type,omitempty"`
	Quantity int64   `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "ticker", "order", "portfolio", "orders"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PortfolioView is the Data payload of a "portfolio" response.
type PortfolioView struct {
	Balance   string      `json:"balance"`
	Positions interface{} `json:"positions"`
}
