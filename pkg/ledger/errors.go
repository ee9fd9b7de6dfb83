package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a buy costs more than the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares is returned when a sell exceeds the held quantity.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrNoPrice is returned for a market order on a symbol with no quoted price yet.
	ErrNoPrice = errors.New("no price available for symbol")
	// ErrInvalidOrder is returned when the order request fails field validation.
	ErrInvalidOrder = errors.New("invalid order")
)
