package repository

import (
	"context"

	"github.com/shopspring/decimal"
)

type PriceStore interface {
	GetSnapshots(ctx context.Context, symbols []string) ([]string, error)
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	SubscribeToFeed(ctx context.Context, symbol string) error
	UnsubscribeFromFeed(ctx context.Context, symbol string) error
	RunPubSub(ctx context.Context, onMessage func(channel string, payload string))
	Close() error
}
