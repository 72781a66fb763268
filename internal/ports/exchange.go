package ports

import (
	"context"
	"time"

	"mtrade/internal/domain"
)

// ExchangeClient defines the interface for pulling market data from an exchange.
// This abstraction decouples the feed and ingest logic from a specific venue.
//
// StreamKlines opens a single websocket subscription; reconnect policy is the
// caller's responsibility (the live feed owns the ingestion loop).
type ExchangeClient interface {
	// StreamKlines starts a websocket stream of candlestick updates for the
	// given symbol and interval. Each parsed update is passed to handler;
	// stream-level failures go to errHandler. doneCh is closed when the
	// connection terminates for any reason; sending on stopCh shuts it down.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (doneCh, stopCh chan struct{}, err error)

	// LatestBars retrieves the most recent limit bars via REST.
	LatestBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)

	// BarsRange retrieves all bars between start and end, paging through the
	// venue's response limit as needed.
	BarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)
}
