package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mtrade/internal/domain"
	"mtrade/internal/ports"
)

const (
	defaultInterval       = "1m"
	defaultReconnectDelay = 5 * time.Second
	defaultPollTimeout    = 5 * time.Second
)

// LiveFeedConfig holds the dependencies and tuning for a live feed.
type LiveFeedConfig struct {
	Symbol         string
	Interval       string        // Kline interval, defaults to "1m"
	Exchange       ports.ExchangeClient
	Logger         ports.Logger
	Seed           *domain.FeatureBar // Optional initial bar for the cell
	ReconnectDelay time.Duration      // Delay between connection attempts, defaults to 5s
	PollTimeout    time.Duration      // Timeout for the HTTP poll fallback, defaults to 5s
}

// LiveFeed holds the most recently observed bar in a multi-reader cell.
// A single background ingestion task (Run) is the only writer; writes are
// whole-value replacements and intermediate values are intentionally dropped.
// Readers may observe a bar older than the true market state.
type LiveFeed struct {
	symbol         string
	interval       string
	exchange       ports.ExchangeClient
	logger         ports.Logger
	reconnectDelay time.Duration
	pollTimeout    time.Duration

	mu     sync.RWMutex
	latest *domain.FeatureBar
}

// NewLiveFeed creates a live feed. The ingestion loop is not started; callers
// launch Run on a goroutine bounded by the process-lifetime context.
func NewLiveFeed(cfg LiveFeedConfig) (*LiveFeed, error) {
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange client is required for live feed")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for live feed")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required for live feed")
	}
	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}

	f := &LiveFeed{
		symbol:         cfg.Symbol,
		interval:       cfg.Interval,
		exchange:       cfg.Exchange,
		logger:         cfg.Logger,
		reconnectDelay: cfg.ReconnectDelay,
		pollTimeout:    cfg.PollTimeout,
	}
	if cfg.Seed != nil {
		seed := *cfg.Seed
		f.latest = &seed
	}
	return f, nil
}

// NextBar returns a snapshot of the latest observed bar, or ok=false if
// nothing has arrived yet. It never blocks.
func (f *LiveFeed) NextBar() (domain.FeatureBar, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return domain.FeatureBar{}, false
	}
	return *f.latest, true
}

// Mode reports ModeLive.
func (f *LiveFeed) Mode() Mode {
	return ModeLive
}

// setLatest atomically replaces the cell. Indicator fields are left unset:
// indicators are not computed inline on live bars.
func (f *LiveFeed) setLatest(bar domain.Bar) {
	fb := domain.FeatureBar{Bar: bar}
	f.mu.Lock()
	f.latest = &fb
	f.mu.Unlock()
}

// Run drives the ingestion loop until ctx is cancelled: subscribe to the
// kline stream, overwrite the cell on each update, and on any failure fall
// back to one best-effort HTTP poll (connect failures only) before retrying
// after a fixed delay. There is no maximum retry count.
func (f *LiveFeed) Run(ctx context.Context) {
	fields := map[string]interface{}{"symbol": f.symbol, "interval": f.interval}

	for {
		doneCh, stopCh, err := f.exchange.StreamKlines(ctx, f.symbol, f.interval,
			func(bar domain.Bar) {
				f.setLatest(bar)
				f.logger.Debug(ctx, "live bar received", map[string]interface{}{"symbol": f.symbol, "close": bar.Close})
			},
			func(err error) {
				f.logger.Warn(ctx, "kline stream error", map[string]interface{}{"symbol": f.symbol, "error": err.Error()})
			},
		)
		if err != nil {
			f.logger.Warn(ctx, "kline stream connect failed, falling back to HTTP poll", fields)
			f.pollOnce(ctx)
		} else {
			f.logger.Info(ctx, "kline stream connected", fields)
			select {
			case <-doneCh:
				f.logger.Warn(ctx, "kline stream closed, reconnecting", fields)
			case <-ctx.Done():
				// Best-effort shutdown of the inner connection.
				select {
				case stopCh <- struct{}{}:
				default:
				}
				f.logger.Info(ctx, "live feed stopped", fields)
				return
			}
		}

		select {
		case <-time.After(f.reconnectDelay):
		case <-ctx.Done():
			f.logger.Info(ctx, "live feed stopped", fields)
			return
		}
	}
}

// pollOnce fetches the latest bar over REST and seeds the cell with it.
// Failures are logged and swallowed; the reconnect loop carries on.
func (f *LiveFeed) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	defer cancel()

	bars, err := f.exchange.LatestBars(pollCtx, f.symbol, f.interval, 1)
	if err != nil {
		f.logger.Warn(ctx, "HTTP poll failed", map[string]interface{}{"symbol": f.symbol, "error": err.Error()})
		return
	}
	if len(bars) == 0 {
		return
	}
	f.setLatest(bars[len(bars)-1])
	f.logger.Info(ctx, "HTTP poll seeded latest bar", map[string]interface{}{"symbol": f.symbol, "close": bars[len(bars)-1].Close})
}
