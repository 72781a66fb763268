// Package binanceclient implements ports.ExchangeClient against the Binance
// spot market-data API using the go-binance library. Only public endpoints
// are used; API keys are optional.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"mtrade/internal/domain"
	"mtrade/internal/ports"
)

const (
	// Spot klines endpoint response limit per request.
	maxKlinesPerRequest = 1000

	defaultKeepalive = 15 * time.Second
)

// Client implements the ports.ExchangeClient interface using go-binance.
type Client struct {
	spot   *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey    string
	SecretKey string
	Logger    ports.Logger
	Keepalive time.Duration // Websocket ping interval (defaults to 15s)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	keepalive := cfg.Keepalive
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}

	// Keepalive pings ride on each websocket connection and stop with it.
	binance.WebsocketKeepalive = true
	binance.WebsocketTimeout = keepalive

	return &Client{
		spot:   binance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger: cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch {
		case apiErr.Code == -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case apiErr.Code == -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case apiErr.Code <= -1100 && apiErr.Code >= -1130: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// StreamKlines opens a single websocket subscription for candlestick updates.
// Reconnect policy belongs to the caller: doneCh is closed when the
// connection terminates and the caller decides whether to dial again.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (doneCh, stopCh chan struct{}, err error) {
	op := "StreamKlines"

	wsHandler := func(event *binance.WsKlineEvent) {
		bar, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, op+": failed to translate websocket kline event")
			return
		}
		handler(bar)
	}
	wsErrHandler := func(err error) {
		errHandler(c.handleError(ctx, err, op+" websocket"))
	}

	doneCh, stopCh, err = binance.WsKlineServe(symbol, interval, wsHandler, wsErrHandler)
	if err != nil {
		return nil, nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+": websocket connection established", map[string]interface{}{"symbol": symbol, "interval": interval})
	return doneCh, stopCh, nil
}

// LatestBars retrieves the most recent limit bars via REST.
func (c *Client) LatestBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	op := "LatestBars"
	klines, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// BarsRange retrieves all bars between start and end, paging through the
// endpoint's response limit.
func (c *Client) BarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	op := "BarsRange"
	var all []domain.Bar
	from := start

	for {
		klines, err := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			bar, err := translateKline(k)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
			}
			all = append(all, bar)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	c.logger.Debug(ctx, op+" complete", map[string]interface{}{"symbol": symbol, "bars": len(all)})
	return all, nil
}
