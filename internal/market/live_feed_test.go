package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtrade/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeExchange drives the live feed's handler directly from tests.
type fakeExchange struct {
	mu         sync.Mutex
	handler    func(bar domain.Bar)
	connectErr error
	latest     []domain.Bar
	latestErr  error
	connected  chan struct{}
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{connected: make(chan struct{}, 8)}
}

func (f *fakeExchange) StreamKlines(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, nil, f.connectErr
	}
	f.handler = handler
	f.connected <- struct{}{}
	return make(chan struct{}), make(chan struct{}, 1), nil
}

func (f *fakeExchange) LatestBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeExchange) BarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	return nil, nil
}

func (f *fakeExchange) push(bar domain.Bar) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(bar)
}

func TestLiveFeed_RequiresDependencies(t *testing.T) {
	_, err := NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Logger: nopLogger{}})
	assert.Error(t, err)

	_, err = NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Exchange: newFakeExchange()})
	assert.Error(t, err)

	_, err = NewLiveFeed(LiveFeedConfig{Exchange: newFakeExchange(), Logger: nopLogger{}})
	assert.Error(t, err)
}

func TestLiveFeed_EmptyUntilFirstBar(t *testing.T) {
	feed, err := NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Exchange: newFakeExchange(), Logger: nopLogger{}})
	require.NoError(t, err)

	assert.Equal(t, ModeLive, feed.Mode())
	_, ok := feed.NextBar()
	assert.False(t, ok)
}

func TestLiveFeed_SeedIsVisibleImmediately(t *testing.T) {
	seed := domain.FeatureBar{Bar: domain.Bar{Close: 123.45}}
	feed, err := NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Exchange: newFakeExchange(), Logger: nopLogger{}, Seed: &seed})
	require.NoError(t, err)

	bar, ok := feed.NextBar()
	require.True(t, ok)
	assert.Equal(t, 123.45, bar.Bar.Close)
}

func TestLiveFeed_LastValueWins(t *testing.T) {
	exchange := newFakeExchange()
	feed, err := NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Exchange: exchange, Logger: nopLogger{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	select {
	case <-exchange.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
	}

	exchange.push(domain.Bar{Close: 100})
	exchange.push(domain.Bar{Close: 101})
	exchange.push(domain.Bar{Close: 102})

	bar, ok := feed.NextBar()
	require.True(t, ok)
	assert.Equal(t, 102.0, bar.Bar.Close)

	// Snapshots are stable copies: repeated reads see the same value.
	again, ok := feed.NextBar()
	require.True(t, ok)
	assert.Equal(t, bar.Bar.Close, again.Bar.Close)
}

func TestLiveFeed_PollFallbackOnConnectFailure(t *testing.T) {
	exchange := newFakeExchange()
	exchange.connectErr = assert.AnError
	exchange.latest = []domain.Bar{{Close: 555}}

	feed, err := NewLiveFeed(LiveFeedConfig{
		Symbol:         "BTCUSDT",
		Exchange:       exchange,
		Logger:         nopLogger{},
		ReconnectDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	require.Eventually(t, func() bool {
		bar, ok := feed.NextBar()
		return ok && bar.Bar.Close == 555
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLiveFeed_IndicatorsUnsetOnLiveBars(t *testing.T) {
	exchange := newFakeExchange()
	feed, err := NewLiveFeed(LiveFeedConfig{Symbol: "BTCUSDT", Exchange: exchange, Logger: nopLogger{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	select {
	case <-exchange.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
	}

	exchange.push(domain.Bar{Close: 42})
	bar, ok := feed.NextBar()
	require.True(t, ok)
	assert.Nil(t, bar.EMAFast)
	assert.Nil(t, bar.EMASlow)
	assert.Nil(t, bar.RSI)
	assert.Nil(t, bar.CMF)
}
