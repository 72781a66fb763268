package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtrade/internal/domain"
	"mtrade/internal/market"
	"mtrade/internal/ports"
)

func ptr(v float64) *float64 { return &v }

func candle(low, high, close float64) domain.FeatureBar {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return domain.FeatureBar{Bar: domain.Bar{
		OpenTime:  now,
		CloseTime: now.Add(time.Minute),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
	}}
}

func newTestSession(initialCash float64) *Session {
	return New(uuid.New(), market.NewBacktestFeed(nil), initialCash, 0.001)
}

func TestApplyAction_LimitBuyEscrowsCash(t *testing.T) {
	s := newTestSession(10_000)

	err := s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Limit, Price: ptr(100)})
	require.NoError(t, err)

	require.Len(t, s.OpenOrders, 1)
	order := s.OpenOrders[0]
	assert.Equal(t, domain.Buy, order.Side)
	assert.Equal(t, 100.0, order.Price)
	assert.InDelta(t, 50.0, order.Quantity, 1e-9)
	// Principal moved into escrow immediately, no fee yet.
	assert.InDelta(t, 5_000.0, s.Account.Cash, 1e-9)
	assert.Equal(t, 0.0, s.Account.PositionQty)
}

func TestApplyAction_LimitSellEscrowsPosition(t *testing.T) {
	s := newTestSession(0)
	s.Account.PositionQty = 10
	s.Account.PositionAvgPrice = 90

	err := s.ApplyAction(ActionRequest{Side: domain.Sell, SizePct: 0.5, Type: domain.Limit, Price: ptr(120)})
	require.NoError(t, err)

	require.Len(t, s.OpenOrders, 1)
	assert.InDelta(t, 5.0, s.OpenOrders[0].Quantity, 1e-9)
	assert.InDelta(t, 5.0, s.Account.PositionQty, 1e-9)
}

func TestApplyAction_LimitWithoutPriceRejected(t *testing.T) {
	s := newTestSession(10_000)

	err := s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Limit})
	require.ErrorIs(t, err, ports.ErrPriceRequired)

	// No state change on rejection.
	assert.Equal(t, 10_000.0, s.Account.Cash)
	assert.Empty(t, s.OpenOrders)
}

func TestApplyAction_SizeOutOfRangeRejected(t *testing.T) {
	s := newTestSession(10_000)

	for _, size := range []float64{-0.1, 1.5} {
		err := s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: size, Type: domain.Market, LastPrice: ptr(100)})
		require.ErrorIs(t, err, domain.ErrSizeOutOfRange)
	}
	assert.Equal(t, 10_000.0, s.Account.Cash)
}

func TestApplyAction_MarketBuyAndSell(t *testing.T) {
	s := newTestSession(10_000)

	err := s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Market, LastPrice: ptr(100)})
	require.NoError(t, err)
	// Spend 5000 at 100 plus 0.1% fee.
	assert.InDelta(t, 10_000-5_000-5, s.Account.Cash, 1e-9)
	assert.InDelta(t, 50.0, s.Account.PositionQty, 1e-9)
	assert.InDelta(t, 100.0, s.Account.PositionAvgPrice, 1e-9)
	assert.InDelta(t, s.Account.Cash+50*100, s.Account.Equity, 1e-9)

	err = s.ApplyAction(ActionRequest{Side: domain.Sell, SizePct: 1.0, Type: domain.Market, LastPrice: ptr(110)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Account.PositionQty)
	assert.Equal(t, 0.0, s.Account.PositionAvgPrice)
	// Proceeds 5500 minus 5.5 fee.
	assert.InDelta(t, 4_995+5_500-5.5, s.Account.Cash, 1e-9)
}

func TestApplyAction_MarketWithoutReferencePrice(t *testing.T) {
	s := newTestSession(10_000)

	err := s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Market})
	require.ErrorIs(t, err, ports.ErrNoReferencePrice)
	assert.Equal(t, 10_000.0, s.Account.Cash)
}

func TestApplyAction_CancelRefundsEscrow(t *testing.T) {
	s := newTestSession(10_000)
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Limit, Price: ptr(100)}))
	require.Len(t, s.OpenOrders, 1)
	id := s.OpenOrders[0].ID

	err := s.ApplyAction(ActionRequest{CancelOrderID: id})
	require.NoError(t, err)

	// Exactly the escrowed cash comes back, no fee charged.
	assert.InDelta(t, 10_000.0, s.Account.Cash, 1e-9)
	assert.Empty(t, s.OpenOrders)
}

func TestApplyAction_CancelSellRefundsQuantity(t *testing.T) {
	s := newTestSession(0)
	s.Account.PositionQty = 8

	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Sell, SizePct: 0.25, Type: domain.Limit, Price: ptr(500)}))
	require.Len(t, s.OpenOrders, 1)

	require.NoError(t, s.ApplyAction(ActionRequest{CancelOrderID: s.OpenOrders[0].ID}))
	assert.InDelta(t, 8.0, s.Account.PositionQty, 1e-9)
	assert.Empty(t, s.OpenOrders)
}

func TestCheckFills_BuyFillsWhenLowCrosses(t *testing.T) {
	s := newTestSession(10_000)
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Limit, Price: ptr(100)}))

	// Low stays above the limit: order rests.
	s.CheckFills(candle(101, 105, 104))
	require.Len(t, s.OpenOrders, 1)
	assert.Equal(t, 0.0, s.Account.PositionQty)

	// Low touches the limit: fill, fee charged against cash only.
	s.CheckFills(candle(99, 104, 103))
	assert.Empty(t, s.OpenOrders)
	assert.InDelta(t, 50.0, s.Account.PositionQty, 1e-9)
	assert.InDelta(t, 100.0, s.Account.PositionAvgPrice, 1e-9)
	assert.InDelta(t, 5_000-100*50*0.001, s.Account.Cash, 1e-9)
	// Equity marked at candle close after the pass.
	assert.InDelta(t, s.Account.Cash+50*103, s.Account.Equity, 1e-9)
}

func TestCheckFills_SellFillsWhenHighCrosses(t *testing.T) {
	s := newTestSession(0)
	s.Account.PositionQty = 10
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Sell, SizePct: 1.0, Type: domain.Limit, Price: ptr(120)}))

	// High below the limit: order rests indefinitely.
	s.CheckFills(candle(100, 119, 110))
	require.Len(t, s.OpenOrders, 1)

	s.CheckFills(candle(110, 121, 115))
	assert.Empty(t, s.OpenOrders)
	notional := 120.0 * 10
	assert.InDelta(t, notional-notional*0.001, s.Account.Cash, 1e-9)
	assert.Equal(t, 0.0, s.Account.PositionQty)
}

func TestCheckFills_UncrossedOrderStaysOpen(t *testing.T) {
	s := newTestSession(10_000)
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.5, Type: domain.Limit, Price: ptr(50)}))

	for i := 0; i < 10; i++ {
		s.CheckFills(candle(60, 70, 65))
	}
	require.Len(t, s.OpenOrders, 1)
	assert.Equal(t, 50.0, s.OpenOrders[0].Price)
}

func TestCheckFills_MultipleRemovalsSamePass(t *testing.T) {
	// Three resting buys at staggered prices; one candle crosses the first
	// and third. Reverse-order removal must leave the middle order intact.
	s := newTestSession(30_000)
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.3, Type: domain.Limit, Price: ptr(100)}))
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.3, Type: domain.Limit, Price: ptr(40)}))
	require.NoError(t, s.ApplyAction(ActionRequest{Side: domain.Buy, SizePct: 0.3, Type: domain.Limit, Price: ptr(90)}))
	require.Len(t, s.OpenOrders, 3)

	s.CheckFills(candle(85, 110, 95))

	require.Len(t, s.OpenOrders, 1)
	assert.Equal(t, 40.0, s.OpenOrders[0].Price)

	// Both crossed orders contributed quantity.
	wantQty := 9_000.0/100 + 4_410.0/90
	assert.InDelta(t, wantQty, s.Account.PositionQty, 1e-9)
}

func TestCancelUnknownOrderIsNoop(t *testing.T) {
	s := newTestSession(1_000)
	require.NoError(t, s.ApplyAction(ActionRequest{CancelOrderID: "no-such-order"}))
	assert.Equal(t, 1_000.0, s.Account.Cash)
}
