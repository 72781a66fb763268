package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mtrade/internal/domain"
	"mtrade/internal/indicators"
	"mtrade/internal/market"
	"mtrade/internal/ports"
)

// ManagerConfig holds the collaborators a Manager needs.
type ManagerConfig struct {
	Logger     ports.Logger
	History    ports.DataSource     // Historical bars for backtest sessions
	Exchange   ports.ExchangeClient // Live streaming for live sessions
	Indicators indicators.Config
	Interval   string        // Kline interval for live feeds, defaults to "1m"
	FeeRate    float64       // Per-session simulation fee rate
	Reconnect  time.Duration // Live feed reconnect delay
}

// Manager is the process-wide session registry. The registry lock guards only
// the map; each entry carries its own mutex so operations on different
// sessions proceed fully concurrently while operations on one session are
// fully serialized. Sessions live until process shutdown; there is no
// eviction.
type Manager struct {
	cfg    ManagerConfig
	logger ports.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// NewManager creates a session registry.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for session manager")
	}
	if cfg.Indicators == (indicators.Config{}) {
		cfg.Indicators = indicators.DefaultConfig()
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[uuid.UUID]*entry),
	}, nil
}

// CreateBacktest eagerly fetches the historical range, computes indicators
// once over it, and registers a session replaying the result.
func (m *Manager) CreateBacktest(ctx context.Context, symbol string, start, end time.Time, initialCash float64) (uuid.UUID, error) {
	if m.cfg.History == nil {
		return uuid.Nil, fmt.Errorf("no historical data source configured")
	}

	bars, err := m.cfg.History.FetchRange(ctx, start, end)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetch historical range: %w", err)
	}

	frame := indicators.ComputeFeatures(symbol, bars, m.cfg.Indicators)
	feed := market.NewBacktestFeed(frame.Rows)

	id := m.register(feed, initialCash)
	m.logger.Info(ctx, "backtest session created", map[string]interface{}{
		"sessionID": id.String(), "symbol": symbol, "bars": len(bars),
	})
	return id, nil
}

// CreateLive registers a session fed by a live stream and starts its
// background ingestion task. ctx bounds the task's lifetime: pass the
// process context, not a request context.
func (m *Manager) CreateLive(ctx context.Context, initialCash float64, symbol string, seed *domain.FeatureBar) (uuid.UUID, error) {
	if m.cfg.Exchange == nil {
		return uuid.Nil, fmt.Errorf("no exchange client configured")
	}

	feed, err := market.NewLiveFeed(market.LiveFeedConfig{
		Symbol:         symbol,
		Interval:       m.cfg.Interval,
		Exchange:       m.cfg.Exchange,
		Logger:         m.logger,
		Seed:           seed,
		ReconnectDelay: m.cfg.Reconnect,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create live feed: %w", err)
	}
	go feed.Run(ctx)

	id := m.register(feed, initialCash)
	m.logger.Info(ctx, "live session created", map[string]interface{}{
		"sessionID": id.String(), "symbol": symbol,
	})
	return id, nil
}

func (m *Manager) register(feed market.Feed, initialCash float64) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.sessions[id] = &entry{session: New(id, feed, initialCash, m.cfg.FeeRate)}
	m.mu.Unlock()
	return id
}

// WithSession runs op with exclusive access to the session. It fails with
// ErrSessionNotFound for unknown ids; op's error propagates to the caller.
func (m *Manager) WithSession(id uuid.UUID, op func(s *Session) error) error {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrSessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return op(e.session)
}

// Snapshot is the externally visible state of a session at one instant.
type Snapshot struct {
	SessionID  uuid.UUID           `json:"session_id"`
	Mode       market.Mode         `json:"mode"`
	Account    domain.AccountState `json:"account"`
	OpenOrders []domain.Order      `json:"open_orders"`
	Bar        *domain.FeatureBar  `json:"bar,omitempty"`
}

// Step advances the session by one bar: pull the next bar from its feed,
// match resting orders against it, and return the resulting snapshot. When
// the feed has nothing (exhausted backtest, live stream not yet delivering),
// state is untouched and the snapshot's Bar is nil.
func (m *Manager) Step(id uuid.UUID) (*Snapshot, error) {
	var snap *Snapshot
	err := m.WithSession(id, func(s *Session) error {
		var stepped *domain.FeatureBar
		if bar, ok := s.Feed.NextBar(); ok {
			s.CheckFills(bar)
			stepped = &bar
		}
		snap = snapshotLocked(s)
		snap.Bar = stepped
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Inspect returns a snapshot without advancing the feed.
func (m *Manager) Inspect(id uuid.UUID) (*Snapshot, error) {
	var snap *Snapshot
	err := m.WithSession(id, func(s *Session) error {
		snap = snapshotLocked(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func snapshotLocked(s *Session) *Snapshot {
	orders := make([]domain.Order, len(s.OpenOrders))
	copy(orders, s.OpenOrders)
	return &Snapshot{
		SessionID:  s.ID,
		Mode:       s.Feed.Mode(),
		Account:    s.Account,
		OpenOrders: orders,
	}
}
