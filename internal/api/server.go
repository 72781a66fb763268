// Package api exposes the trading core over HTTP: stateless backtests plus
// creation and stepping of interactive sessions.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mtrade/internal/backtest"
	"mtrade/internal/domain"
	"mtrade/internal/indicators"
	"mtrade/internal/ports"
	"mtrade/internal/session"
)

// defaultWindowSize is the history window used when a backtest request
// carries no explicit range.
const defaultWindowSize = 500

// Server hosts the REST API.
type Server struct {
	addr    string
	router  *gin.Engine
	logger  ports.Logger
	manager *session.Manager
	history ports.DataSource
	indCfg  indicators.Config
	btCfg   backtest.Config
	window  int

	// baseCtx bounds background work spawned by requests (live feed
	// ingestion). Set in Start; nil means context.Background().
	baseCtx context.Context
}

// ServerConfig holds the collaborators and defaults for the HTTP server.
type ServerConfig struct {
	Addr       string
	Logger     ports.Logger
	Manager    *session.Manager
	History    ports.DataSource
	Indicators indicators.Config
	Backtest   backtest.Config
	WindowSize int
}

// NewServer builds the router and wires all routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for API server")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required for API server")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.Indicators == (indicators.Config{}) {
		cfg.Indicators = indicators.DefaultConfig()
	}
	if cfg.Backtest == (backtest.Config{}) {
		cfg.Backtest = backtest.DefaultConfig()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		addr:    cfg.Addr,
		router:  router,
		logger:  cfg.Logger,
		manager: cfg.Manager,
		history: cfg.History,
		indCfg:  cfg.Indicators,
		btCfg:   cfg.Backtest,
		window:  cfg.WindowSize,
	}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/backtests", s.runBacktest)
	router.POST("/sessions/backtest", s.createBacktestSession)
	router.POST("/sessions/live", s.createLiveSession)
	router.GET("/sessions/:id", s.inspectSession)
	router.POST("/sessions/:id/actions", s.applyAction)
	router.POST("/sessions/:id/step", s.stepSession)

	return s, nil
}

// Handler exposes the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully. The same
// ctx bounds live-feed ingestion started by requests.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": s.addr})

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) liveContext() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "HTTP request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// writeError translates port errors into HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrDataGap):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSizeOutOfRange),
		errors.Is(err, ports.ErrPriceRequired),
		errors.Is(err, ports.ErrNoReferencePrice),
		errors.Is(err, ports.ErrInvalidRange),
		errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "request failed", map[string]interface{}{
			"path": c.Request.URL.Path,
		})
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- Stateless backtests ---

type backtestRequest struct {
	Symbol      string          `json:"symbol"`
	Start       *time.Time      `json:"start"`
	End         *time.Time      `json:"end"`
	Window      int             `json:"window"`
	Actions     []domain.Action `json:"actions"`
	InitialCash *float64        `json:"initial_cash"`
	FeeRate     *float64        `json:"fee_rate"`
	SlippageBPS *float64        `json:"slippage_bps"`
}

// runBacktest replays the supplied actions over a historical window in one
// deterministic pass and returns the full result. Omitted actions are Holds;
// an omitted range falls back to the most recent window of bars.
func (s *Server) runBacktest(c *gin.Context) {
	if s.history == nil {
		s.writeError(c, fmt.Errorf("no historical data source configured"))
		return
	}

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %s", ports.ErrInvalidRequest, err))
		return
	}

	var bars []domain.Bar
	var err error
	if req.Start != nil && req.End != nil {
		bars, err = s.history.FetchRange(c.Request.Context(), *req.Start, *req.End)
	} else {
		window := req.Window
		if window <= 0 {
			window = s.window
		}
		bars, err = s.history.LatestWindow(c.Request.Context(), window)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	cfg := s.btCfg
	if req.InitialCash != nil {
		cfg.InitialCash = *req.InitialCash
	}
	if req.FeeRate != nil {
		cfg.FeeRate = *req.FeeRate
	}
	if req.SlippageBPS != nil {
		cfg.SlippageBPS = *req.SlippageBPS
	}

	frame := indicators.ComputeFeatures(req.Symbol, bars, s.indCfg)
	result, err := backtest.Run(req.Actions, &frame, cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- Sessions ---

type createBacktestSessionRequest struct {
	Symbol      string    `json:"symbol"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	InitialCash *float64  `json:"initial_cash"`
}

func (s *Server) createBacktestSession(c *gin.Context) {
	var req createBacktestSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %s", ports.ErrInvalidRequest, err))
		return
	}

	cash := s.btCfg.InitialCash
	if req.InitialCash != nil {
		cash = *req.InitialCash
	}

	id, err := s.manager.CreateBacktest(c.Request.Context(), req.Symbol, req.Start, req.End, cash)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": id.String()})
}

type createLiveSessionRequest struct {
	Symbol      string   `json:"symbol"`
	InitialCash *float64 `json:"initial_cash"`
}

func (s *Server) createLiveSession(c *gin.Context) {
	var req createLiveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %s", ports.ErrInvalidRequest, err))
		return
	}

	cash := s.btCfg.InitialCash
	if req.InitialCash != nil {
		cash = *req.InitialCash
	}

	// The ingestion goroutine must outlive this request, so it is bound to
	// the server's context rather than the request's.
	id, err := s.manager.CreateLive(s.liveContext(), cash, req.Symbol, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": id.String()})
}

func (s *Server) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: malformed session id", ports.ErrInvalidRequest))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) inspectSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	snap, err := s.manager.Inspect(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type actionRequest struct {
	Side          domain.ActionSide `json:"side"`
	SizePct       float64           `json:"size_pct"`
	Type          domain.OrderType  `json:"order_type"`
	Price         *float64          `json:"price"`
	CancelOrderID string            `json:"cancel_order_id"`
	LastPrice     *float64          `json:"last_price"`
}

func (s *Server) applyAction(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %s", ports.ErrInvalidRequest, err))
		return
	}

	var snap session.Snapshot
	err := s.manager.WithSession(id, func(sess *session.Session) error {
		if err := sess.ApplyAction(session.ActionRequest{
			Side:          req.Side,
			SizePct:       req.SizePct,
			Type:          req.Type,
			Price:         req.Price,
			CancelOrderID: req.CancelOrderID,
			LastPrice:     req.LastPrice,
		}); err != nil {
			return err
		}
		orders := make([]domain.Order, len(sess.OpenOrders))
		copy(orders, sess.OpenOrders)
		snap = session.Snapshot{
			SessionID:  sess.ID,
			Mode:       sess.Feed.Mode(),
			Account:    sess.Account,
			OpenOrders: orders,
		}
		return nil
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) stepSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	snap, err := s.manager.Step(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
