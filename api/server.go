// Package api serves read-only HTTP endpoints over a microchain network, plus
// operation submission for development nodes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Node is the part of a microchain network the API reads from.
type Node interface {
	Execute(ctx context.Context, chain engine.ChainID, app engine.ApplicationID, signer engine.Account, operation []byte) ([]byte, error)
	Query(ctx context.Context, chain engine.ChainID, app engine.ApplicationID, query []byte) ([]byte, error)
	NativeBalance(ctx context.Context, chain engine.ChainID, owner engine.Owner) (engine.Amount, error)
	Latest(chain engine.ChainID) (*engine.State, bool)
	Chains() []engine.ChainID
	Applications() []microchain.ApplicationDescriptor
	Application(id engine.ApplicationID) (microchain.ApplicationDescriptor, bool)
}

// StuckReporter returns the fund requests found by the last stuck check.
type StuckReporter interface {
	Latest() []pool.StuckRequest
}

type Config struct {
	Addr         string
	Node         Node
	Gatherer     prometheus.Gatherer
	Logger       Logger
	Stuck        StuckReporter
	QueryTimeout time.Duration
	// AllowOperations enables POST /applications/:app/operations.
	AllowOperations bool
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("config: Addr is required")
	}
	if c.Node == nil {
		return errors.New("config: Node is required")
	}
	if c.Gatherer == nil {
		return errors.New("config: Gatherer is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

type Server struct {
	cfg    Config
	router *gin.Engine
	http   *http.Server
}

// APIRespond is the envelope of every JSON response.
type APIRespond struct {
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	s := &Server{cfg: cfg}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	r.GET("/chains", s.chains)
	r.GET("/chains/:chain/state", s.chainState)
	r.GET("/chains/:chain/balances/:owner", s.nativeBalance)

	r.GET("/applications", s.applications)
	r.GET("/applications/:app", s.application)
	r.POST("/applications/:app/query", s.query)
	if cfg.AllowOperations {
		r.POST("/applications/:app/operations", s.execute)
	}

	r.GET("/pools/:app/reserves", s.poolReserves)
	r.GET("/pools/:app/price", s.poolPrice)
	r.GET("/pools/:app/transactions", s.poolTransactions)
	r.GET("/pools/:app/fund-requests", s.poolFundRequests)
	r.GET("/pools/:app/fund-requests/:id", s.poolFundRequest)
	r.GET("/fund-requests/stuck", s.stuckRequests)

	r.GET("/routers/:app/pools", s.routerPools)
	r.GET("/routers/:app/quote", s.routerQuote)

	r.GET("/tokens/:app/balances/:account", s.tokenBalance)

	s.router = r
	s.http = &http.Server{Addr: cfg.Addr, Handler: r}
	return s, nil
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("API listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func respond(c *gin.Context, result any) {
	c.JSON(http.StatusOK, APIRespond{Result: result})
}

func buildGinErrorRespond(err error) APIRespond {
	errStr := err.Error()
	return APIRespond{Error: &errStr}
}

// statusFor maps lookup failures to 404 and everything else to 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, microchain.ErrUnknownChain), errors.Is(err, microchain.ErrUnknownApplication),
		errors.Is(err, errNotFound), errors.Is(err, pool.ErrUnknownTransfer):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, microchain.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), buildGinErrorRespond(err))
}
