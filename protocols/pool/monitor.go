package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/microswap/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// Querier answers read-only application queries on a chain.
type Querier interface {
	Query(ctx context.Context, chain engine.ChainID, app engine.ApplicationID, query []byte) ([]byte, error)
}

// Target is a pool on its home chain.
type Target struct {
	ChainID     engine.ChainID       `json:"chainId"`
	Application engine.ApplicationID `json:"application"`
}

// StuckRequest is a fund request that stayed Pending longer than the threshold.
type StuckRequest struct {
	Target  Target        `json:"target"`
	Request FundRequest   `json:"request"`
	Age     time.Duration `json:"age"`
}

type MonitorConfig struct {
	Querier Querier
	// Targets lists the pools to watch; it is called on every check.
	Targets    func() []Target
	StuckAfter time.Duration
	Interval   time.Duration
	Registerer prometheus.Registerer
	Logger     engine.Logger
}

func (c *MonitorConfig) validate() error {
	if c.Querier == nil {
		return errors.New("config: Querier is required")
	}
	if c.Targets == nil {
		return errors.New("config: Targets is required")
	}
	if c.StuckAfter <= 0 {
		return errors.New("config: StuckAfter must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("config: Interval must be positive")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Monitor raises an alarm for Pending fund requests. It never changes pool state:
// Pending requests are not expired, only surfaced.
type Monitor struct {
	cfg   MonitorConfig
	now   func() time.Time
	stuck *prometheus.GaugeVec

	mu     sync.RWMutex
	latest []StuckRequest
}

// MonitorOption configures a Monitor.
type MonitorOption interface {
	apply(*Monitor)
}

type monitorOption func(*Monitor)

func (f monitorOption) apply(m *Monitor) { f(m) }

// WithClock replaces the wall clock used to age requests.
func WithClock(now func() time.Time) MonitorOption {
	return monitorOption(func(m *Monitor) { m.now = now })
}

func NewMonitor(cfg MonitorConfig, opts ...MonitorOption) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg: cfg,
		now: time.Now,
		stuck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microswap_pool_stuck_fund_requests",
			Help: "Number of fund requests pending longer than the stuck threshold.",
		}, []string{"pool"}),
	}
	for _, opt := range opts {
		opt.apply(m)
	}
	if err := cfg.Registerer.Register(m.stuck); err != nil {
		return nil, fmt.Errorf("register stuck gauge: %w", err)
	}
	return m, nil
}

// Run checks on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
			m.cfg.Logger.Error("Stuck request check failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check queries every target once and returns the stuck requests found.
// A target that cannot be queried is logged and skipped.
func (m *Monitor) Check(ctx context.Context) ([]StuckRequest, error) {
	now := engine.TimestampFromTime(m.now())
	pending := FundPending
	query, err := engine.Marshal(Query{
		Kind:             QueryFundRequests,
		Status:           &pending,
		OlderThanSeconds: uint64(m.cfg.StuckAfter / time.Second),
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	var found []StuckRequest
	for _, target := range m.cfg.Targets() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := m.cfg.Querier.Query(ctx, target.ChainID, target.Application, query)
		if err != nil {
			m.cfg.Logger.Warn("Pool query failed", "pool", target.Application.Short(), "err", err)
			continue
		}
		var resp QueryResponse
		if err := engine.Unmarshal(raw, &resp); err != nil {
			m.cfg.Logger.Warn("Pool query returned garbage", "pool", target.Application.Short(), "err", err)
			continue
		}
		m.stuck.WithLabelValues(target.Application.String()).Set(float64(len(resp.FundRequests)))
		for _, req := range resp.FundRequests {
			age := now.Since(req.CreatedAt)
			m.cfg.Logger.Warn("Fund request stuck",
				"pool", target.Application.Short(),
				"transfer_id", req.TransferID,
				"type", req.Type.String(),
				"token_chain", req.TokenChainID.Short(),
				"age", age.String(),
			)
			found = append(found, StuckRequest{Target: target, Request: req, Age: age})
		}
	}

	m.mu.Lock()
	m.latest = found
	m.mu.Unlock()
	return found, nil
}

// Latest returns the result of the last completed check.
func (m *Monitor) Latest() []StuckRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]StuckRequest(nil), m.latest...)
}
