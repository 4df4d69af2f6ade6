package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/protocols/router"
	"github.com/defistate/microswap/protocols/token"
	"github.com/gin-gonic/gin"
)

var errNotFound = errors.New("not found")

type chainSummary struct {
	ChainID engine.ChainID       `json:"chainId"`
	Block   *engine.BlockSummary `json:"block,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	respond(c, gin.H{"status": "ok", "chains": len(s.cfg.Node.Chains())})
}

func (s *Server) chains(c *gin.Context) {
	ids := s.cfg.Node.Chains()
	out := make([]chainSummary, 0, len(ids))
	for _, id := range ids {
		summary := chainSummary{ChainID: id}
		if state, ok := s.cfg.Node.Latest(id); ok {
			block := state.Block
			summary.Block = &block
		}
		out = append(out, summary)
	}
	respond(c, out)
}

func (s *Server) chainState(c *gin.Context) {
	chain, err := parseChain(c.Param("chain"))
	if err != nil {
		fail(c, err)
		return
	}
	state, ok := s.cfg.Node.Latest(chain)
	if !ok {
		fail(c, fmt.Errorf("%w: no state for chain %s", errNotFound, chain.Short()))
		return
	}
	respond(c, state)
}

func (s *Server) nativeBalance(c *gin.Context) {
	chain, err := parseChain(c.Param("chain"))
	if err != nil {
		fail(c, err)
		return
	}
	var owner engine.Owner
	if err := owner.UnmarshalText([]byte(c.Param("owner"))); err != nil {
		fail(c, err)
		return
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()
	bal, err := s.cfg.Node.NativeBalance(ctx, chain, owner)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, bal)
}

func (s *Server) applications(c *gin.Context) {
	respond(c, s.cfg.Node.Applications())
}

type applicationResult struct {
	Descriptor microchain.ApplicationDescriptor `json:"descriptor"`
	State      *engine.ApplicationState         `json:"state,omitempty"`
}

func (s *Server) application(c *gin.Context) {
	desc, err := s.descriptor(c, "")
	if err != nil {
		fail(c, err)
		return
	}
	result := applicationResult{Descriptor: desc}
	if state, ok := s.cfg.Node.Latest(desc.CreatorChainID); ok {
		if app, ok := state.Applications[desc.ID]; ok {
			result.State = &app
		}
	}
	respond(c, result)
}

// query passes the request body to the application on its home chain, or on
// the chain named by ?chain=.
func (s *Server) query(c *gin.Context) {
	desc, err := s.descriptor(c, "")
	if err != nil {
		fail(c, err)
		return
	}
	chain := desc.CreatorChainID
	if raw := c.Query("chain"); raw != "" {
		if chain, err = parseChain(raw); err != nil {
			fail(c, err)
			return
		}
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, err)
		return
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()
	out, err := s.cfg.Node.Query(ctx, chain, desc.ID, body)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, json.RawMessage(out))
}

type operationRequest struct {
	ChainID   engine.ChainID  `json:"chainId"`
	Signer    engine.Account  `json:"signer"`
	Operation json.RawMessage `json:"operation"`
}

// execute submits an operation signed by the given account on its chain.
func (s *Server) execute(c *gin.Context) {
	desc, err := s.descriptor(c, "")
	if err != nil {
		fail(c, err)
		return
	}
	var req operationRequest
	body, err := c.GetRawData()
	if err == nil {
		err = engine.Unmarshal(body, &req)
	}
	if err != nil {
		fail(c, fmt.Errorf("decode operation request: %w", err))
		return
	}
	chain := req.ChainID
	if chain.IsZero() {
		chain = req.Signer.ChainID
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()
	out, err := s.cfg.Node.Execute(ctx, chain, desc.ID, req.Signer, req.Operation)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, buildGinErrorRespond(err))
		return
	}
	respond(c, json.RawMessage(out))
}

func (s *Server) poolReserves(c *gin.Context) {
	s.poolQuery(c, pool.Query{Kind: pool.QueryReserves}, func(r pool.QueryResponse) any { return r.Reserves })
}

func (s *Server) poolPrice(c *gin.Context) {
	s.poolQuery(c, pool.Query{Kind: pool.QueryPrice}, func(r pool.QueryResponse) any { return r.Price })
}

func (s *Server) poolTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	s.poolQuery(c, pool.Query{Kind: pool.QueryTransactions, Limit: limit}, func(r pool.QueryResponse) any { return r.Transactions })
}

func (s *Server) poolFundRequest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, fmt.Errorf("invalid transfer id: %w", err))
		return
	}
	s.poolQuery(c, pool.Query{Kind: pool.QueryFundRequest, TransferID: id}, func(r pool.QueryResponse) any { return r.FundRequest })
}

// poolFundRequests lists requests, optionally filtered by ?status= and ?olderThan= (seconds).
func (s *Server) poolFundRequests(c *gin.Context) {
	q := pool.Query{Kind: pool.QueryFundRequests}
	if raw := c.Query("status"); raw != "" {
		var status pool.FundStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			fail(c, err)
			return
		}
		q.Status = &status
	}
	if raw := c.Query("olderThan"); raw != "" {
		secs, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(c, fmt.Errorf("invalid olderThan: %w", err))
			return
		}
		q.OlderThanSeconds = secs
		q.Now = engine.TimestampFromTime(time.Now())
	}
	s.poolQuery(c, q, func(r pool.QueryResponse) any { return r.FundRequests })
}

func (s *Server) stuckRequests(c *gin.Context) {
	if s.cfg.Stuck == nil {
		respond(c, []pool.StuckRequest{})
		return
	}
	respond(c, s.cfg.Stuck.Latest())
}

func (s *Server) routerPools(c *gin.Context) {
	desc, err := s.descriptor(c, router.ModuleName)
	if err != nil {
		fail(c, err)
		return
	}
	var resp router.QueryResponse
	if err := s.ask(c, desc, router.Query{Kind: router.QueryPools}, &resp); err != nil {
		fail(c, err)
		return
	}
	respond(c, resp.Pools)
}

// routerQuote expects ?tokenIn=&tokenOut=&amountIn= with an empty token id for
// the native side, and an optional ?maxHops=.
func (s *Server) routerQuote(c *gin.Context) {
	desc, err := s.descriptor(c, router.ModuleName)
	if err != nil {
		fail(c, err)
		return
	}
	tokenIn, err := parseOptionalApplication(c.Query("tokenIn"))
	if err != nil {
		fail(c, err)
		return
	}
	tokenOut, err := parseOptionalApplication(c.Query("tokenOut"))
	if err != nil {
		fail(c, err)
		return
	}
	amountIn, err := engine.ParseAmount(c.Query("amountIn"))
	if err != nil {
		fail(c, err)
		return
	}
	maxHops, _ := strconv.Atoi(c.Query("maxHops"))
	q := router.Query{Kind: router.QueryQuote, Token0: &tokenIn, Token1: &tokenOut, AmountIn: amountIn, MaxHops: maxHops}

	var resp router.QueryResponse
	if err := s.ask(c, desc, q, &resp); err != nil {
		fail(c, err)
		return
	}
	respond(c, resp.Quote)
}

func (s *Server) tokenBalance(c *gin.Context) {
	desc, err := s.descriptor(c, token.ModuleName)
	if err != nil {
		fail(c, err)
		return
	}
	var account engine.Account
	if err := account.UnmarshalText([]byte(c.Param("account"))); err != nil {
		fail(c, err)
		return
	}
	var resp token.QueryResponse
	if err := s.ask(c, desc, token.Query{Kind: token.QueryBalance, Account: &account}, &resp); err != nil {
		fail(c, err)
		return
	}
	respond(c, resp.Balance)
}

func (s *Server) poolQuery(c *gin.Context, q pool.Query, pick func(pool.QueryResponse) any) {
	desc, err := s.descriptor(c, pool.ModuleName)
	if err != nil {
		fail(c, err)
		return
	}
	var resp pool.QueryResponse
	if err := s.ask(c, desc, q, &resp); err != nil {
		fail(c, err)
		return
	}
	respond(c, pick(resp))
}

// descriptor resolves :app, requiring module when it is not empty.
func (s *Server) descriptor(c *gin.Context, module string) (microchain.ApplicationDescriptor, error) {
	var id engine.ApplicationID
	if err := id.UnmarshalText([]byte(c.Param("app"))); err != nil {
		return microchain.ApplicationDescriptor{}, fmt.Errorf("invalid application id: %w", err)
	}
	desc, ok := s.cfg.Node.Application(id)
	if !ok {
		return desc, fmt.Errorf("%w: %s", microchain.ErrUnknownApplication, id.Short())
	}
	if module != "" && desc.Module != module {
		return desc, fmt.Errorf("%w: %s is a %s, not a %s", errNotFound, id.Short(), desc.Module, module)
	}
	return desc, nil
}

// ask runs a typed query against the application on its home chain.
func (s *Server) ask(c *gin.Context, desc microchain.ApplicationDescriptor, query, resp any) error {
	raw, err := engine.Marshal(query)
	if err != nil {
		return err
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()
	out, err := s.cfg.Node.Query(ctx, desc.CreatorChainID, desc.ID, raw)
	if err != nil {
		return err
	}
	return engine.Unmarshal(out, resp)
}

func (s *Server) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.QueryTimeout)
}

func parseChain(raw string) (engine.ChainID, error) {
	var id engine.ChainID
	if err := id.UnmarshalText([]byte(raw)); err != nil {
		return id, fmt.Errorf("invalid chain id: %w", err)
	}
	return id, nil
}

func parseOptionalApplication(raw string) (engine.ApplicationID, error) {
	var id engine.ApplicationID
	if raw == "" {
		return id, nil
	}
	if err := id.UnmarshalText([]byte(raw)); err != nil {
		return id, fmt.Errorf("invalid application id: %w", err)
	}
	return id, nil
}
