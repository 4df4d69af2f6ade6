package pool

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool/calculator"
	"github.com/defistate/microswap/protocols/router/routerabi"
)

// State is everything a pool keeps on its home chain. Mutating methods either
// apply completely or return an error without changing anything.
type State struct {
	Pool         Pool                             `json:"pool"`
	Shares       map[engine.Account]engine.Amount `json:"shares"`
	FundRequests map[uint64]*FundRequest          `json:"fundRequests"`
	// FundReplies is kept by the instance on a token's home chain: the answer
	// already given to each RequestFund, by asking chain and transfer id.
	FundReplies       map[engine.ChainID]map[uint64]FundReply `json:"fundReplies,omitempty"`
	NextTransferID    uint64                                  `json:"nextTransferId"`
	Transactions      []routerabi.Transaction                 `json:"transactions"`
	NextTransactionID uint64                                  `json:"nextTransactionId"`
	Router            *engine.ApplicationID                   `json:"router,omitempty"`
	// LiquidityInitialized is set once the creator's initial deposit has started.
	LiquidityInitialized bool `json:"liquidityInitialized,omitempty"`
}

func newState() *State {
	return &State{
		Shares:            map[engine.Account]engine.Amount{},
		FundRequests:      map[uint64]*FundRequest{},
		FundReplies:       map[engine.ChainID]map[uint64]FundReply{},
		NextTransferID:    FirstTransferID,
		NextTransactionID: FirstTransactionID,
	}
}

func (s *State) reserves() calculator.Reserves {
	return calculator.Reserves{Reserve0: s.Pool.Reserve0, Reserve1: s.Pool.Reserve1, FeeBps: s.Pool.PoolFeeBps}
}

func (s *State) feeOn() bool {
	return s.Pool.ProtocolFeeBps != 0 && !s.Pool.FeeTo.IsZero()
}

// protocolFee returns the shares owed to FeeTo for growth of the pool since the
// last liquidity event.
func (s *State) protocolFee() (engine.Amount, error) {
	if !s.feeOn() {
		return engine.Amount{}, nil
	}
	return calculator.ProtocolFeeLiquidity(s.reserves(), s.Pool.RootKLast, s.Pool.TotalSupply)
}

func (s *State) mintShares(to engine.Account, amount engine.Amount) error {
	if amount.IsZero() {
		return nil
	}
	supply, err := s.Pool.TotalSupply.Add(amount)
	if err != nil {
		return err
	}
	bal, err := s.Shares[to].Add(amount)
	if err != nil {
		return err
	}
	s.Pool.TotalSupply = supply
	s.Shares[to] = bal
	return nil
}

func (s *State) burnShares(from engine.Account, amount engine.Amount) error {
	bal, err := s.Shares[from].Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, from, s.Shares[from], amount)
	}
	supply, err := s.Pool.TotalSupply.Sub(amount)
	if err != nil {
		return err
	}
	if bal.IsZero() {
		delete(s.Shares, from)
	} else {
		s.Shares[from] = bal
	}
	s.Pool.TotalSupply = supply
	return nil
}

// updateReserves accrues the price oracle for the time the previous reserves
// were in effect, then stores the new reserves.
func (s *State) updateReserves(reserve0, reserve1 engine.Amount, now engine.Timestamp) {
	p := &s.Pool
	if p.BlockTimestamp != 0 && now > p.BlockTimestamp {
		elapsed := engine.AmountFromAttos(uint64(now.Since(p.BlockTimestamp) / time.Second))
		if price0, price1, err := calculator.PricePair(s.reserves()); err == nil && !elapsed.IsZero() {
			unit := engine.AmountFromAttos(1)
			if inc, err := price0.MulDiv(elapsed, unit); err == nil {
				p.Price0Cumulative = p.Price0Cumulative.SaturatingAdd(inc)
			}
			if inc, err := price1.MulDiv(elapsed, unit); err == nil {
				p.Price1Cumulative = p.Price1Cumulative.SaturatingAdd(inc)
			}
		}
	}
	p.Reserve0 = reserve0
	p.Reserve1 = reserve1
	p.BlockTimestamp = now
}

// bootstrap seeds virtual reserves and mints sqrt(amount0*amount1) shares to
// holder, so later deposits are priced against the virtual supply instead of
// claiming it.
func (s *State) bootstrap(amount0, amount1 engine.Amount, holder engine.Account, now engine.Timestamp) (engine.Amount, error) {
	if amount0.IsZero() || amount1.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: virtual reserves need both amounts", engine.ErrInvalidAmount)
	}
	if !s.Pool.TotalSupply.IsZero() || !s.Pool.Reserve0.IsZero() || !s.Pool.Reserve1.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: pool already has reserves", engine.ErrNotAllowed)
	}
	shares := calculator.RootK(calculator.Reserves{Reserve0: amount0, Reserve1: amount1})
	if shares.IsZero() {
		return engine.Amount{}, calculator.ErrInsufficientLiquidityMinted
	}
	if err := s.mintShares(holder, shares); err != nil {
		return engine.Amount{}, err
	}
	s.updateReserves(amount0, amount1, now)
	return shares, nil
}

// swap sells amountIn against the reserves and returns the output.
func (s *State) swap(amountIn engine.Amount, zeroForOne bool, minOut *engine.Amount, now engine.Timestamp) (engine.Amount, error) {
	r := s.reserves()
	amountOut, next, err := calculator.SimulateSwap(amountIn, zeroForOne, r)
	if err != nil {
		return engine.Amount{}, err
	}
	if amountOut.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: selling %s", ErrZeroOutput, amountIn)
	}
	if minOut != nil && amountOut.Lt(*minOut) {
		return engine.Amount{}, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, amountOut, *minOut)
	}
	var in0, in1 engine.Amount
	if zeroForOne {
		in0 = amountIn
	} else {
		in1 = amountIn
	}
	if err := calculator.CheckConstantProduct(next.Reserve0, next.Reserve1, in0, in1, r); err != nil {
		return engine.Amount{}, err
	}
	s.updateReserves(next.Reserve0, next.Reserve1, now)
	return amountOut, nil
}

// deposit is the outcome of an accepted add-liquidity.
type deposit struct {
	Amount0   engine.Amount
	Amount1   engine.Amount
	Liquidity engine.Amount
}

func (s *State) addLiquidity(intent LiquidityIntent, to engine.Account, now engine.Timestamp) (deposit, error) {
	r := s.reserves()
	amount0, amount1, err := calculator.OptimalAmounts(intent.Amount0Desired, intent.Amount1Desired, intent.Amount0Min, intent.Amount1Min, r)
	if err != nil {
		return deposit{}, err
	}
	fee, err := s.protocolFee()
	if err != nil {
		return deposit{}, err
	}
	supply, err := s.Pool.TotalSupply.Add(fee)
	if err != nil {
		return deposit{}, err
	}
	liquidity, err := calculator.Liquidity(amount0, amount1, r, supply)
	if err != nil {
		return deposit{}, err
	}
	reserve0, err := r.Reserve0.Add(amount0)
	if err != nil {
		return deposit{}, err
	}
	reserve1, err := r.Reserve1.Add(amount1)
	if err != nil {
		return deposit{}, err
	}
	if _, err := supply.Add(liquidity); err != nil {
		return deposit{}, err
	}

	if err := s.mintShares(s.Pool.FeeTo, fee); err != nil {
		return deposit{}, err
	}
	if err := s.mintShares(to, liquidity); err != nil {
		return deposit{}, err
	}
	s.updateReserves(reserve0, reserve1, now)
	if s.feeOn() {
		s.Pool.RootKLast = calculator.RootK(s.reserves())
	}
	return deposit{Amount0: amount0, Amount1: amount1, Liquidity: liquidity}, nil
}

func (s *State) removeLiquidity(owner engine.Account, liquidity engine.Amount, min0, min1 *engine.Amount, now engine.Timestamp) (engine.Amount, engine.Amount, error) {
	if s.Shares[owner].Lt(liquidity) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, owner, s.Shares[owner], liquidity)
	}
	fee, err := s.protocolFee()
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	supply, err := s.Pool.TotalSupply.Add(fee)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	r := s.reserves()
	amount0, amount1, err := calculator.BurnAmounts(liquidity, r, supply)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if min0 != nil && amount0.Lt(*min0) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: token0 %s below %s", ErrSlippage, amount0, *min0)
	}
	if min1 != nil && amount1.Lt(*min1) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: token1 %s below %s", ErrSlippage, amount1, *min1)
	}
	reserve0, err := r.Reserve0.Sub(amount0)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	reserve1, err := r.Reserve1.Sub(amount1)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}

	if err := s.mintShares(s.Pool.FeeTo, fee); err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if err := s.burnShares(owner, liquidity); err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	s.updateReserves(reserve0, reserve1, now)
	if s.feeOn() {
		s.Pool.RootKLast = calculator.RootK(s.reserves())
	}
	return amount0, amount1, nil
}

// newFundRequest stores req as Pending under a fresh transfer id.
func (s *State) newFundRequest(req FundRequest, now engine.Timestamp) *FundRequest {
	req.TransferID = s.NextTransferID
	req.Status = FundPending
	req.CreatedAt = now
	s.NextTransferID++
	stored := req.clone()
	s.FundRequests[stored.TransferID] = stored
	return stored
}

// resolveFund moves a Pending request to Success or Fail. A reply for a request
// that is already terminal changes nothing and reports resolved=false.
func (s *State) resolveFund(transferID uint64, success bool, reason string, now engine.Timestamp) (req *FundRequest, resolved bool, err error) {
	req, ok := s.FundRequests[transferID]
	if !ok {
		return nil, false, engine.NewProcessError(fmt.Errorf("%w: %d", ErrUnknownTransfer, transferID))
	}
	if req.Status != FundPending {
		return req, false, nil
	}
	if success {
		req.Status = FundSuccess
	} else {
		req.Status = FundFail
		req.Error = reason
	}
	req.ResolvedAt = now
	return req, true, nil
}

// fundReply returns the answer already given to a RequestFund.
func (s *State) fundReply(from engine.ChainID, transferID uint64) (FundReply, bool) {
	reply, ok := s.FundReplies[from][transferID]
	return reply, ok
}

func (s *State) recordFundReply(from engine.ChainID, transferID uint64, reply FundReply) {
	byID, ok := s.FundReplies[from]
	if !ok {
		byID = map[uint64]FundReply{}
		s.FundReplies[from] = byID
	}
	byID[transferID] = reply
}

// appendTransaction assigns the next id and keeps only the newest MaxTransactions entries.
func (s *State) appendTransaction(tx routerabi.Transaction) routerabi.Transaction {
	tx.ID = s.NextTransactionID
	s.NextTransactionID++
	s.Transactions = append(s.Transactions, tx)
	if over := len(s.Transactions) - MaxTransactions; over > 0 {
		s.Transactions = append(s.Transactions[:0:0], s.Transactions[over:]...)
	}
	return tx
}

func (s *State) setFeeTo(operator, account engine.Account) error {
	if operator != s.Pool.FeeToSetter {
		return fmt.Errorf("%w: %s is not the fee setter", engine.ErrNotAllowed, operator)
	}
	s.Pool.FeeTo = account
	return nil
}

func (s *State) setFeeToSetter(operator, account engine.Account) error {
	if operator != s.Pool.FeeToSetter {
		return fmt.Errorf("%w: %s is not the fee setter", engine.ErrNotAllowed, operator)
	}
	s.Pool.FeeToSetter = account
	return nil
}

// fundRequests returns requests in transfer id order. A nil status matches all;
// olderThan filters to requests created at least that long before now.
func (s *State) fundRequests(status *FundStatus, olderThan time.Duration, now engine.Timestamp) []FundRequest {
	out := make([]FundRequest, 0)
	for _, req := range s.FundRequests {
		if status != nil && req.Status != *status {
			continue
		}
		if olderThan > 0 && now.Since(req.CreatedAt) < olderThan {
			continue
		}
		out = append(out, *req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferID < out[j].TransferID })
	return out
}

func (s *State) sortedShares() []Share {
	out := make([]Share, 0, len(s.Shares))
	for acc, amt := range s.Shares {
		out = append(out, Share{Account: acc, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return accountLess(out[i].Account, out[j].Account) })
	return out
}

func accountLess(a, b engine.Account) bool {
	if c := bytes.Compare(a.ChainID[:], b.ChainID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Owner[:], b.Owner[:]) < 0
}

// transactions returns up to limit of the newest entries, oldest first.
func (s *State) transactions(limit int) []routerabi.Transaction {
	txs := s.Transactions
	if limit > 0 && len(txs) > limit {
		txs = txs[len(txs)-limit:]
	}
	return append([]routerabi.Transaction(nil), txs...)
}

func (s *State) price() (engine.Amount, engine.Amount, error) {
	return calculator.PricePair(s.reserves())
}
