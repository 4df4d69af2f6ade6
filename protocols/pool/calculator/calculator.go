package calculator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/microswap/engine"
	"github.com/holiman/uint256"
)

var (
	// basisPointDivisor is a constant representing 100% in basis points (10000).
	basisPointDivisor = uint256.NewInt(10000)

	// priceScale is the fixed point scale of prices (one whole token).
	priceScale = uint256.NewInt(1_000_000_000_000_000_000)

	one  = uint256.NewInt(1)
	five = uint256.NewInt(5)

	bigIntPool = sync.Pool{
		New: func() any {
			return new(big.Int)
		},
	}

	// ErrZeroReserve is returned when a calculation would divide by an empty reserve.
	ErrZeroReserve = errors.New("division by zero reserve")
	// ErrInsufficientLiquidity is returned when an amountOut is requested that is greater than or equal to the available reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrInsufficientLiquidityMinted is returned when a deposit would mint zero shares.
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
	// ErrInsufficientLiquidityBurned is returned when a withdrawal would return nothing.
	ErrInsufficientLiquidityBurned = errors.New("insufficient liquidity burned")
	// ErrBrokenK is returned when a swap would decrease the fee-adjusted constant product.
	ErrBrokenK = errors.New("constant product decreased")
	// ErrInvalidFee is returned for fees of 100% or more.
	ErrInvalidFee = errors.New("fee must be below 10000 bps")
)

// Reserves is the part of a pool the math needs.
type Reserves struct {
	Reserve0 engine.Amount `json:"reserve0"`
	Reserve1 engine.Amount `json:"reserve1"`
	FeeBps   uint16        `json:"feeBps"` // i.e 30 for 0.3%
}

// In returns the reserves ordered for a swap direction.
func (r Reserves) In(zeroForOne bool) (reserveIn, reserveOut engine.Amount) {
	if zeroForOne {
		return r.Reserve0, r.Reserve1
	}
	return r.Reserve1, r.Reserve0
}

// Calculator holds reusable integers to avoid allocations during calculations.
// Instances are NOT safe for concurrent use by themselves; they are managed by calculatorPool.
type Calculator struct {
	feeMultiplier   uint256.Int
	amountInWithFee uint256.Int
	numerator       uint256.Int
	denominator     uint256.Int
	product         uint256.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &Calculator{}
	},
}

func getCalculator() *Calculator { return calculatorPool.Get().(*Calculator) }

func putCalculator(c *Calculator) { calculatorPool.Put(c) }

// GetAmountOut returns floor(in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))).
// The result may be zero for dust inputs; callers treat a zero output as a rejection.
func GetAmountOut(amountIn engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, error) {
	calc := getCalculator()
	defer putCalculator(calc)
	return calc.getAmountOut(amountIn, zeroForOne, r)
}

// GetAmountIn returns the input needed to receive amountOut, rounded up.
func GetAmountIn(amountOut engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, error) {
	calc := getCalculator()
	defer putCalculator(calc)
	return calc.getAmountIn(amountOut, zeroForOne, r)
}

// SimulateSwap returns the output of a swap and the reserves after it.
func SimulateSwap(amountIn engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, Reserves, error) {
	calc := getCalculator()
	defer putCalculator(calc)
	return calc.simulateSwap(amountIn, zeroForOne, r)
}

func (c *Calculator) getAmountOut(amountIn engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, error) {
	if amountIn.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: zero input", engine.ErrInvalidAmount)
	}
	if r.FeeBps >= 10000 {
		return engine.Amount{}, ErrInvalidFee
	}
	reserveIn, reserveOut := r.In(zeroForOne)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return engine.Amount{}, ErrZeroReserve
	}

	c.feeMultiplier.Sub(basisPointDivisor, uint256.NewInt(uint64(r.FeeBps)))
	c.amountInWithFee.Mul(amountIn.Uint256(), &c.feeMultiplier)
	c.denominator.Mul(reserveIn.Uint256(), basisPointDivisor)
	c.denominator.Add(&c.denominator, &c.amountInWithFee)

	// reserveOut*amountInWithFee can exceed 256 bits; MulDivOverflow keeps a 512-bit intermediate.
	if _, overflow := c.numerator.MulDivOverflow(reserveOut.Uint256(), &c.amountInWithFee, &c.denominator); overflow {
		return engine.Amount{}, engine.ErrArithmetic
	}
	return engine.AmountFromUint256(&c.numerator)
}

func (c *Calculator) getAmountIn(amountOut engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, error) {
	if amountOut.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: zero output", engine.ErrInvalidAmount)
	}
	if r.FeeBps >= 10000 {
		return engine.Amount{}, ErrInvalidFee
	}
	reserveIn, reserveOut := r.In(zeroForOne)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return engine.Amount{}, ErrZeroReserve
	}
	if !amountOut.Lt(reserveOut) {
		return engine.Amount{}, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut, reserveOut)
	}

	// amountIn = (reserveIn * amountOut * 10000) / ((reserveOut - amountOut) * (10000 - fee)) + 1
	c.product.Mul(reserveIn.Uint256(), basisPointDivisor)

	c.feeMultiplier.Sub(basisPointDivisor, uint256.NewInt(uint64(r.FeeBps)))
	c.denominator.Sub(reserveOut.Uint256(), amountOut.Uint256())
	c.denominator.Mul(&c.denominator, &c.feeMultiplier)

	if _, overflow := c.numerator.MulDivOverflow(&c.product, amountOut.Uint256(), &c.denominator); overflow {
		return engine.Amount{}, engine.ErrArithmetic
	}
	c.numerator.Add(&c.numerator, one)
	return engine.AmountFromUint256(&c.numerator)
}

func (c *Calculator) simulateSwap(amountIn engine.Amount, zeroForOne bool, r Reserves) (engine.Amount, Reserves, error) {
	amountOut, err := c.getAmountOut(amountIn, zeroForOne, r)
	if err != nil {
		return engine.Amount{}, Reserves{}, err
	}

	next := r
	if zeroForOne {
		if next.Reserve0, err = r.Reserve0.Add(amountIn); err != nil {
			return engine.Amount{}, Reserves{}, err
		}
		if next.Reserve1, err = r.Reserve1.Sub(amountOut); err != nil {
			return engine.Amount{}, Reserves{}, err
		}
	} else {
		if next.Reserve1, err = r.Reserve1.Add(amountIn); err != nil {
			return engine.Amount{}, Reserves{}, err
		}
		if next.Reserve0, err = r.Reserve0.Sub(amountOut); err != nil {
			return engine.Amount{}, Reserves{}, err
		}
	}
	return amountOut, next, nil
}

// Quote returns the amount of B matching amountA at the current ratio, rounded down.
func Quote(amountA, reserveA, reserveB engine.Amount) (engine.Amount, error) {
	if amountA.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: zero amount", engine.ErrInvalidAmount)
	}
	if reserveA.IsZero() || reserveB.IsZero() {
		return engine.Amount{}, ErrZeroReserve
	}
	return amountA.MulDiv(reserveB, reserveA)
}

// OptimalAmounts picks the deposit that keeps the pool ratio, never exceeding the
// desired amounts and never going below the given minimums.
func OptimalAmounts(desired0, desired1 engine.Amount, min0, min1 *engine.Amount, r Reserves) (engine.Amount, engine.Amount, error) {
	if desired0.IsZero() || desired1.IsZero() {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: zero deposit", engine.ErrInvalidAmount)
	}
	if r.Reserve0.IsZero() && r.Reserve1.IsZero() {
		return desired0, desired1, nil
	}

	optimal1, err := Quote(desired0, r.Reserve0, r.Reserve1)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if !optimal1.Gt(desired1) {
		if min1 != nil && optimal1.Lt(*min1) {
			return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: token1 amount %s below minimum %s", engine.ErrInvalidAmount, optimal1, *min1)
		}
		return desired0, optimal1, nil
	}

	optimal0, err := Quote(desired1, r.Reserve1, r.Reserve0)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if optimal0.Gt(desired0) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: no deposit matches the pool ratio", engine.ErrInvalidAmount)
	}
	if min0 != nil && optimal0.Lt(*min0) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: token0 amount %s below minimum %s", engine.ErrInvalidAmount, optimal0, *min0)
	}
	return optimal0, desired1, nil
}

// Liquidity returns the shares minted for a deposit. The first provider (no shares
// outstanding) receives sqrt(amount0*amount1); later providers receive
// totalSupply*min(amount0/reserve0, amount1/reserve1), rounded down.
func Liquidity(amount0, amount1 engine.Amount, r Reserves, totalSupply engine.Amount) (engine.Amount, error) {
	calc := getCalculator()
	defer putCalculator(calc)

	if amount0.IsZero() || amount1.IsZero() {
		return engine.Amount{}, fmt.Errorf("%w: zero deposit", engine.ErrInvalidAmount)
	}

	var liquidity engine.Amount
	var err error
	if totalSupply.IsZero() || r.Reserve0.IsZero() || r.Reserve1.IsZero() {
		calc.product.Mul(amount0.Uint256(), amount1.Uint256())
		calc.product.Sqrt(&calc.product)
		liquidity, err = engine.AmountFromUint256(&calc.product)
	} else {
		var l0, l1 engine.Amount
		if l0, err = amount0.MulDiv(totalSupply, r.Reserve0); err != nil {
			return engine.Amount{}, err
		}
		if l1, err = amount1.MulDiv(totalSupply, r.Reserve1); err != nil {
			return engine.Amount{}, err
		}
		liquidity = engine.MinAmount(l0, l1)
	}
	if err != nil {
		return engine.Amount{}, err
	}
	if liquidity.IsZero() {
		return engine.Amount{}, ErrInsufficientLiquidityMinted
	}
	return liquidity, nil
}

// BurnAmounts returns the reserves owed for liquidity shares, rounded down.
func BurnAmounts(liquidity engine.Amount, r Reserves, totalSupply engine.Amount) (engine.Amount, engine.Amount, error) {
	if liquidity.IsZero() {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: zero liquidity", engine.ErrInvalidAmount)
	}
	if liquidity.Gt(totalSupply) {
		return engine.Amount{}, engine.Amount{}, fmt.Errorf("%w: liquidity %s exceeds total supply %s", ErrInsufficientLiquidity, liquidity, totalSupply)
	}
	amount0, err := liquidity.MulDiv(r.Reserve0, totalSupply)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	amount1, err := liquidity.MulDiv(r.Reserve1, totalSupply)
	if err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if amount0.IsZero() && amount1.IsZero() {
		return engine.Amount{}, engine.Amount{}, ErrInsufficientLiquidityBurned
	}
	return amount0, amount1, nil
}

// RootK returns floor(sqrt(reserve0*reserve1)).
func RootK(r Reserves) engine.Amount {
	calc := getCalculator()
	defer putCalculator(calc)

	calc.product.Mul(r.Reserve0.Uint256(), r.Reserve1.Uint256())
	calc.product.Sqrt(&calc.product)
	// The square root of a product of two 128-bit values always fits in 128 bits.
	out, _ := engine.AmountFromUint256(&calc.product)
	return out
}

// ProtocolFeeLiquidity returns the shares owed to the fee recipient for the growth of
// sqrt(k) since rootKLast: totalSupply*(rootK-rootKLast)/(5*rootK+rootKLast).
func ProtocolFeeLiquidity(r Reserves, rootKLast, totalSupply engine.Amount) (engine.Amount, error) {
	if rootKLast.IsZero() || totalSupply.IsZero() {
		return engine.Amount{}, nil
	}
	rootK := RootK(r)
	if !rootK.Gt(rootKLast) {
		return engine.Amount{}, nil
	}

	calc := getCalculator()
	defer putCalculator(calc)

	calc.numerator.Sub(rootK.Uint256(), rootKLast.Uint256())
	calc.numerator.Mul(&calc.numerator, totalSupply.Uint256())
	calc.denominator.Mul(rootK.Uint256(), five)
	calc.denominator.Add(&calc.denominator, rootKLast.Uint256())
	calc.numerator.Div(&calc.numerator, &calc.denominator)
	return engine.AmountFromUint256(&calc.numerator)
}

// PricePair returns the 18-decimal price of token0 in token1 and of token1 in token0.
func PricePair(r Reserves) (price0, price1 engine.Amount, err error) {
	if r.Reserve0.IsZero() || r.Reserve1.IsZero() {
		return engine.Amount{}, engine.Amount{}, ErrZeroReserve
	}
	scale, _ := engine.AmountFromUint256(priceScale)
	if price0, err = r.Reserve1.MulDiv(scale, r.Reserve0); err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	if price1, err = r.Reserve0.MulDiv(scale, r.Reserve1); err != nil {
		return engine.Amount{}, engine.Amount{}, err
	}
	return price0, price1, nil
}

// CheckConstantProduct verifies that the fee-adjusted product of the post-swap
// balances is not below the product of the pre-swap reserves.
func CheckConstantProduct(balance0, balance1, amount0In, amount1In engine.Amount, r Reserves) error {
	adjusted0 := bigIntPool.Get().(*big.Int)
	adjusted1 := bigIntPool.Get().(*big.Int)
	fee := bigIntPool.Get().(*big.Int)
	k := bigIntPool.Get().(*big.Int)
	defer func() {
		bigIntPool.Put(adjusted0)
		bigIntPool.Put(adjusted1)
		bigIntPool.Put(fee)
		bigIntPool.Put(k)
	}()

	divisor := basisPointDivisor.ToBig()
	fee.SetUint64(uint64(r.FeeBps))

	adjusted0.Mul(balance0.Uint256().ToBig(), divisor)
	adjusted0.Sub(adjusted0, new(big.Int).Mul(amount0In.Uint256().ToBig(), fee))
	adjusted1.Mul(balance1.Uint256().ToBig(), divisor)
	adjusted1.Sub(adjusted1, new(big.Int).Mul(amount1In.Uint256().ToBig(), fee))
	adjusted0.Mul(adjusted0, adjusted1)

	k.Mul(r.Reserve0.Uint256().ToBig(), r.Reserve1.Uint256().ToBig())
	k.Mul(k, divisor)
	k.Mul(k, divisor)

	if adjusted0.Cmp(k) < 0 {
		return ErrBrokenK
	}
	return nil
}
