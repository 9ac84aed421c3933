package strategy

import (
	"math/big"
)

var ammBasisPoints = big.NewInt(10_000)

// ammPool tracks the single-sided liquidity the protocol holds in one
// constant-product pool. The pool's swap mechanics live outside this
// subsystem; the adapter only needs the protocol-owned reserve and the LP
// share bookkeeping.
type ammPool struct {
	reserve  *big.Int
	lpShares *big.Int
}

// AMMAdapter deploys collateral as liquidity into constant-product pools.
// Deposits and withdrawals pay the pool fee, so the booked amounts are always
// the post-fee values reported back by the pool.
type AMMAdapter struct {
	id     string
	feeBps uint64
	frozen bool
	pools  map[string]*ammPool
}

// NewAMMAdapter constructs an AMM adapter charging feeBps on each liquidity
// movement.
func NewAMMAdapter(id string, feeBps uint64) *AMMAdapter {
	return &AMMAdapter{
		id:     id,
		feeBps: feeBps,
		pools:  make(map[string]*ammPool),
	}
}

// SetFrozen toggles the frozen flag, simulating a halted pool.
func (a *AMMAdapter) SetFrozen(frozen bool) {
	if a == nil {
		return
	}
	a.frozen = frozen
}

// ID implements Adapter.
func (a *AMMAdapter) ID() string { return a.id }

// Deploy adds liquidity to the asset's pool. The amount actually credited is
// the requested amount minus the pool fee; LP shares are minted 1:1 against
// the credited reserve.
func (a *AMMAdapter) Deploy(asset string, amount *big.Int) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if a.frozen {
		return nil, ErrVenueFrozen
	}
	pool := a.pool(asset)
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(a.feeBps))
	fee.Quo(fee, ammBasisPoints)
	credited := new(big.Int).Sub(amount, fee)
	if credited.Sign() <= 0 {
		return &Receipt{Deployed: big.NewInt(0), Shares: big.NewInt(0)}, nil
	}
	pool.reserve = new(big.Int).Add(pool.reserve, credited)
	pool.lpShares = new(big.Int).Add(pool.lpShares, credited)
	return &Receipt{Deployed: credited, Shares: new(big.Int).Set(credited)}, nil
}

// Recall burns LP shares and returns up to the requested amount to dest. The
// result is capped by the protocol-owned reserve and reduced by the pool fee.
func (a *AMMAdapter) Recall(asset string, requested *big.Int, dest CustodySink) (*big.Int, error) {
	if requested == nil || requested.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if dest == nil {
		return nil, ErrNilSink
	}
	if a.frozen {
		return big.NewInt(0), nil
	}
	pool := a.pool(asset)
	withdraw := new(big.Int).Set(requested)
	if withdraw.Cmp(pool.reserve) > 0 {
		withdraw.Set(pool.reserve)
	}
	if withdraw.Sign() == 0 {
		return big.NewInt(0), nil
	}
	pool.reserve = new(big.Int).Sub(pool.reserve, withdraw)
	pool.lpShares = new(big.Int).Sub(pool.lpShares, withdraw)
	fee := new(big.Int).Mul(withdraw, new(big.Int).SetUint64(a.feeBps))
	fee.Quo(fee, ammBasisPoints)
	returned := new(big.Int).Sub(withdraw, fee)
	if returned.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := dest.Credit(asset, returned); err != nil {
		return nil, err
	}
	return returned, nil
}

// AvailableLiquidity reports the protocol-owned reserve. AMM liquidity is
// instantly recallable, which is why the default priority order places this
// venue first after the reserve buffer.
func (a *AMMAdapter) AvailableLiquidity(asset string) *big.Int {
	if a.frozen {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.pool(asset).reserve)
}

func (a *AMMAdapter) pool(asset string) *ammPool {
	p, ok := a.pools[asset]
	if !ok {
		p = &ammPool{reserve: big.NewInt(0), lpShares: big.NewInt(0)}
		a.pools[asset] = p
	}
	return p
}
