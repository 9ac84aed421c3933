package stability

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fluidity/core/events"
	nativecommon "fluidity/native/common"
)

var (
	errNilState = errors.New("stability engine: state not configured")

	// ErrInvalidAmount rejects nil or non-positive amounts.
	ErrInvalidAmount = errors.New("stability engine: amount must be positive")
	// ErrNoDeposit signals the depositor has no live stake.
	ErrNoDeposit = errors.New("stability engine: no deposit for owner")
	// ErrOffsetExceedsPool signals the coordinator asked the pool to absorb
	// more debt than it holds; the caller must offset partially instead.
	ErrOffsetExceedsPool = errors.New("stability engine: offset exceeds pool deposits")
)

const moduleName = "stability"

type engineState interface {
	GetPoolState() (*PoolState, error)
	PutPoolState(state *PoolState) error
	GetStabilityDeposit(owner common.Address) (*Deposit, error)
	PutStabilityDeposit(owner common.Address, deposit *Deposit) error
	DeleteStabilityDeposit(owner common.Address) error
	GetStabilitySum(epoch, scale uint64, asset string) (*uint256.Int, error)
	PutStabilitySum(epoch, scale uint64, asset string, sum *uint256.Int) error
	GetCollateralPot(asset string) (*big.Int, error)
	PutCollateralPot(asset string, amount *big.Int) error
}

// Engine is the stability pool: stablecoin holders stake into it, the
// liquidation coordinator offsets liquidated debt against it, and depositors
// earn the matching collateral at a discount. Depositor balances compound
// lazily from P/S snapshots on each interaction; no operation ever iterates
// the depositor set.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	entry   nativecommon.EntryGuard
}

// NewEngine constructs a stability pool engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses installs the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// TotalDeposits returns the live aggregate stake.
func (e *Engine) TotalDeposits() *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	pool, err := e.loadPool()
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(pool.TotalDeposits)
}

// CompoundedDeposit returns the depositor's current stake after all offsets
// since their last interaction.
func (e *Engine) CompoundedDeposit(owner common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.GetStabilityDeposit(owner)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		return big.NewInt(0), nil
	}
	return e.compounded(pool, deposit), nil
}

// PendingCollateralGain returns the unclaimed gain for one asset without
// mutating anything.
func (e *Engine) PendingCollateralGain(owner common.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deposit, err := e.state.GetStabilityDeposit(owner)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		return big.NewInt(0), nil
	}
	return e.gainFor(deposit, events.NormalizeAsset(asset))
}

// CollateralPot returns the pool's claimable inventory for an asset.
func (e *Engine) CollateralPot(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pot, err := e.state.GetCollateralPot(events.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if pot == nil {
		pot = big.NewInt(0)
	}
	return pot, nil
}

// Deposit stakes amount for owner. Any pending collateral gains are realized
// first, from the snapshot-time balance, and returned to the caller.
func (e *Engine) Deposit(owner common.Address, amount *big.Int) (map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.entry.Enter(); err != nil {
		return nil, err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.GetStabilityDeposit(owner)
	if err != nil {
		return nil, err
	}
	gains, err := e.realizeGains(pool, deposit)
	if err != nil {
		return nil, err
	}
	compounded := e.compounded(pool, deposit)

	newAmount := new(big.Int).Add(compounded, amount)
	pool.TotalDeposits = new(big.Int).Add(pool.TotalDeposits, amount)
	if err := e.writeSnapshot(pool, owner, newAmount); err != nil {
		return nil, err
	}
	if err := e.state.PutPoolState(pool); err != nil {
		return nil, err
	}
	e.emit(depositUpdated{Owner: owner, Amount: newAmount})
	return gains, nil
}

// Withdraw unstakes up to amount of the compounded balance. It returns the
// amount actually withdrawn together with realized gains; withdrawing the
// full compounded balance deletes the deposit.
func (e *Engine) Withdraw(owner common.Address, amount *big.Int) (*big.Int, map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := e.entry.Enter(); err != nil {
		return nil, nil, err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, nil, err
	}
	deposit, err := e.state.GetStabilityDeposit(owner)
	if err != nil {
		return nil, nil, err
	}
	if deposit == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoDeposit, owner)
	}
	gains, err := e.realizeGains(pool, deposit)
	if err != nil {
		return nil, nil, err
	}
	compounded := e.compounded(pool, deposit)

	withdrawn := new(big.Int).Set(amount)
	if withdrawn.Cmp(compounded) > 0 {
		withdrawn.Set(compounded)
	}
	remaining := new(big.Int).Sub(compounded, withdrawn)
	pool.TotalDeposits = new(big.Int).Sub(pool.TotalDeposits, withdrawn)
	if err := e.writeSnapshot(pool, owner, remaining); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPoolState(pool); err != nil {
		return nil, nil, err
	}
	e.emit(depositUpdated{Owner: owner, Amount: remaining})
	return withdrawn, gains, nil
}

// ClaimAllCollateralGains realizes every pending gain for owner and resets
// the snapshots. Gains are computed from the snapshot-time balance before
// the compounded balance is written back, so a fully consumed deposit still
// collects the collateral it earned.
func (e *Engine) ClaimAllCollateralGains(owner common.Address) (map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.entry.Enter(); err != nil {
		return nil, err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	deposit, err := e.state.GetStabilityDeposit(owner)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDeposit, owner)
	}
	gains, err := e.realizeGains(pool, deposit)
	if err != nil {
		return nil, err
	}
	compounded := e.compounded(pool, deposit)
	if err := e.writeSnapshot(pool, owner, compounded); err != nil {
		return nil, err
	}
	return gains, nil
}

// ClaimCollateralGain realizes all pending gains and returns the slice for
// one asset. The P/epoch/scale snapshot is shared across assets, so gains
// cannot be realized one asset at a time; the rest are paid out alongside.
func (e *Engine) ClaimCollateralGain(owner common.Address, asset string) (*big.Int, error) {
	gains, err := e.ClaimAllCollateralGains(owner)
	if err != nil {
		return nil, err
	}
	gain, ok := gains[events.NormalizeAsset(asset)]
	if !ok {
		gain = big.NewInt(0)
	}
	return gain, nil
}

// Offset absorbs liquidated debt against the pool in exchange for seized
// collateral. Only the liquidation coordinator calls this; it must check
// TotalDeposits first and size the offset accordingly.
func (e *Engine) Offset(asset string, debtToOffset *big.Int, collateralToAdd *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.entry.Enter(); err != nil {
		return err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if debtToOffset == nil || debtToOffset.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if collateralToAdd == nil || collateralToAdd.Sign() < 0 {
		return ErrInvalidAmount
	}
	symbol := events.NormalizeAsset(asset)
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	totalBefore := pool.TotalDeposits
	if totalBefore.Sign() == 0 || debtToOffset.Cmp(totalBefore) > 0 {
		return fmt.Errorf("%w: offset %s against %s", ErrOffsetExceedsPool, debtToOffset, totalBefore)
	}

	gainPerUnit, lossPerUnit := perUnitFactors(debtToOffset, collateralToAdd, totalBefore)

	sum, err := e.loadSum(pool.CurrentEpoch, pool.CurrentScale, symbol)
	if err != nil {
		return err
	}
	sum.Add(sum, marginalGain(gainPerUnit, pool.P))
	if err := e.state.PutStabilitySum(pool.CurrentEpoch, pool.CurrentScale, symbol, sum); err != nil {
		return err
	}

	newP, depleted, rescaled := applyLoss(pool.P, lossPerUnit)
	switch {
	case depleted:
		pool.CurrentEpoch++
		pool.CurrentScale = 0
	case rescaled:
		pool.CurrentScale++
	}
	pool.P = newP
	pool.TotalDeposits = new(big.Int).Sub(totalBefore, debtToOffset)
	pool.trackAsset(symbol)
	if err := e.state.PutPoolState(pool); err != nil {
		return err
	}

	pot, err := e.state.GetCollateralPot(symbol)
	if err != nil {
		return err
	}
	if pot == nil {
		pot = big.NewInt(0)
	}
	if err := e.state.PutCollateralPot(symbol, new(big.Int).Add(pot, collateralToAdd)); err != nil {
		return err
	}
	e.emit(debtOffset{Asset: symbol, Debt: debtToOffset, Collateral: collateralToAdd})
	return nil
}

// realizeGains computes every pending gain from the deposit's snapshots and
// deducts the payouts from the per-asset pots. It never touches the deposit
// record; callers write the refreshed snapshot afterwards.
func (e *Engine) realizeGains(pool *PoolState, deposit *Deposit) (map[string]*big.Int, error) {
	gains := make(map[string]*big.Int)
	if deposit == nil {
		return gains, nil
	}
	for _, asset := range pool.Assets {
		gain, err := e.gainFor(deposit, asset)
		if err != nil {
			return nil, err
		}
		if gain.Sign() <= 0 {
			continue
		}
		pot, err := e.state.GetCollateralPot(asset)
		if err != nil {
			return nil, err
		}
		if pot == nil {
			pot = big.NewInt(0)
		}
		// Rounding dust can leave the pot a hair short of the sum of
		// computed gains; the pot is the hard ceiling.
		if gain.Cmp(pot) > 0 {
			gain = new(big.Int).Set(pot)
		}
		if gain.Sign() <= 0 {
			continue
		}
		if err := e.state.PutCollateralPot(asset, new(big.Int).Sub(pot, gain)); err != nil {
			return nil, err
		}
		gains[asset] = gain
		e.emit(gainClaimed{Owner: deposit.Owner, Asset: asset, Amount: gain})
	}
	return gains, nil
}

func (e *Engine) gainFor(deposit *Deposit, asset string) (*big.Int, error) {
	first, err := e.loadSum(deposit.SnapshotEpoch, deposit.SnapshotScale, asset)
	if err != nil {
		return nil, err
	}
	first.Sub(first, deposit.snapshotSum(asset))
	second, err := e.loadSum(deposit.SnapshotEpoch, deposit.SnapshotScale+1, asset)
	if err != nil {
		return nil, err
	}
	return gainFromSnapshot(deposit.Amount, deposit.SnapshotP, first, second), nil
}

func (e *Engine) compounded(pool *PoolState, deposit *Deposit) *big.Int {
	if deposit == nil {
		return big.NewInt(0)
	}
	sameEpoch := deposit.SnapshotEpoch == pool.CurrentEpoch
	var scaleDiff uint64
	if sameEpoch {
		scaleDiff = pool.CurrentScale - deposit.SnapshotScale
	}
	return compoundedFromSnapshot(deposit.Amount, deposit.SnapshotP, pool.P, scaleDiff, sameEpoch)
}

// writeSnapshot persists the deposit with fresh P/S/epoch/scale snapshots,
// or deletes it once the balance reaches zero.
func (e *Engine) writeSnapshot(pool *PoolState, owner common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return e.state.DeleteStabilityDeposit(owner)
	}
	snapshot := &Deposit{
		Owner:         owner,
		Amount:        amount,
		SnapshotP:     new(uint256.Int).Set(pool.P),
		SnapshotEpoch: pool.CurrentEpoch,
		SnapshotScale: pool.CurrentScale,
		SnapshotS:     make(map[string]*uint256.Int, len(pool.Assets)),
	}
	for _, asset := range pool.Assets {
		sum, err := e.loadSum(pool.CurrentEpoch, pool.CurrentScale, asset)
		if err != nil {
			return err
		}
		snapshot.SnapshotS[asset] = sum
	}
	return e.state.PutStabilityDeposit(owner, snapshot)
}

func (e *Engine) loadPool() (*PoolState, error) {
	pool, err := e.state.GetPoolState()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolState{}
	}
	ensurePoolDefaults(pool)
	return pool, nil
}

func (e *Engine) loadSum(epoch, scale uint64, asset string) (*uint256.Int, error) {
	sum, err := e.state.GetStabilitySum(epoch, scale, asset)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		sum = new(uint256.Int)
	}
	return sum, nil
}
