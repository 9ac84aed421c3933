package liquidation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/core/events"
	nativecommon "fluidity/native/common"
	"fluidity/native/pricing"
)

var (
	errNilState        = errors.New("liquidation engine: state not configured")
	errNilCollaborator = errors.New("liquidation engine: collaborators not configured")

	// ErrPositionNotFound signals the borrower has no position for the asset.
	ErrPositionNotFound = errors.New("liquidation engine: position not found")
	// ErrPositionNotLiquidatable signals the position is healthy or already
	// terminal; callers should not retry without a state change.
	ErrPositionNotLiquidatable = errors.New("liquidation engine: position not liquidatable")
	// ErrPriceUnavailable signals a missing or stale oracle quote; the engine
	// refuses to judge position health without a price.
	ErrPriceUnavailable = errors.New("liquidation engine: price unavailable")
	// ErrInvalidParams rejects malformed thresholds or amounts.
	ErrInvalidParams = errors.New("liquidation engine: invalid parameters")
)

const (
	moduleName = "liquidation"

	basisPointsDenom = 10_000

	// DefaultThresholdBps is the minimum collateralization ratio, 110%.
	DefaultThresholdBps = 11_000
	// DefaultGasCompBps is the liquidator's compensation slice, 0.5% of the
	// seized collateral.
	DefaultGasCompBps = 50
)

type engineState interface {
	GetPosition(asset string, borrower common.Address) (*Position, error)
	PutPosition(asset string, position *Position) error
	GetRiskList(asset string) ([]common.Address, error)
	PutRiskList(asset string, list []common.Address) error
	GetRedistribution(asset string) (*Redistribution, error)
	PutRedistribution(asset string, record *Redistribution) error
}

// custodian is the ledger slice the coordinator needs for liquidation
// bookkeeping and payouts.
type custodian interface {
	TransferCollateral(asset string, to common.Address, amount *big.Int) error
	WithdrawCollateralAccounting(asset string, amount *big.Int) error
	BurnDebt(asset string, amount *big.Int) error
}

// settler is the mandatory pre-payout gate.
type settler interface {
	EnsureSettleable(asset string, amount *big.Int) error
}

// absorber offsets liquidated debt against pooled stablecoin deposits.
type absorber interface {
	TotalDeposits() *big.Int
	Offset(asset string, debtToOffset *big.Int, collateralToAdd *big.Int) error
}

// Engine drives forced liquidations. Every payout runs through the
// settlement gate exactly once per position, for the combined gas
// compensation and distribution total, so a sequence of liquidations can
// never half-pay a position after draining the reserve.
type Engine struct {
	state        engineState
	ledger       custodian
	guard        settler
	pool         absorber
	oracle       pricing.Source
	poolAddr     common.Address
	redistAddr   common.Address
	thresholdBps uint64
	gasCompBps   uint64
	emitter      events.Emitter
	pauses       nativecommon.PauseView
	entry        nativecommon.EntryGuard
}

// NewEngine constructs a coordinator with default threshold and gas
// compensation parameters and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		thresholdBps: DefaultThresholdBps,
		gasCompBps:   DefaultGasCompBps,
		emitter:      events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the collateral ledger.
func (e *Engine) SetLedger(ledger custodian) { e.ledger = ledger }

// SetSettlementGuard wires the pre-payout gate. Liquidation refuses to run
// without one.
func (e *Engine) SetSettlementGuard(guard settler) { e.guard = guard }

// SetAbsorber wires the stability pool used for debt offsets. A nil absorber
// routes everything to redistribution.
func (e *Engine) SetAbsorber(pool absorber) { e.pool = pool }

// SetOracle installs the price source used for health checks.
func (e *Engine) SetOracle(oracle pricing.Source) { e.oracle = oracle }

// SetModuleAddresses configures the module accounts that receive absorbed
// and redistributed collateral.
func (e *Engine) SetModuleAddresses(pool, redistribution common.Address) {
	if e == nil {
		return
	}
	e.poolAddr = pool
	e.redistAddr = redistribution
}

// SetParams overrides the liquidation threshold and gas compensation, both
// in basis points.
func (e *Engine) SetParams(thresholdBps, gasCompBps uint64) error {
	if e == nil {
		return errNilState
	}
	if thresholdBps < basisPointsDenom || gasCompBps >= basisPointsDenom {
		return ErrInvalidParams
	}
	e.thresholdBps = thresholdBps
	e.gasCompBps = gasCompBps
	return nil
}

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

// UpsertPosition registers or refreshes a borrower's position and re-sorts
// it into the per-asset risk list. The position ledger that computes
// collateral and debt lives outside this engine; it feeds snapshots in
// through here.
func (e *Engine) UpsertPosition(position *Position) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if position == nil || position.Collateral == nil || position.Debt == nil {
		return ErrInvalidParams
	}
	symbol := events.NormalizeAsset(position.Asset)
	stored := position.Clone()
	stored.Asset = symbol
	ensurePositionDefaults(stored)
	if err := e.state.PutPosition(symbol, stored); err != nil {
		return err
	}
	if stored.Status != StatusActive {
		return e.dropFromRiskList(symbol, stored.Borrower)
	}
	list, err := e.state.GetRiskList(symbol)
	if err != nil {
		return err
	}
	list = insertByRisk(list, stored.Borrower, collateralRatio(stored), func(addr common.Address) *big.Int {
		other, err := e.state.GetPosition(symbol, addr)
		if err != nil || other == nil {
			return new(big.Int).Lsh(ratioPrecision, 64)
		}
		ensurePositionDefaults(other)
		return collateralRatio(other)
	})
	return e.state.PutRiskList(symbol, list)
}

// PositionOf returns a copy of a stored position.
func (e *Engine) PositionOf(asset string, borrower common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(events.NormalizeAsset(asset), borrower)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, borrower)
	}
	ensurePositionDefaults(position)
	return position.Clone(), nil
}

// RedistributionOf returns the accumulated unabsorbed collateral and debt.
func (e *Engine) RedistributionOf(asset string) (*Redistribution, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRedistribution(events.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// RiskList returns the borrowers sorted riskiest first.
func (e *Engine) RiskList(asset string) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	list, err := e.state.GetRiskList(events.NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), list...), nil
}

// LiquidateOne liquidates a single under-collateralized position, paying the
// liquidator the gas compensation slice.
func (e *Engine) LiquidateOne(asset string, borrower, liquidator common.Address) (*Outcome, error) {
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
	outcome := e.liquidateLocked(events.NormalizeAsset(asset), borrower, liquidator)
	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// LiquidateBatch attempts up to maxCount liquidations from the supplied
// candidate set. One position's failure never aborts the batch; each outcome
// carries its own error so the keeper can tell skipped from liquidated.
func (e *Engine) LiquidateBatch(asset string, borrowers []common.Address, maxCount int, liquidator common.Address) ([]*Outcome, error) {
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
	symbol := events.NormalizeAsset(asset)
	outcomes := make([]*Outcome, 0, len(borrowers))
	liquidated := 0
	for _, borrower := range borrowers {
		if maxCount > 0 && liquidated >= maxCount {
			break
		}
		outcome := e.liquidateLocked(symbol, borrower, liquidator)
		outcomes = append(outcomes, outcome)
		if outcome.Liquidated {
			liquidated++
		}
	}
	return outcomes, nil
}

// LiquidateSequenceFromSortedList walks the risk-ordered list from its
// riskiest end, liquidating up to n positions. The list is sorted, so the
// walk stops at the first healthy position.
func (e *Engine) LiquidateSequenceFromSortedList(asset string, n int, liquidator common.Address) ([]*Outcome, error) {
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
	symbol := events.NormalizeAsset(asset)
	list, err := e.state.GetRiskList(symbol)
	if err != nil {
		return nil, err
	}
	outcomes := make([]*Outcome, 0, n)
	liquidated := 0
	for _, borrower := range append([]common.Address(nil), list...) {
		if n > 0 && liquidated >= n {
			break
		}
		outcome := e.liquidateLocked(symbol, borrower, liquidator)
		if errors.Is(outcome.Err, ErrPositionNotLiquidatable) {
			break
		}
		outcomes = append(outcomes, outcome)
		if outcome.Liquidated {
			liquidated++
		}
	}
	return outcomes, nil
}

// liquidateLocked runs the single-position liquidation flow. The caller
// holds the entry guard and has already checked the pause switchboard.
func (e *Engine) liquidateLocked(asset string, borrower, liquidator common.Address) *Outcome {
	outcome := &Outcome{Borrower: borrower}
	fail := func(err error) *Outcome {
		outcome.Err = err
		return outcome
	}
	if e.ledger == nil || e.guard == nil {
		return fail(errNilCollaborator)
	}
	position, err := e.state.GetPosition(asset, borrower)
	if err != nil {
		return fail(err)
	}
	if position == nil {
		return fail(fmt.Errorf("%w: %s", ErrPositionNotFound, borrower))
	}
	ensurePositionDefaults(position)
	if position.Status != StatusActive {
		return fail(fmt.Errorf("%w: status %s", ErrPositionNotLiquidatable, position.Status))
	}
	liquidatable, err := e.isLiquidatable(asset, position)
	if err != nil {
		return fail(err)
	}
	if !liquidatable {
		return fail(fmt.Errorf("%w: %s is healthy", ErrPositionNotLiquidatable, borrower))
	}

	collateral := new(big.Int).Set(position.Collateral)
	debt := new(big.Int).Set(position.Debt)
	gasComp := new(big.Int).Mul(collateral, new(big.Int).SetUint64(e.gasCompBps))
	gasComp.Quo(gasComp, big.NewInt(basisPointsDenom))
	toDistribute := new(big.Int).Sub(collateral, gasComp)

	// One settlement check for the combined total, before any transfer.
	if err := e.guard.EnsureSettleable(asset, new(big.Int).Add(gasComp, toDistribute)); err != nil {
		return fail(err)
	}

	// Absorb as much debt as the stability pool can cover; the matching
	// collateral share moves to the pool's books.
	debtOffset := big.NewInt(0)
	collToPool := big.NewInt(0)
	if e.pool != nil && debt.Sign() > 0 {
		available := e.pool.TotalDeposits()
		if available != nil && available.Sign() > 0 {
			debtOffset = new(big.Int).Set(debt)
			if debtOffset.Cmp(available) > 0 {
				debtOffset.Set(available)
			}
			collToPool = new(big.Int).Mul(toDistribute, debtOffset)
			collToPool.Quo(collToPool, debt)
			if err := e.pool.Offset(asset, debtOffset, collToPool); err != nil {
				return fail(err)
			}
		}
	}
	redistDebt := new(big.Int).Sub(debt, debtOffset)
	redistColl := new(big.Int).Sub(toDistribute, collToPool)

	if debtOffset.Sign() > 0 {
		if err := e.ledger.BurnDebt(asset, debtOffset); err != nil {
			return fail(err)
		}
	}
	if redistDebt.Sign() > 0 || redistColl.Sign() > 0 {
		record, err := e.loadRedistribution(asset)
		if err != nil {
			return fail(err)
		}
		record.Collateral = new(big.Int).Add(record.Collateral, redistColl)
		record.Debt = new(big.Int).Add(record.Debt, redistDebt)
		if err := e.state.PutRedistribution(asset, record); err != nil {
			return fail(err)
		}
	}

	// The borrower's collateral leaves the logical books, then custody pays
	// out all three slices. The settlement check above covered the combined
	// total, so none of these transfers can fail on the physical balance.
	if err := e.ledger.WithdrawCollateralAccounting(asset, collateral); err != nil {
		return fail(err)
	}
	if gasComp.Sign() > 0 {
		if err := e.ledger.TransferCollateral(asset, liquidator, gasComp); err != nil {
			return fail(err)
		}
	}
	if collToPool.Sign() > 0 {
		if err := e.ledger.TransferCollateral(asset, e.poolAddr, collToPool); err != nil {
			return fail(err)
		}
	}
	if redistColl.Sign() > 0 {
		if err := e.ledger.TransferCollateral(asset, e.redistAddr, redistColl); err != nil {
			return fail(err)
		}
	}

	// The position reaches its terminal state only once every offset, burn,
	// and transfer leg has landed, so a collaborator failure never strands a
	// liquidated position with live debt.
	position.Status = StatusLiquidated
	if err := e.state.PutPosition(asset, position); err != nil {
		return fail(err)
	}
	if err := e.dropFromRiskList(asset, borrower); err != nil {
		return fail(err)
	}

	outcome.Liquidated = true
	outcome.GasCompensation = gasComp
	outcome.DebtOffset = debtOffset
	outcome.CollateralToPool = collToPool
	outcome.RedistributedCollateral = redistColl
	outcome.RedistributedDebt = redistDebt
	e.emit(positionLiquidated{
		Asset:      asset,
		Borrower:   borrower,
		Collateral: collateral,
		Debt:       debt,
		DebtOffset: debtOffset,
		GasComp:    gasComp,
	})
	return outcome
}

// isLiquidatable reports whether collateral value sits below the threshold
// share of debt: collateral*price < debt*threshold.
func (e *Engine) isLiquidatable(asset string, position *Position) (bool, error) {
	if position.Debt.Sign() == 0 {
		return false, nil
	}
	if e.oracle == nil {
		return false, ErrPriceUnavailable
	}
	price, ok := e.oracle.Price(asset)
	if !ok || price == nil || price.Sign() <= 0 {
		return false, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	lhs := new(big.Int).Mul(position.Collateral, price.Num())
	lhs.Mul(lhs, big.NewInt(basisPointsDenom))
	rhs := new(big.Int).Mul(position.Debt, price.Denom())
	rhs.Mul(rhs, new(big.Int).SetUint64(e.thresholdBps))
	return lhs.Cmp(rhs) < 0, nil
}

func (e *Engine) dropFromRiskList(asset string, borrower common.Address) error {
	list, err := e.state.GetRiskList(asset)
	if err != nil {
		return err
	}
	return e.state.PutRiskList(asset, removeFromList(list, borrower))
}

func (e *Engine) loadRedistribution(asset string) (*Redistribution, error) {
	record, err := e.state.GetRedistribution(asset)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &Redistribution{Asset: asset}
	}
	ensureRedistributionDefaults(record)
	return record, nil
}
