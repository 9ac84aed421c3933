package allocation

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"fluidity/core/events"
	nativecommon "fluidity/native/common"
	"fluidity/native/pricing"
	"fluidity/native/strategy"
)

var (
	errNilState  = errors.New("allocation engine: state not configured")
	errNilLedger = errors.New("allocation engine: ledger not configured")

	// ErrInvalidAmount rejects nil or non-positive amounts.
	ErrInvalidAmount = errors.New("allocation engine: amount must be positive")
	// ErrConfigMissing signals no AllocationConfig was registered for the
	// asset.
	ErrConfigMissing = errors.New("allocation engine: config missing for asset")
	// ErrInsufficientReserve rejects a deployment larger than the physical
	// custody balance.
	ErrInsufficientReserve = errors.New("allocation engine: physical reserve below requested deployment")
	// ErrUtilizationTooHigh is the circuit breaker: deployments refuse to
	// grow while debt exceeds the configured share of redeemable value.
	ErrUtilizationTooHigh = errors.New("allocation engine: utilization above ceiling")
	// ErrPriceUnavailable signals the oracle quote was stale or missing;
	// operations needing a price refuse to run instead of guessing.
	ErrPriceUnavailable = errors.New("allocation engine: price unavailable")
	// ErrStrategyFailure wraps a venue error after translation, so callers
	// never see venue-specific failure shapes.
	ErrStrategyFailure = errors.New("allocation engine: strategy call failed")
)

const moduleName = "allocation"

type engineState interface {
	GetAllocationRecord(asset string) (*AllocationRecord, error)
	PutAllocationRecord(asset string, record *AllocationRecord) error
}

// custodian is the slice of the collateral ledger the allocation engine
// needs: balance queries plus the custody transfer primitives. All physical
// moves run through these; the engine never touches funds directly.
type custodian interface {
	PhysicalBalance(asset string) (*big.Int, error)
	CollateralReserve(asset string) (*big.Int, error)
	DebtOutstanding(asset string) (*big.Int, error)
	ReleaseToStrategy(asset string, amount *big.Int) error
	Credit(asset string, amount *big.Int) error
}

// Engine deploys idle collateral into yield-bearing strategies while
// guaranteeing a configurable minimum physical reserve, and recalls funds on
// demand in a fixed most-liquid-first priority order.
type Engine struct {
	state    engineState
	ledger   custodian
	oracle   pricing.Source
	adapters []strategy.Adapter
	configs  map[string]AllocationConfig
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	entry    nativecommon.EntryGuard
	nowFn    func() int64
}

// NewEngine constructs an allocation engine with a no-op event emitter.
func NewEngine() *Engine {
	return &Engine{
		configs: make(map[string]AllocationConfig),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the collateral ledger used for custody moves and balance
// queries.
func (e *Engine) SetLedger(ledger custodian) { e.ledger = ledger }

// SetOracle installs the price source consulted by the utilization breaker.
func (e *Engine) SetOracle(oracle pricing.Source) { e.oracle = oracle }

// SetAdapters installs the strategy adapters in recall priority order, most
// instantly liquid first. The order is configuration, not a hardcoded
// assumption.
func (e *Engine) SetAdapters(adapters []strategy.Adapter) {
	if e == nil {
		return
	}
	e.adapters = append([]strategy.Adapter(nil), adapters...)
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

// SetNowFunc overrides the time source used for rebalance stamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetConfig registers the allocation policy for an asset.
func (e *Engine) SetConfig(asset string, cfg AllocationConfig) error {
	if e == nil {
		return errNilState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MaxUtilizationBps == 0 {
		cfg.MaxUtilizationBps = DefaultMaxUtilizationBps
	}
	e.configs[normalize(asset)] = cfg.Clone()
	return nil
}

// ConfigOf returns the registered config for an asset.
func (e *Engine) ConfigOf(asset string) (AllocationConfig, bool) {
	if e == nil {
		return AllocationConfig{}, false
	}
	cfg, ok := e.configs[normalize(asset)]
	if !ok {
		return AllocationConfig{}, false
	}
	return cfg.Clone(), true
}

// RecordOf returns a copy of the allocation record for queries.
func (e *Engine) RecordOf(asset string) (*AllocationRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(normalize(asset))
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Allocate splits amount across the configured strategies and deploys each
// share, booking the amounts the venues actually recorded. The physical
// balance is verified to cover the full amount before any deploy call is
// made, and each individual deploy is a complete, state-consistent step:
// custody is debited and the record updated before the external venue call.
func (e *Engine) Allocate(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := e.entry.Enter(); err != nil {
		return err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol := normalize(asset)
	cfg, ok := e.configs[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConfigMissing, symbol)
	}
	record, err := e.loadRecord(symbol)
	if err != nil {
		return err
	}
	logical, err := e.ledger.CollateralReserve(symbol)
	if err != nil {
		return err
	}
	record.TotalCollateral = logical
	if err := e.checkUtilization(symbol, cfg, record); err != nil {
		return err
	}
	physical, err := e.ledger.PhysicalBalance(symbol)
	if err != nil {
		return err
	}
	if physical.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s available %s",
			ErrInsufficientReserve, symbol, amount, physical)
	}

	for _, adapter := range e.adapters {
		bps, ok := cfg.StrategyBps[adapter.ID()]
		if !ok || bps == 0 {
			continue
		}
		share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
		share.Quo(share, big.NewInt(basisPointsDenom))
		if share.Sign() == 0 {
			continue
		}
		if err := e.deployStep(symbol, record, adapter, share); err != nil {
			return err
		}
	}

	if err := e.refreshTotals(symbol, record); err != nil {
		return err
	}
	e.emit(allocated{Asset: symbol, Amount: amount})
	return nil
}

// deployStep runs one complete deploy leg: debit custody, book the requested
// amount, call the venue, then immediately reconcile the booked amount with
// what the venue actually recorded.
func (e *Engine) deployStep(asset string, record *AllocationRecord, adapter strategy.Adapter, share *big.Int) error {
	if err := e.ledger.ReleaseToStrategy(asset, share); err != nil {
		return err
	}
	id := adapter.ID()
	record.Deployed[id] = new(big.Int).Add(record.DeployedTo(id), share)
	if err := e.state.PutAllocationRecord(asset, record); err != nil {
		return err
	}

	receipt, err := adapter.Deploy(asset, share)
	if err != nil {
		// The venue refused; the funds never left, so restore custody
		// and the record before surfacing a translated error.
		record.Deployed[id] = new(big.Int).Sub(record.DeployedTo(id), share)
		if putErr := e.state.PutAllocationRecord(asset, record); putErr != nil {
			return putErr
		}
		if creditErr := e.ledger.Credit(asset, share); creditErr != nil {
			return creditErr
		}
		return fmt.Errorf("%w: %s: %v", ErrStrategyFailure, id, err)
	}

	actual := big.NewInt(0)
	if receipt != nil && receipt.Deployed != nil {
		actual = receipt.Deployed
	}
	if slip := new(big.Int).Sub(share, actual); slip.Sign() > 0 {
		record.Deployed[id] = new(big.Int).Sub(record.DeployedTo(id), slip)
	}
	if receipt != nil && receipt.Shares != nil && receipt.Shares.Sign() > 0 {
		prev, ok := record.SharesOwned[id]
		if !ok || prev == nil {
			prev = big.NewInt(0)
		}
		record.SharesOwned[id] = new(big.Int).Add(prev, receipt.Shares)
	}
	return e.state.PutAllocationRecord(asset, record)
}

// ShouldRebalance reports whether any strategy's drift from its target
// exceeds the configured threshold. It is a pure query and never moves funds.
func (e *Engine) ShouldRebalance(asset string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	symbol := normalize(asset)
	cfg, ok := e.configs[symbol]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrConfigMissing, symbol)
	}
	record, err := e.loadRecord(symbol)
	if err != nil {
		return false, err
	}
	total := record.TotalCollateral
	if total.Sign() == 0 {
		return false, nil
	}
	threshold := new(big.Int).Mul(total, new(big.Int).SetUint64(cfg.RebalanceThresholdBps))
	threshold.Quo(threshold, big.NewInt(basisPointsDenom))
	for _, adapter := range e.adapters {
		bps := cfg.StrategyBps[adapter.ID()]
		target := new(big.Int).Mul(total, new(big.Int).SetUint64(bps))
		target.Quo(target, big.NewInt(basisPointsDenom))
		drift := new(big.Int).Sub(record.DeployedTo(adapter.ID()), target)
		if drift.CmpAbs(threshold) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Rebalance recomputes per-strategy targets from the current logical total
// and moves funds toward them, recall legs first. It is lazy: when no
// strategy's drift exceeds the threshold the call is a no-op. Records are
// updated with the values venues actually returned or accepted, never the
// computed target deltas.
func (e *Engine) Rebalance(asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := e.entry.Enter(); err != nil {
		return err
	}
	defer e.entry.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	symbol := normalize(asset)
	cfg, ok := e.configs[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConfigMissing, symbol)
	}
	record, err := e.loadRecord(symbol)
	if err != nil {
		return err
	}

	// Refresh the mirror of the logical total before computing targets.
	logical, err := e.ledger.CollateralReserve(symbol)
	if err != nil {
		return err
	}
	record.TotalCollateral = logical

	threshold := new(big.Int).Mul(logical, new(big.Int).SetUint64(cfg.RebalanceThresholdBps))
	threshold.Quo(threshold, big.NewInt(basisPointsDenom))

	type leg struct {
		adapter strategy.Adapter
		delta   *big.Int // positive: deploy more; negative: recall excess
	}
	var legs []leg
	drifted := false
	for _, adapter := range e.adapters {
		bps := cfg.StrategyBps[adapter.ID()]
		target := new(big.Int).Mul(logical, new(big.Int).SetUint64(bps))
		target.Quo(target, big.NewInt(basisPointsDenom))
		delta := new(big.Int).Sub(target, record.DeployedTo(adapter.ID()))
		if delta.Sign() == 0 {
			continue
		}
		if delta.CmpAbs(threshold) > 0 {
			drifted = true
		}
		legs = append(legs, leg{adapter: adapter, delta: delta})
	}
	if !drifted {
		return e.state.PutAllocationRecord(symbol, record)
	}

	deployNeeded := false
	for _, l := range legs {
		if l.delta.Sign() > 0 {
			deployNeeded = true
			break
		}
	}
	if deployNeeded {
		if err := e.checkUtilization(symbol, cfg, record); err != nil {
			return err
		}
	}

	// Recall legs first so freed reserve can fund the deploy legs.
	for _, l := range legs {
		if l.delta.Sign() >= 0 {
			continue
		}
		excess := new(big.Int).Neg(l.delta)
		if _, err := e.recallStep(symbol, record, l.adapter, excess, e.ledger); err != nil {
			return err
		}
	}
	for _, l := range legs {
		if l.delta.Sign() <= 0 {
			continue
		}
		physical, err := e.ledger.PhysicalBalance(symbol)
		if err != nil {
			return err
		}
		deploy := new(big.Int).Set(l.delta)
		if deploy.Cmp(physical) > 0 {
			deploy.Set(physical)
		}
		if deploy.Sign() == 0 {
			continue
		}
		if err := e.deployStep(symbol, record, l.adapter, deploy); err != nil {
			return err
		}
	}

	record.LastRebalance = e.nowFn()
	if err := e.refreshTotals(symbol, record); err != nil {
		return err
	}
	e.emit(rebalanced{Asset: symbol})
	return nil
}

// WithdrawFromStrategies is the cascading emergency recall: it walks the
// strategies most-liquid-first, recalling from each until amountNeeded is
// recovered or every source is exhausted. A partial recovery is returned, not
// an error; the caller decides whether partial is acceptable. Every recall is
// its own complete step, with the record reconciled immediately after each
// venue call.
func (e *Engine) WithdrawFromStrategies(asset string, amountNeeded *big.Int, dest strategy.CustodySink) (*big.Int, error) {
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
	if amountNeeded == nil || amountNeeded.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if dest == nil {
		return nil, strategy.ErrNilSink
	}
	symbol := normalize(asset)
	record, err := e.loadRecord(symbol)
	if err != nil {
		return nil, err
	}

	recovered := big.NewInt(0)
	for _, adapter := range e.adapters {
		if recovered.Cmp(amountNeeded) >= 0 {
			break
		}
		remaining := new(big.Int).Sub(amountNeeded, recovered)
		actual, err := e.recallStep(symbol, record, adapter, remaining, dest)
		if err != nil {
			return recovered, err
		}
		recovered = new(big.Int).Add(recovered, actual)
	}
	if recovered.Sign() > 0 {
		e.emit(recalled{Asset: symbol, Requested: amountNeeded, Recovered: recovered})
	}
	return recovered, nil
}

// recallStep runs one complete recall leg against a single venue and
// reconciles the record with the amount actually returned.
func (e *Engine) recallStep(asset string, record *AllocationRecord, adapter strategy.Adapter, requested *big.Int, dest strategy.CustodySink) (*big.Int, error) {
	id := adapter.ID()
	actual, err := adapter.Recall(asset, requested, dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStrategyFailure, id, err)
	}
	if actual == nil || actual.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	deployed := record.DeployedTo(id)
	deployed.Sub(deployed, actual)
	if deployed.Sign() < 0 {
		// Venue returned more than we booked (accrued yield); the excess
		// lands in custody but the booked deployment floors at zero.
		deployed.SetInt64(0)
	}
	record.Deployed[id] = deployed
	if record.ReserveBuffer != nil {
		record.ReserveBuffer = new(big.Int).Add(record.ReserveBuffer, actual)
	}
	if err := e.state.PutAllocationRecord(asset, record); err != nil {
		return nil, err
	}
	return actual, nil
}

// refreshTotals re-reads the logical collateral total from the ledger and
// derives the reserve buffer from it, restoring the invariant
// reserve + sum(deployed) == total.
func (e *Engine) refreshTotals(asset string, record *AllocationRecord) error {
	logical, err := e.ledger.CollateralReserve(asset)
	if err != nil {
		return err
	}
	record.TotalCollateral = logical
	record.ReserveBuffer = new(big.Int).Sub(logical, record.TotalDeployed())
	if record.ReserveBuffer.Sign() < 0 {
		record.ReserveBuffer.SetInt64(0)
	}
	return e.state.PutAllocationRecord(asset, record)
}

// checkUtilization enforces the circuit breaker: logicalDebt relative to the
// redeemable value of the tracked collateral must stay at or below the
// configured ceiling. The check is a pure computation over current records
// and the oracle quote; it never moves funds.
func (e *Engine) checkUtilization(asset string, cfg AllocationConfig, record *AllocationRecord) error {
	if e.oracle == nil {
		return ErrPriceUnavailable
	}
	price, ok := e.oracle.Price(asset)
	if !ok || price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	debt, err := e.ledger.DebtOutstanding(asset)
	if err != nil {
		return err
	}
	if debt.Sign() == 0 {
		return nil
	}
	total := record.TotalCollateral
	if total == nil || total.Sign() == 0 {
		return fmt.Errorf("%w: %s debt %s against empty collateral", ErrUtilizationTooHigh, asset, debt)
	}
	// debt / (total * price) > maxBps/10000, cross-multiplied to stay in
	// integer arithmetic.
	lhs := new(big.Int).Mul(debt, price.Denom())
	lhs.Mul(lhs, big.NewInt(basisPointsDenom))
	rhs := new(big.Int).Mul(total, price.Num())
	rhs.Mul(rhs, new(big.Int).SetUint64(cfg.MaxUtilizationBps))
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: %s", ErrUtilizationTooHigh, asset)
	}
	return nil
}

func (e *Engine) loadRecord(asset string) (*AllocationRecord, error) {
	record, err := e.state.GetAllocationRecord(asset)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &AllocationRecord{Asset: asset}
	}
	ensureRecordDefaults(record)
	return record, nil
}

func normalize(asset string) string {
	return events.NormalizeAsset(asset)
}
