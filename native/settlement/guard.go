package settlement

import (
	"errors"
	"fmt"
	"math/big"

	nativecommon "fluidity/native/common"
	"fluidity/native/strategy"
)

var (
	errNilLedger    = errors.New("settlement guard: ledger not configured")
	errNilAllocator = errors.New("settlement guard: allocator not configured")

	// ErrInvalidAmount rejects nil or negative amounts.
	ErrInvalidAmount = errors.New("settlement guard: amount must not be negative")
	// ErrInsufficientSystemLiquidity means the physical reserve plus
	// everything recallable from the strategies still cannot cover the
	// requested outflow.
	ErrInsufficientSystemLiquidity = errors.New("settlement guard: system liquidity exhausted")
)

const moduleName = "settlement"

// custodian is the ledger slice the guard needs: the physical balance check
// and the custody credit used as the recall destination.
type custodian interface {
	PhysicalBalance(asset string) (*big.Int, error)
	Credit(asset string, amount *big.Int) error
}

// recaller pulls funds back from deployed strategies into custody.
type recaller interface {
	WithdrawFromStrategies(asset string, amountNeeded *big.Int, dest strategy.CustodySink) (*big.Int, error)
}

// Guard is the mandatory choke point for every collateral outflow. Before a
// transfer leaves custody, EnsureSettleable verifies the physical balance
// covers it, recalling from strategies when the reserve alone falls short.
// No code path may move tokens out without passing through here first.
type Guard struct {
	ledger    custodian
	allocator recaller
	pauses    nativecommon.PauseView
	entry     nativecommon.EntryGuard
}

// NewGuard wires the guard to the custody ledger and the allocation engine.
func NewGuard(ledger custodian, allocator recaller) *Guard {
	return &Guard{ledger: ledger, allocator: allocator}
}

// SetPauses installs the module pause switchboard. Pausing settlement halts
// every outflow in the system.
func (g *Guard) SetPauses(p nativecommon.PauseView) {
	if g == nil {
		return
	}
	g.pauses = p
}

// EnsureSettleable guarantees that amount is physically present in custody
// before the caller performs the transfer. When the reserve falls short it
// triggers a cascading recall for exactly the shortfall; funds recovered stay
// in custody even when the total still cannot be covered, so a failed call
// leaves the system strictly more liquid than before.
func (g *Guard) EnsureSettleable(asset string, amount *big.Int) error {
	if g == nil || g.ledger == nil {
		return errNilLedger
	}
	if err := g.entry.Enter(); err != nil {
		return err
	}
	defer g.entry.Exit()
	if err := nativecommon.Guard(g.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	physical, err := g.ledger.PhysicalBalance(asset)
	if err != nil {
		return err
	}
	if physical.Cmp(amount) >= 0 {
		return nil
	}
	if g.allocator == nil {
		return errNilAllocator
	}

	shortfall := new(big.Int).Sub(amount, physical)
	recovered, err := g.allocator.WithdrawFromStrategies(asset, shortfall, g.ledger)
	if err != nil {
		return err
	}
	physical, err = g.ledger.PhysicalBalance(asset)
	if err != nil {
		return err
	}
	if physical.Cmp(amount) >= 0 {
		return nil
	}
	return fmt.Errorf("%w: asset %s needed %s physical %s recovered %s",
		ErrInsufficientSystemLiquidity, asset, amount, physical, recovered)
}
