package liquidation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status tracks the terminal-state machine of a position. Active positions
// may transition to Liquidated (forced) or Closed (user-initiated); both are
// terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusLiquidated
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusLiquidated:
		return "liquidated"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is the coordinator's view of a borrower's collateralized debt.
type Position struct {
	Borrower   common.Address
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
	Status     Status
}

// Clone returns a deep copy safe for the caller to mutate.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Borrower: p.Borrower,
		Asset:    p.Asset,
		Status:   p.Status,
	}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

func ensurePositionDefaults(p *Position) {
	if p == nil {
		return
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// Outcome reports what happened to a single position within a liquidation
// call. Batch operations return one outcome per attempted position instead
// of aborting on the first failure.
type Outcome struct {
	Borrower                common.Address
	Liquidated              bool
	Err                     error
	GasCompensation         *big.Int
	DebtOffset              *big.Int
	CollateralToPool        *big.Int
	RedistributedCollateral *big.Int
	RedistributedDebt       *big.Int
}

// Redistribution accumulates the collateral and debt that the stability pool
// could not absorb. The proportional assignment to surviving positions is a
// separate mechanism; this record is its funding source.
type Redistribution struct {
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
}

// Clone returns a deep copy.
func (r *Redistribution) Clone() *Redistribution {
	if r == nil {
		return nil
	}
	clone := &Redistribution{Asset: r.Asset}
	if r.Collateral != nil {
		clone.Collateral = new(big.Int).Set(r.Collateral)
	}
	if r.Debt != nil {
		clone.Debt = new(big.Int).Set(r.Debt)
	}
	return clone
}

func ensureRedistributionDefaults(r *Redistribution) {
	if r == nil {
		return
	}
	if r.Collateral == nil {
		r.Collateral = big.NewInt(0)
	}
	if r.Debt == nil {
		r.Debt = big.NewInt(0)
	}
}
