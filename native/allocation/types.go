package allocation

import (
	"errors"
	"math/big"
)

// ErrInvalidConfig rejects allocation configs whose percentages do not fit.
var ErrInvalidConfig = errors.New("allocation: invalid config")

const basisPointsDenom = 10_000

// DefaultMaxUtilizationBps is the circuit-breaker ceiling applied when a
// config does not set one.
const DefaultMaxUtilizationBps = 9_000

// AllocationConfig holds the per-asset deployment policy. Reserve and
// strategy percentages are expressed in basis points and must sum to at most
// 100%.
type AllocationConfig struct {
	// ReserveBufferBps is the share intentionally kept as immediately
	// redeemable physical custody.
	ReserveBufferBps uint64
	// StrategyBps maps strategy identifiers to their target share.
	StrategyBps map[string]uint64
	// RebalanceThresholdBps is the drift, relative to total collateral,
	// beyond which a rebalance actually proceeds.
	RebalanceThresholdBps uint64
	// MaxUtilizationBps caps logicalDebt relative to the redeemable value
	// of the collateral; deployments refuse above it.
	MaxUtilizationBps uint64
}

// Validate checks the percentage budget.
func (c AllocationConfig) Validate() error {
	total := c.ReserveBufferBps
	for _, bps := range c.StrategyBps {
		total += bps
	}
	if total > basisPointsDenom {
		return ErrInvalidConfig
	}
	if c.MaxUtilizationBps > basisPointsDenom {
		return ErrInvalidConfig
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c AllocationConfig) Clone() AllocationConfig {
	clone := c
	if c.StrategyBps != nil {
		clone.StrategyBps = make(map[string]uint64, len(c.StrategyBps))
		for id, bps := range c.StrategyBps {
			clone.StrategyBps[id] = bps
		}
	}
	return clone
}

// AllocationRecord tracks, per asset, how much of the logically owned
// collateral is held as physical reserve versus deployed to each strategy.
// After every successful allocate, rebalance, or recall operation the
// internal consistency invariant holds:
//
//	ReserveBuffer + sum(Deployed) == TotalCollateral
//
// within the asset's unit precision.
type AllocationRecord struct {
	Asset string
	// TotalCollateral mirrors the ledger's logical collateral, refreshed
	// on rebalance.
	TotalCollateral *big.Int
	// ReserveBuffer is the portion kept as immediately redeemable custody.
	ReserveBuffer *big.Int
	// Deployed is the amount currently deployed to each strategy.
	Deployed map[string]*big.Int
	// SharesOwned records venue shares for strategies that issue them.
	SharesOwned map[string]*big.Int
	// LastRebalance is the unix timestamp of the last completed rebalance.
	LastRebalance int64
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (r *AllocationRecord) Clone() *AllocationRecord {
	if r == nil {
		return nil
	}
	clone := &AllocationRecord{Asset: r.Asset, LastRebalance: r.LastRebalance}
	if r.TotalCollateral != nil {
		clone.TotalCollateral = new(big.Int).Set(r.TotalCollateral)
	}
	if r.ReserveBuffer != nil {
		clone.ReserveBuffer = new(big.Int).Set(r.ReserveBuffer)
	}
	if r.Deployed != nil {
		clone.Deployed = make(map[string]*big.Int, len(r.Deployed))
		for id, amount := range r.Deployed {
			clone.Deployed[id] = new(big.Int).Set(amount)
		}
	}
	if r.SharesOwned != nil {
		clone.SharesOwned = make(map[string]*big.Int, len(r.SharesOwned))
		for id, shares := range r.SharesOwned {
			clone.SharesOwned[id] = new(big.Int).Set(shares)
		}
	}
	return clone
}

// DeployedTo returns the amount deployed to the strategy, treating missing
// entries as zero.
func (r *AllocationRecord) DeployedTo(strategyID string) *big.Int {
	if r == nil || r.Deployed == nil {
		return big.NewInt(0)
	}
	amount, ok := r.Deployed[strategyID]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// TotalDeployed sums deployments across all strategies.
func (r *AllocationRecord) TotalDeployed() *big.Int {
	total := big.NewInt(0)
	if r == nil || r.Deployed == nil {
		return total
	}
	for _, amount := range r.Deployed {
		if amount != nil {
			total = new(big.Int).Add(total, amount)
		}
	}
	return total
}

func ensureRecordDefaults(record *AllocationRecord) {
	if record.TotalCollateral == nil {
		record.TotalCollateral = big.NewInt(0)
	}
	if record.ReserveBuffer == nil {
		record.ReserveBuffer = big.NewInt(0)
	}
	if record.Deployed == nil {
		record.Deployed = make(map[string]*big.Int)
	}
	if record.SharesOwned == nil {
		record.SharesOwned = make(map[string]*big.Int)
	}
}
