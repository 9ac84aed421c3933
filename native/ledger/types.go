package ledger

import "math/big"

// AssetAccount captures the logical accounting state for a single collateral
// asset. Logical totals describe what the system claims to own across all
// positions, independent of where the underlying funds physically sit; payout
// decisions must never be made from these fields alone.
type AssetAccount struct {
	// Asset is the canonical upper-case symbol for the collateral asset.
	Asset string
	// LogicalCollateral is the total collateral tracked for this asset
	// across all positions.
	LogicalCollateral *big.Int
	// LogicalDebt is the total stablecoin debt outstanding against this
	// asset.
	LogicalDebt *big.Int
	// BorrowedFromPeerPool records an amount temporarily borrowed from an
	// unrelated lending market. Retained for compatibility with earlier
	// deployments; no recovery path reads it.
	BorrowedFromPeerPool *big.Int
	// PendingRewards is the liquidation compensation earmarked but not yet
	// claimed.
	PendingRewards *big.Int
	// Active gates all mutating operations for the asset.
	Active bool
	// Paused suspends mutations without deactivating the asset.
	Paused bool
	// LastUpdate is the unix timestamp of the last mutation.
	LastUpdate int64
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (a *AssetAccount) Clone() *AssetAccount {
	if a == nil {
		return nil
	}
	clone := &AssetAccount{
		Asset:      a.Asset,
		Active:     a.Active,
		Paused:     a.Paused,
		LastUpdate: a.LastUpdate,
	}
	if a.LogicalCollateral != nil {
		clone.LogicalCollateral = new(big.Int).Set(a.LogicalCollateral)
	}
	if a.LogicalDebt != nil {
		clone.LogicalDebt = new(big.Int).Set(a.LogicalDebt)
	}
	if a.BorrowedFromPeerPool != nil {
		clone.BorrowedFromPeerPool = new(big.Int).Set(a.BorrowedFromPeerPool)
	}
	if a.PendingRewards != nil {
		clone.PendingRewards = new(big.Int).Set(a.PendingRewards)
	}
	return clone
}

// CustodyRecord tracks the physical balance of an asset held in the module
// vault, redeemable without any cross-venue recall. It is the only balance a
// transfer decision may consult.
type CustodyRecord struct {
	Asset   string
	Balance *big.Int
}

// Clone returns a deep copy of the custody record.
func (c *CustodyRecord) Clone() *CustodyRecord {
	if c == nil {
		return nil
	}
	clone := &CustodyRecord{Asset: c.Asset}
	if c.Balance != nil {
		clone.Balance = new(big.Int).Set(c.Balance)
	}
	return clone
}
