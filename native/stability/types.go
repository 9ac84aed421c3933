package stability

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolState is the absorber's aggregate bookkeeping: the live deposit total,
// the running product P with its epoch and scale counters, and the sorted
// set of collateral assets the pool has ever received.
type PoolState struct {
	TotalDeposits *big.Int
	P             *uint256.Int
	CurrentEpoch  uint64
	CurrentScale  uint64
	Assets        []string
}

// Clone returns a deep copy.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	clone := &PoolState{
		CurrentEpoch: s.CurrentEpoch,
		CurrentScale: s.CurrentScale,
		Assets:       append([]string(nil), s.Assets...),
	}
	if s.TotalDeposits != nil {
		clone.TotalDeposits = new(big.Int).Set(s.TotalDeposits)
	}
	if s.P != nil {
		clone.P = new(uint256.Int).Set(s.P)
	}
	return clone
}

func (s *PoolState) trackAsset(asset string) {
	idx := sort.SearchStrings(s.Assets, asset)
	if idx < len(s.Assets) && s.Assets[idx] == asset {
		return
	}
	s.Assets = append(s.Assets, "")
	copy(s.Assets[idx+1:], s.Assets[idx:])
	s.Assets[idx] = asset
}

func ensurePoolDefaults(s *PoolState) {
	if s == nil {
		return
	}
	if s.TotalDeposits == nil {
		s.TotalDeposits = big.NewInt(0)
	}
	if s.P == nil || s.P.IsZero() {
		s.P = new(uint256.Int).Set(decimalPrecision)
	}
}

// Deposit is one stablecoin holder's stake plus the P/S snapshots its
// compounded value and pending gains are measured against. Amount is the
// balance as of the snapshot, not the live compounded value.
type Deposit struct {
	Owner         common.Address
	Amount        *big.Int
	SnapshotP     *uint256.Int
	SnapshotEpoch uint64
	SnapshotScale uint64
	SnapshotS     map[string]*uint256.Int
}

// Clone returns a deep copy.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := &Deposit{
		Owner:         d.Owner,
		SnapshotEpoch: d.SnapshotEpoch,
		SnapshotScale: d.SnapshotScale,
	}
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	}
	if d.SnapshotP != nil {
		clone.SnapshotP = new(uint256.Int).Set(d.SnapshotP)
	}
	if d.SnapshotS != nil {
		clone.SnapshotS = make(map[string]*uint256.Int, len(d.SnapshotS))
		for asset, sum := range d.SnapshotS {
			clone.SnapshotS[asset] = new(uint256.Int).Set(sum)
		}
	}
	return clone
}

func (d *Deposit) snapshotSum(asset string) *uint256.Int {
	if d == nil || d.SnapshotS == nil {
		return new(uint256.Int)
	}
	sum, ok := d.SnapshotS[asset]
	if !ok || sum == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(sum)
}
