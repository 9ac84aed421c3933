package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fluidity/native/allocation"
	"fluidity/native/ledger"
	"fluidity/native/liquidation"
	"fluidity/native/stability"
	"fluidity/storage"
)

// Store persists every engine's records in a key-value database using RLP
// encoding. One Store instance backs all engines; each engine sees only its
// own narrow state interface.
type Store struct {
	db storage.Database
}

// NewStore wraps a database in the subsystem's state layer.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func ledgerAccountKey(asset string) []byte {
	return []byte("fluidity/ledger/account/" + asset)
}

func custodyKey(asset string) []byte {
	return []byte("fluidity/ledger/custody/" + asset)
}

func allocationKey(asset string) []byte {
	return []byte("fluidity/alloc/record/" + asset)
}

func positionKey(asset string, borrower common.Address) []byte {
	return []byte("fluidity/liq/position/" + asset + "/" + borrower.Hex())
}

func riskListKey(asset string) []byte {
	return []byte("fluidity/liq/risklist/" + asset)
}

func redistributionKey(asset string) []byte {
	return []byte("fluidity/liq/redistribution/" + asset)
}

var poolStateKey = []byte("fluidity/stability/pool")

func depositKey(owner common.Address) []byte {
	return []byte("fluidity/stability/deposit/" + owner.Hex())
}

func sumKey(epoch, scale uint64, asset string) []byte {
	return []byte(fmt.Sprintf("fluidity/stability/sum/%d/%d/%s", epoch, scale, asset))
}

func potKey(asset string) []byte {
	return []byte("fluidity/stability/pot/" + asset)
}

// load decodes the value at key into out, reporting (false, nil) when the
// key is absent.
func (s *Store) load(key []byte, out interface{}) (bool, error) {
	ok, err := s.db.Has(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) save(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// RLP has no map encoding, so records with per-strategy or per-asset maps
// round-trip through sorted slices.
type storedAmount struct {
	Key    string
	Amount *big.Int
}

func amountsToStored(m map[string]*big.Int) []storedAmount {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]storedAmount, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if v == nil {
			v = big.NewInt(0)
		}
		out = append(out, storedAmount{Key: k, Amount: v})
	}
	return out
}

func storedToAmounts(entries []storedAmount) map[string]*big.Int {
	out := make(map[string]*big.Int, len(entries))
	for _, e := range entries {
		amount := e.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		out[e.Key] = amount
	}
	return out
}

type storedAssetAccount struct {
	Asset                string
	LogicalCollateral    *big.Int
	LogicalDebt          *big.Int
	BorrowedFromPeerPool *big.Int
	PendingRewards       *big.Int
	Active               bool
	Paused               bool
	LastUpdate           uint64
}

// GetAssetAccount loads the ledger account for an asset.
func (s *Store) GetAssetAccount(asset string) (*ledger.AssetAccount, error) {
	var stored storedAssetAccount
	ok, err := s.load(ledgerAccountKey(asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.AssetAccount{
		Asset:                stored.Asset,
		LogicalCollateral:    stored.LogicalCollateral,
		LogicalDebt:          stored.LogicalDebt,
		BorrowedFromPeerPool: stored.BorrowedFromPeerPool,
		PendingRewards:       stored.PendingRewards,
		Active:               stored.Active,
		Paused:               stored.Paused,
		LastUpdate:           int64(stored.LastUpdate),
	}, nil
}

// PutAssetAccount persists the ledger account for an asset.
func (s *Store) PutAssetAccount(asset string, account *ledger.AssetAccount) error {
	return s.save(ledgerAccountKey(asset), &storedAssetAccount{
		Asset:                account.Asset,
		LogicalCollateral:    orZero(account.LogicalCollateral),
		LogicalDebt:          orZero(account.LogicalDebt),
		BorrowedFromPeerPool: orZero(account.BorrowedFromPeerPool),
		PendingRewards:       orZero(account.PendingRewards),
		Active:               account.Active,
		Paused:               account.Paused,
		LastUpdate:           uint64(account.LastUpdate),
	})
}

type storedCustody struct {
	Asset   string
	Balance *big.Int
}

// GetCustody loads the physical custody record for an asset.
func (s *Store) GetCustody(asset string) (*ledger.CustodyRecord, error) {
	var stored storedCustody
	ok, err := s.load(custodyKey(asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.CustodyRecord{Asset: stored.Asset, Balance: stored.Balance}, nil
}

// PutCustody persists the physical custody record for an asset.
func (s *Store) PutCustody(asset string, record *ledger.CustodyRecord) error {
	return s.save(custodyKey(asset), &storedCustody{
		Asset:   record.Asset,
		Balance: orZero(record.Balance),
	})
}

type storedAllocationRecord struct {
	Asset           string
	TotalCollateral *big.Int
	ReserveBuffer   *big.Int
	Deployed        []storedAmount
	SharesOwned     []storedAmount
	LastRebalance   uint64
}

// GetAllocationRecord loads the allocation record for an asset.
func (s *Store) GetAllocationRecord(asset string) (*allocation.AllocationRecord, error) {
	var stored storedAllocationRecord
	ok, err := s.load(allocationKey(asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &allocation.AllocationRecord{
		Asset:           stored.Asset,
		TotalCollateral: stored.TotalCollateral,
		ReserveBuffer:   stored.ReserveBuffer,
		Deployed:        storedToAmounts(stored.Deployed),
		SharesOwned:     storedToAmounts(stored.SharesOwned),
		LastRebalance:   int64(stored.LastRebalance),
	}, nil
}

// PutAllocationRecord persists the allocation record for an asset.
func (s *Store) PutAllocationRecord(asset string, record *allocation.AllocationRecord) error {
	return s.save(allocationKey(asset), &storedAllocationRecord{
		Asset:           record.Asset,
		TotalCollateral: orZero(record.TotalCollateral),
		ReserveBuffer:   orZero(record.ReserveBuffer),
		Deployed:        amountsToStored(record.Deployed),
		SharesOwned:     amountsToStored(record.SharesOwned),
		LastRebalance:   uint64(record.LastRebalance),
	})
}

type storedPosition struct {
	Borrower   common.Address
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
	Status     uint8
}

// GetPosition loads a borrower's position.
func (s *Store) GetPosition(asset string, borrower common.Address) (*liquidation.Position, error) {
	var stored storedPosition
	ok, err := s.load(positionKey(asset, borrower), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &liquidation.Position{
		Borrower:   stored.Borrower,
		Asset:      stored.Asset,
		Collateral: stored.Collateral,
		Debt:       stored.Debt,
		Status:     liquidation.Status(stored.Status),
	}, nil
}

// PutPosition persists a borrower's position.
func (s *Store) PutPosition(asset string, position *liquidation.Position) error {
	return s.save(positionKey(asset, position.Borrower), &storedPosition{
		Borrower:   position.Borrower,
		Asset:      position.Asset,
		Collateral: orZero(position.Collateral),
		Debt:       orZero(position.Debt),
		Status:     uint8(position.Status),
	})
}

// GetRiskList loads the risk-ordered borrower list for an asset.
func (s *Store) GetRiskList(asset string) ([]common.Address, error) {
	var list []common.Address
	if _, err := s.load(riskListKey(asset), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PutRiskList persists the risk-ordered borrower list for an asset.
func (s *Store) PutRiskList(asset string, list []common.Address) error {
	return s.save(riskListKey(asset), list)
}

type storedRedistribution struct {
	Asset      string
	Collateral *big.Int
	Debt       *big.Int
}

// GetRedistribution loads the unabsorbed liquidation remainder for an asset.
func (s *Store) GetRedistribution(asset string) (*liquidation.Redistribution, error) {
	var stored storedRedistribution
	ok, err := s.load(redistributionKey(asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &liquidation.Redistribution{
		Asset:      stored.Asset,
		Collateral: stored.Collateral,
		Debt:       stored.Debt,
	}, nil
}

// PutRedistribution persists the unabsorbed liquidation remainder.
func (s *Store) PutRedistribution(asset string, record *liquidation.Redistribution) error {
	return s.save(redistributionKey(asset), &storedRedistribution{
		Asset:      record.Asset,
		Collateral: orZero(record.Collateral),
		Debt:       orZero(record.Debt),
	})
}

type storedPoolState struct {
	TotalDeposits *big.Int
	P             *uint256.Int
	CurrentEpoch  uint64
	CurrentScale  uint64
	Assets        []string
}

// GetPoolState loads the stability pool aggregate.
func (s *Store) GetPoolState() (*stability.PoolState, error) {
	var stored storedPoolState
	ok, err := s.load(poolStateKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &stability.PoolState{
		TotalDeposits: stored.TotalDeposits,
		P:             stored.P,
		CurrentEpoch:  stored.CurrentEpoch,
		CurrentScale:  stored.CurrentScale,
		Assets:        stored.Assets,
	}, nil
}

// PutPoolState persists the stability pool aggregate.
func (s *Store) PutPoolState(pool *stability.PoolState) error {
	return s.save(poolStateKey, &storedPoolState{
		TotalDeposits: orZero(pool.TotalDeposits),
		P:             pool.P,
		CurrentEpoch:  pool.CurrentEpoch,
		CurrentScale:  pool.CurrentScale,
		Assets:        pool.Assets,
	})
}

type storedSum struct {
	Asset string
	Sum   *uint256.Int
}

type storedDeposit struct {
	Owner         common.Address
	Amount        *big.Int
	SnapshotP     *uint256.Int
	SnapshotEpoch uint64
	SnapshotScale uint64
	SnapshotS     []storedSum
}

// GetStabilityDeposit loads a depositor's stake and snapshots.
func (s *Store) GetStabilityDeposit(owner common.Address) (*stability.Deposit, error) {
	var stored storedDeposit
	ok, err := s.load(depositKey(owner), &stored)
	if err != nil || !ok {
		return nil, err
	}
	sums := make(map[string]*uint256.Int, len(stored.SnapshotS))
	for _, entry := range stored.SnapshotS {
		sum := entry.Sum
		if sum == nil {
			sum = new(uint256.Int)
		}
		sums[entry.Asset] = sum
	}
	return &stability.Deposit{
		Owner:         stored.Owner,
		Amount:        stored.Amount,
		SnapshotP:     stored.SnapshotP,
		SnapshotEpoch: stored.SnapshotEpoch,
		SnapshotScale: stored.SnapshotScale,
		SnapshotS:     sums,
	}, nil
}

// PutStabilityDeposit persists a depositor's stake and snapshots.
func (s *Store) PutStabilityDeposit(owner common.Address, deposit *stability.Deposit) error {
	assets := make([]string, 0, len(deposit.SnapshotS))
	for asset := range deposit.SnapshotS {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	sums := make([]storedSum, 0, len(assets))
	for _, asset := range assets {
		sum := deposit.SnapshotS[asset]
		if sum == nil {
			sum = new(uint256.Int)
		}
		sums = append(sums, storedSum{Asset: asset, Sum: sum})
	}
	snapshotP := deposit.SnapshotP
	if snapshotP == nil {
		snapshotP = new(uint256.Int)
	}
	return s.save(depositKey(owner), &storedDeposit{
		Owner:         deposit.Owner,
		Amount:        orZero(deposit.Amount),
		SnapshotP:     snapshotP,
		SnapshotEpoch: deposit.SnapshotEpoch,
		SnapshotScale: deposit.SnapshotScale,
		SnapshotS:     sums,
	})
}

// DeleteStabilityDeposit removes a depositor's record entirely.
func (s *Store) DeleteStabilityDeposit(owner common.Address) error {
	return s.db.Delete(depositKey(owner))
}

// GetStabilitySum loads the running collateral sum for an epoch/scale/asset.
func (s *Store) GetStabilitySum(epoch, scale uint64, asset string) (*uint256.Int, error) {
	sum := new(uint256.Int)
	ok, err := s.load(sumKey(epoch, scale, asset), sum)
	if err != nil || !ok {
		return nil, err
	}
	return sum, nil
}

// PutStabilitySum persists the running collateral sum.
func (s *Store) PutStabilitySum(epoch, scale uint64, asset string, sum *uint256.Int) error {
	if sum == nil {
		sum = new(uint256.Int)
	}
	return s.save(sumKey(epoch, scale, asset), sum)
}

// GetCollateralPot loads the stability pool's claimable collateral for an
// asset.
func (s *Store) GetCollateralPot(asset string) (*big.Int, error) {
	pot := new(big.Int)
	ok, err := s.load(potKey(asset), pot)
	if err != nil || !ok {
		return nil, err
	}
	return pot, nil
}

// PutCollateralPot persists the stability pool's claimable collateral.
func (s *Store) PutCollateralPot(asset string, amount *big.Int) error {
	return s.save(potKey(asset), orZero(amount))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
