package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"fluidity/native/allocation"
	"fluidity/native/ledger"
	"fluidity/native/liquidation"
	"fluidity/native/stability"
	"fluidity/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemDB())
}

func TestMissingRecordsReadAsNil(t *testing.T) {
	store := newTestStore(t)

	account, err := store.GetAssetAccount("ZNHB")
	require.NoError(t, err)
	require.Nil(t, account)

	record, err := store.GetAllocationRecord("ZNHB")
	require.NoError(t, err)
	require.Nil(t, record)

	position, err := store.GetPosition("ZNHB", common.Address{})
	require.NoError(t, err)
	require.Nil(t, position)

	list, err := store.GetRiskList("ZNHB")
	require.NoError(t, err)
	require.Empty(t, list)

	pool, err := store.GetPoolState()
	require.NoError(t, err)
	require.Nil(t, pool)

	sum, err := store.GetStabilitySum(0, 0, "ZNHB")
	require.NoError(t, err)
	require.Nil(t, sum)
}

func TestAllocationRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	record := &allocation.AllocationRecord{
		Asset:           "ZNHB",
		TotalCollateral: big.NewInt(1000),
		ReserveBuffer:   big.NewInt(300),
		Deployed: map[string]*big.Int{
			"amm":   big.NewInt(400),
			"vault": big.NewInt(300),
		},
		SharesOwned: map[string]*big.Int{
			"vault": big.NewInt(295),
		},
		LastRebalance: 1700000000,
	}
	require.NoError(t, store.PutAllocationRecord("ZNHB", record))

	loaded, err := store.GetAllocationRecord("ZNHB")
	require.NoError(t, err)
	require.Equal(t, record.TotalCollateral, loaded.TotalCollateral)
	require.Equal(t, record.ReserveBuffer, loaded.ReserveBuffer)
	require.Equal(t, record.Deployed, loaded.Deployed)
	require.Equal(t, record.SharesOwned, loaded.SharesOwned)
	require.Equal(t, record.LastRebalance, loaded.LastRebalance)
}

func TestPositionAndRiskListRoundTrip(t *testing.T) {
	store := newTestStore(t)
	borrower := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	position := &liquidation.Position{
		Borrower:   borrower,
		Asset:      "ZNHB",
		Collateral: big.NewInt(1000),
		Debt:       big.NewInt(950),
		Status:     liquidation.StatusActive,
	}
	require.NoError(t, store.PutPosition("ZNHB", position))

	loaded, err := store.GetPosition("ZNHB", borrower)
	require.NoError(t, err)
	require.Equal(t, position.Collateral, loaded.Collateral)
	require.Equal(t, position.Debt, loaded.Debt)
	require.Equal(t, liquidation.StatusActive, loaded.Status)

	list := []common.Address{borrower, common.HexToAddress("0xb2")}
	require.NoError(t, store.PutRiskList("ZNHB", list))
	loadedList, err := store.GetRiskList("ZNHB")
	require.NoError(t, err)
	require.Equal(t, list, loadedList)
}

func TestStabilityRecordsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	pool := &stability.PoolState{
		TotalDeposits: big.NewInt(5000),
		P:             uint256.NewInt(5e17),
		CurrentEpoch:  2,
		CurrentScale:  1,
		Assets:        []string{"WETH", "ZNHB"},
	}
	require.NoError(t, store.PutPoolState(pool))
	loadedPool, err := store.GetPoolState()
	require.NoError(t, err)
	require.Equal(t, pool.TotalDeposits, loadedPool.TotalDeposits)
	require.Equal(t, 0, pool.P.Cmp(loadedPool.P))
	require.Equal(t, pool.CurrentEpoch, loadedPool.CurrentEpoch)
	require.Equal(t, pool.CurrentScale, loadedPool.CurrentScale)
	require.Equal(t, pool.Assets, loadedPool.Assets)

	deposit := &stability.Deposit{
		Owner:         owner,
		Amount:        big.NewInt(1000),
		SnapshotP:     uint256.NewInt(5e17),
		SnapshotEpoch: 2,
		SnapshotScale: 1,
		SnapshotS: map[string]*uint256.Int{
			"ZNHB": uint256.NewInt(123456789),
		},
	}
	require.NoError(t, store.PutStabilityDeposit(owner, deposit))
	loadedDeposit, err := store.GetStabilityDeposit(owner)
	require.NoError(t, err)
	require.Equal(t, deposit.Amount, loadedDeposit.Amount)
	require.Equal(t, 0, deposit.SnapshotP.Cmp(loadedDeposit.SnapshotP))
	require.Equal(t, deposit.SnapshotEpoch, loadedDeposit.SnapshotEpoch)
	require.Len(t, loadedDeposit.SnapshotS, 1)
	require.Equal(t, 0, deposit.SnapshotS["ZNHB"].Cmp(loadedDeposit.SnapshotS["ZNHB"]))

	require.NoError(t, store.DeleteStabilityDeposit(owner))
	gone, err := store.GetStabilityDeposit(owner)
	require.NoError(t, err)
	require.Nil(t, gone)

	sum := uint256.NewInt(42)
	require.NoError(t, store.PutStabilitySum(2, 1, "ZNHB", sum))
	loadedSum, err := store.GetStabilitySum(2, 1, "ZNHB")
	require.NoError(t, err)
	require.Equal(t, 0, sum.Cmp(loadedSum))

	require.NoError(t, store.PutCollateralPot("ZNHB", big.NewInt(777)))
	pot, err := store.GetCollateralPot("ZNHB")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(777), pot)
}

// The store backs the real engines directly; a deposit through the ledger
// engine must survive a store reload.
func TestLedgerEngineAgainstStore(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)

	engine := ledger.NewEngine()
	engine.SetState(store)
	require.NoError(t, engine.ActivateAsset("ZNHB"))
	require.NoError(t, engine.DepositCollateral("ZNHB", big.NewInt(1000)))
	require.NoError(t, engine.MintDebt("ZNHB", big.NewInt(400)))

	reloaded := ledger.NewEngine()
	reloaded.SetState(NewStore(db))
	physical, err := reloaded.PhysicalBalance("ZNHB")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), physical)
	logical, err := reloaded.CollateralReserve("ZNHB")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), logical)
	debt, err := reloaded.DebtOutstanding("ZNHB")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), debt)
}
