package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "fluidity/native/common"
)

type mockState struct {
	accounts map[string]*AssetAccount
	custody  map[string]*CustodyRecord
}

func newMockState() *mockState {
	return &mockState{
		accounts: make(map[string]*AssetAccount),
		custody:  make(map[string]*CustodyRecord),
	}
}

func (m *mockState) GetAssetAccount(asset string) (*AssetAccount, error) {
	return m.accounts[asset].Clone(), nil
}

func (m *mockState) PutAssetAccount(asset string, account *AssetAccount) error {
	m.accounts[asset] = account.Clone()
	return nil
}

func (m *mockState) GetCustody(asset string) (*CustodyRecord, error) {
	return m.custody[asset].Clone(), nil
}

func (m *mockState) PutCustody(asset string, custody *CustodyRecord) error {
	m.custody[asset] = custody.Clone()
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	engine := NewEngine()
	state := newMockState()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.ActivateAsset("atom"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return engine, state
}

func TestDepositTracksLogicalAndPhysical(t *testing.T) {
	engine, _ := newTestEngine(t)

	if err := engine.DepositCollateral("ATOM", big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	logical, err := engine.CollateralReserve("ATOM")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if logical.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected logical 1000, got %s", logical)
	}
	physical, err := engine.PhysicalBalance("ATOM")
	if err != nil {
		t.Fatalf("physical: %v", err)
	}
	if physical.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected physical 1000, got %s", physical)
	}
}

func TestWithdrawAccountingDoesNotMoveTokens(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DepositCollateral("ATOM", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.WithdrawCollateralAccounting("ATOM", big.NewInt(200)); err != nil {
		t.Fatalf("withdraw accounting: %v", err)
	}
	logical, _ := engine.CollateralReserve("ATOM")
	physical, _ := engine.PhysicalBalance("ATOM")
	if logical.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected logical 300, got %s", logical)
	}
	if physical.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected physical unchanged at 500, got %s", physical)
	}

	err := engine.WithdrawCollateralAccounting("ATOM", big.NewInt(301))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestTransferChecksPhysicalNotLogical(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DepositCollateral("ATOM", big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Deploy 700 of custody out; logical stays at 1000.
	if err := engine.ReleaseToStrategy("ATOM", big.NewInt(700)); err != nil {
		t.Fatalf("release: %v", err)
	}

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	err := engine.TransferCollateral("ATOM", recipient, big.NewInt(500))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected physical shortfall to fail transfer, got %v", err)
	}
	// A failed transfer must leave custody untouched.
	physical, _ := engine.PhysicalBalance("ATOM")
	if physical.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected physical 300 after failed transfer, got %s", physical)
	}

	if err := engine.TransferCollateral("ATOM", recipient, big.NewInt(300)); err != nil {
		t.Fatalf("transfer within physical balance: %v", err)
	}
	physical, _ = engine.PhysicalBalance("ATOM")
	if physical.Sign() != 0 {
		t.Fatalf("expected custody drained, got %s", physical)
	}
}

func TestCreditRestoresCustody(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DepositCollateral("ATOM", big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.ReleaseToStrategy("ATOM", big.NewInt(100)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := engine.Credit("ATOM", big.NewInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	physical, _ := engine.PhysicalBalance("ATOM")
	if physical.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected physical 40, got %s", physical)
	}
}

func TestDebtMintBurn(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.MintDebt("ATOM", big.NewInt(900)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.BurnDebt("ATOM", big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	debt, _ := engine.DebtOutstanding("ATOM")
	if debt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected debt 500, got %s", debt)
	}
	if err := engine.BurnDebt("ATOM", big.NewInt(501)); !errors.Is(err, ErrInsufficientDebtReserve) {
		t.Fatalf("expected ErrInsufficientDebtReserve, got %v", err)
	}
}

func TestPausedAssetRejectsMutations(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.PauseAsset("ATOM"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := engine.DepositCollateral("ATOM", big.NewInt(1)); !errors.Is(err, ErrAssetPaused) {
		t.Fatalf("expected ErrAssetPaused, got %v", err)
	}
	if err := engine.ResumeAsset("ATOM"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := engine.DepositCollateral("ATOM", big.NewInt(1)); err != nil {
		t.Fatalf("deposit after resume: %v", err)
	}
}

func TestInactiveAndUnknownAssets(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DepositCollateral("OSMO", big.NewInt(1)); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if err := engine.DeactivateAsset("ATOM"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := engine.DepositCollateral("ATOM", big.NewInt(1)); !errors.Is(err, ErrAssetInactive) {
		t.Fatalf("expected ErrAssetInactive, got %v", err)
	}
}

func TestModulePauseGuard(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetPauses(pauseMap{"ledger": true})
	if err := engine.DepositCollateral("ATOM", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestPendingRewardClaim(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.DepositCollateral("ATOM", big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.AddPendingReward("ATOM", big.NewInt(30)); err != nil {
		t.Fatalf("earmark: %v", err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	if err := engine.ClaimPendingReward("ATOM", to, big.NewInt(40)); !errors.Is(err, ErrInsufficientRewards) {
		t.Fatalf("expected ErrInsufficientRewards, got %v", err)
	}
	if err := engine.ClaimPendingReward("ATOM", to, big.NewInt(30)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	physical, _ := engine.PhysicalBalance("ATOM")
	if physical.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected physical 20 after reward claim, got %s", physical)
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }
