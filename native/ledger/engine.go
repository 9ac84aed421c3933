package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/core/events"
	nativecommon "fluidity/native/common"
)

var (
	errNilState = errors.New("collateral ledger: state not configured")

	// ErrInvalidAmount rejects zero, negative, or nil amounts before any
	// state is touched.
	ErrInvalidAmount = errors.New("collateral ledger: amount must be positive")
	// ErrAssetNotFound signals the asset was never activated.
	ErrAssetNotFound = errors.New("collateral ledger: asset not found")
	// ErrAssetInactive signals the asset has been deactivated.
	ErrAssetInactive = errors.New("collateral ledger: asset inactive")
	// ErrAssetPaused signals the asset is administratively paused.
	ErrAssetPaused = errors.New("collateral ledger: asset paused")
	// ErrInsufficientCollateral covers both logical shortfalls on
	// accounting withdrawals and physical shortfalls on custody transfers.
	ErrInsufficientCollateral = errors.New("collateral ledger: insufficient collateral")
	// ErrInsufficientDebtReserve rejects burning more debt than is
	// outstanding.
	ErrInsufficientDebtReserve = errors.New("collateral ledger: insufficient debt reserve")
	// ErrInsufficientRewards rejects claiming more than the earmarked
	// liquidation compensation.
	ErrInsufficientRewards = errors.New("collateral ledger: insufficient pending rewards")
)

const moduleName = "ledger"

type engineState interface {
	GetAssetAccount(asset string) (*AssetAccount, error)
	PutAssetAccount(asset string, account *AssetAccount) error
	GetCustody(asset string) (*CustodyRecord, error)
	PutCustody(asset string, custody *CustodyRecord) error
}

// Engine is the single source of truth for logical collateral and debt per
// asset, and the only component permitted to move physically held funds to an
// external recipient. Every mutation validates before touching state; custody
// transfers consult the physical balance immediately before moving funds,
// never the logical totals.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	entry   nativecommon.EntryGuard
	nowFn   func() int64
}

// NewEngine constructs a ledger engine with a no-op event emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

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

// SetNowFunc overrides the time source used for LastUpdate stamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// ActivateAsset registers the asset, creating its account and custody records
// when they do not exist yet. Re-activating an existing asset clears the
// inactive flag without resetting balances.
func (e *Engine) ActivateAsset(asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	symbol := NormalizeAsset(asset)
	if symbol == "" {
		return ErrAssetNotFound
	}
	account, err := e.state.GetAssetAccount(symbol)
	if err != nil {
		return err
	}
	if account == nil {
		account = &AssetAccount{Asset: symbol}
	}
	ensureAccountDefaults(account)
	account.Active = true
	account.LastUpdate = e.nowFn()
	if err := e.state.PutAssetAccount(symbol, account); err != nil {
		return err
	}
	custody, err := e.state.GetCustody(symbol)
	if err != nil {
		return err
	}
	if custody == nil {
		custody = &CustodyRecord{Asset: symbol, Balance: big.NewInt(0)}
		if err := e.state.PutCustody(symbol, custody); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateAsset blocks all mutating operations for the asset.
func (e *Engine) DeactivateAsset(asset string) error {
	return e.setFlags(asset, func(account *AssetAccount) { account.Active = false })
}

// PauseAsset suspends mutations without deactivating the asset.
func (e *Engine) PauseAsset(asset string) error {
	return e.setFlags(asset, func(account *AssetAccount) { account.Paused = true })
}

// ResumeAsset lifts a per-asset pause.
func (e *Engine) ResumeAsset(asset string) error {
	return e.setFlags(asset, func(account *AssetAccount) { account.Paused = false })
}

func (e *Engine) setFlags(asset string, apply func(*AssetAccount)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	account, err := e.loadAccount(asset)
	if err != nil {
		return err
	}
	apply(account)
	account.LastUpdate = e.nowFn()
	return e.state.PutAssetAccount(account.Asset, account)
}

// DepositCollateral increases the logical collateral total and assumes the
// physical tokens have already been received into custody by the caller's
// transfer step; the matching custody credit happens here. Repeated calls
// simply accumulate.
func (e *Engine) DepositCollateral(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	custody, err := e.loadCustody(account.Asset)
	if err != nil {
		return err
	}

	account.LogicalCollateral = new(big.Int).Add(account.LogicalCollateral, amount)
	account.LastUpdate = e.nowFn()
	custody.Balance = new(big.Int).Add(custody.Balance, amount)

	if err := e.state.PutAssetAccount(account.Asset, account); err != nil {
		return err
	}
	if err := e.state.PutCustody(account.Asset, custody); err != nil {
		return err
	}
	e.emit(collateralDeposited{Asset: account.Asset, Amount: amount})
	return nil
}

// WithdrawCollateralAccounting decreases the logical collateral total. It
// mutates accounting only and does not move tokens.
func (e *Engine) WithdrawCollateralAccounting(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	if account.LogicalCollateral.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s tracked %s",
			ErrInsufficientCollateral, account.Asset, amount, account.LogicalCollateral)
	}
	account.LogicalCollateral = new(big.Int).Sub(account.LogicalCollateral, amount)
	account.LastUpdate = e.nowFn()
	if err := e.state.PutAssetAccount(account.Asset, account); err != nil {
		return err
	}
	e.emit(collateralWithdrawn{Asset: account.Asset, Amount: amount})
	return nil
}

// TransferCollateral moves physical tokens out of custody to an external
// recipient. The physical balance is re-read and checked immediately before
// the transfer; logical totals are never consulted here. The transfer is
// all-or-nothing.
func (e *Engine) TransferCollateral(asset string, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	custody, err := e.loadCustody(account.Asset)
	if err != nil {
		return err
	}
	if custody.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s available %s",
			ErrInsufficientCollateral, account.Asset, amount, custody.Balance)
	}
	custody.Balance = new(big.Int).Sub(custody.Balance, amount)
	if err := e.state.PutCustody(account.Asset, custody); err != nil {
		return err
	}
	e.emit(collateralTransferred{Asset: account.Asset, To: to, Amount: amount})
	return nil
}

// MintDebt increases the outstanding stablecoin debt against the asset.
func (e *Engine) MintDebt(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	account.LogicalDebt = new(big.Int).Add(account.LogicalDebt, amount)
	account.LastUpdate = e.nowFn()
	if err := e.state.PutAssetAccount(account.Asset, account); err != nil {
		return err
	}
	e.emit(debtMinted{Asset: account.Asset, Amount: amount})
	return nil
}

// BurnDebt decreases the outstanding stablecoin debt against the asset.
func (e *Engine) BurnDebt(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	if account.LogicalDebt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s outstanding %s",
			ErrInsufficientDebtReserve, account.Asset, amount, account.LogicalDebt)
	}
	account.LogicalDebt = new(big.Int).Sub(account.LogicalDebt, amount)
	account.LastUpdate = e.nowFn()
	if err := e.state.PutAssetAccount(account.Asset, account); err != nil {
		return err
	}
	e.emit(debtBurned{Asset: account.Asset, Amount: amount})
	return nil
}

// Credit receives funds recalled from a strategy venue back into custody. It
// satisfies the custody sink contract consumed by strategy adapters.
func (e *Engine) Credit(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	custody, err := e.loadCustody(NormalizeAsset(asset))
	if err != nil {
		return err
	}
	custody.Balance = new(big.Int).Add(custody.Balance, amount)
	if err := e.state.PutCustody(custody.Asset, custody); err != nil {
		return err
	}
	e.emit(custodyCredited{Asset: custody.Asset, Amount: amount})
	return nil
}

// ReleaseToStrategy debits custody for a deployment into a strategy venue,
// checking the physical balance immediately beforehand. Logical totals are
// untouched: deployed funds are still owned, just not physically present.
func (e *Engine) ReleaseToStrategy(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	custody, err := e.loadCustody(account.Asset)
	if err != nil {
		return err
	}
	if custody.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s available %s",
			ErrInsufficientCollateral, account.Asset, amount, custody.Balance)
	}
	custody.Balance = new(big.Int).Sub(custody.Balance, amount)
	if err := e.state.PutCustody(account.Asset, custody); err != nil {
		return err
	}
	e.emit(custodyReleased{Asset: account.Asset, Amount: amount})
	return nil
}

// AddPendingReward earmarks liquidation compensation that has not been paid
// out yet.
func (e *Engine) AddPendingReward(asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	account.PendingRewards = new(big.Int).Add(account.PendingRewards, amount)
	account.LastUpdate = e.nowFn()
	return e.state.PutAssetAccount(account.Asset, account)
}

// ClaimPendingReward pays out earmarked liquidation compensation, routing the
// payment through the same physical-balance check as any other transfer.
func (e *Engine) ClaimPendingReward(asset string, to common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
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
	account, err := e.activeAccount(asset)
	if err != nil {
		return err
	}
	if account.PendingRewards.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s earmarked %s",
			ErrInsufficientRewards, account.Asset, amount, account.PendingRewards)
	}
	custody, err := e.loadCustody(account.Asset)
	if err != nil {
		return err
	}
	if custody.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %s requested %s available %s",
			ErrInsufficientCollateral, account.Asset, amount, custody.Balance)
	}
	account.PendingRewards = new(big.Int).Sub(account.PendingRewards, amount)
	account.LastUpdate = e.nowFn()
	custody.Balance = new(big.Int).Sub(custody.Balance, amount)
	if err := e.state.PutAssetAccount(account.Asset, account); err != nil {
		return err
	}
	if err := e.state.PutCustody(account.Asset, custody); err != nil {
		return err
	}
	e.emit(collateralTransferred{Asset: account.Asset, To: to, Amount: amount})
	return nil
}

// CollateralReserve returns the logical collateral total. The value describes
// ownership, not custody: payout-path callers must use PhysicalBalance when
// deciding whether a transfer can succeed.
func (e *Engine) CollateralReserve(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.loadAccount(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.LogicalCollateral), nil
}

// DebtOutstanding returns the logical stablecoin debt against the asset.
func (e *Engine) DebtOutstanding(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.loadAccount(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.LogicalDebt), nil
}

// PhysicalBalance returns the amount actually held in custody, redeemable
// without any cross-venue recall. It is read fresh from state on every call.
func (e *Engine) PhysicalBalance(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	custody, err := e.loadCustody(NormalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(custody.Balance), nil
}

// AssetAccountOf returns a copy of the asset account for queries.
func (e *Engine) AssetAccountOf(asset string) (*AssetAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.loadAccount(asset)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func (e *Engine) loadAccount(asset string) (*AssetAccount, error) {
	symbol := NormalizeAsset(asset)
	if symbol == "" {
		return nil, ErrAssetNotFound
	}
	account, err := e.state.GetAssetAccount(symbol)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
	}
	ensureAccountDefaults(account)
	return account, nil
}

func (e *Engine) activeAccount(asset string) (*AssetAccount, error) {
	account, err := e.loadAccount(asset)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, fmt.Errorf("%w: %s", ErrAssetInactive, account.Asset)
	}
	if account.Paused {
		return nil, fmt.Errorf("%w: %s", ErrAssetPaused, account.Asset)
	}
	return account, nil
}

func (e *Engine) loadCustody(asset string) (*CustodyRecord, error) {
	custody, err := e.state.GetCustody(asset)
	if err != nil {
		return nil, err
	}
	if custody == nil {
		custody = &CustodyRecord{Asset: asset, Balance: big.NewInt(0)}
	}
	if custody.Balance == nil {
		custody.Balance = big.NewInt(0)
	}
	return custody, nil
}

func ensureAccountDefaults(account *AssetAccount) {
	if account.LogicalCollateral == nil {
		account.LogicalCollateral = big.NewInt(0)
	}
	if account.LogicalDebt == nil {
		account.LogicalDebt = big.NewInt(0)
	}
	if account.BorrowedFromPeerPool == nil {
		account.BorrowedFromPeerPool = big.NewInt(0)
	}
	if account.PendingRewards == nil {
		account.PendingRewards = big.NewInt(0)
	}
}

// NormalizeAsset renders the canonical upper-case form of an asset symbol.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
