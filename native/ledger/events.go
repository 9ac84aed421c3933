package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/core/events"
	"fluidity/core/types"
)

const (
	EventTypeCollateralDeposited   = "ledger.collateral.deposited"
	EventTypeCollateralWithdrawn   = "ledger.collateral.withdrawn"
	EventTypeCollateralTransferred = "ledger.collateral.transferred"
	EventTypeDebtMinted            = "ledger.debt.minted"
	EventTypeDebtBurned            = "ledger.debt.burned"
	EventTypeCustodyCredited       = "ledger.custody.credited"
	EventTypeCustodyReleased       = "ledger.custody.released"
)

type collateralDeposited struct {
	Asset  string
	Amount *big.Int
}

func (collateralDeposited) EventType() string { return EventTypeCollateralDeposited }

func (e collateralDeposited) Event() *types.Event {
	return assetAmountEvent(EventTypeCollateralDeposited, e.Asset, e.Amount)
}

type collateralWithdrawn struct {
	Asset  string
	Amount *big.Int
}

func (collateralWithdrawn) EventType() string { return EventTypeCollateralWithdrawn }

func (e collateralWithdrawn) Event() *types.Event {
	return assetAmountEvent(EventTypeCollateralWithdrawn, e.Asset, e.Amount)
}

type collateralTransferred struct {
	Asset  string
	To     common.Address
	Amount *big.Int
}

func (collateralTransferred) EventType() string { return EventTypeCollateralTransferred }

func (e collateralTransferred) Event() *types.Event {
	evt := assetAmountEvent(EventTypeCollateralTransferred, e.Asset, e.Amount)
	evt.Attributes["to"] = e.To.Hex()
	return evt
}

type debtMinted struct {
	Asset  string
	Amount *big.Int
}

func (debtMinted) EventType() string { return EventTypeDebtMinted }

func (e debtMinted) Event() *types.Event {
	return assetAmountEvent(EventTypeDebtMinted, e.Asset, e.Amount)
}

type debtBurned struct {
	Asset  string
	Amount *big.Int
}

func (debtBurned) EventType() string { return EventTypeDebtBurned }

func (e debtBurned) Event() *types.Event {
	return assetAmountEvent(EventTypeDebtBurned, e.Asset, e.Amount)
}

type custodyCredited struct {
	Asset  string
	Amount *big.Int
}

func (custodyCredited) EventType() string { return EventTypeCustodyCredited }

func (e custodyCredited) Event() *types.Event {
	return assetAmountEvent(EventTypeCustodyCredited, e.Asset, e.Amount)
}

type custodyReleased struct {
	Asset  string
	Amount *big.Int
}

func (custodyReleased) EventType() string { return EventTypeCustodyReleased }

func (e custodyReleased) Event() *types.Event {
	return assetAmountEvent(EventTypeCustodyReleased, e.Asset, e.Amount)
}

func assetAmountEvent(eventType, asset string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"asset":  events.NormalizeAsset(asset),
			"amount": events.FormatAmount(amount),
		},
	}
}
