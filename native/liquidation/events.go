package liquidation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/core/events"
	"fluidity/core/types"
)

const eventTypePositionLiquidated = "liquidation.position.liquidated"

type positionLiquidated struct {
	Asset      string
	Borrower   common.Address
	Collateral *big.Int
	Debt       *big.Int
	DebtOffset *big.Int
	GasComp    *big.Int
}

func (positionLiquidated) EventType() string { return eventTypePositionLiquidated }

func (evt positionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: eventTypePositionLiquidated,
		Attributes: map[string]string{
			"asset":      evt.Asset,
			"borrower":   evt.Borrower.Hex(),
			"collateral": events.FormatAmount(evt.Collateral),
			"debt":       events.FormatAmount(evt.Debt),
			"debtOffset": events.FormatAmount(evt.DebtOffset),
			"gasComp":    events.FormatAmount(evt.GasComp),
		},
	}
}
