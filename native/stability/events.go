package stability

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/core/events"
	"fluidity/core/types"
)

const (
	eventTypeDepositUpdated = "stability.deposit.updated"
	eventTypeDebtOffset     = "stability.debt.offset"
	eventTypeGainClaimed    = "stability.gain.claimed"
)

type depositUpdated struct {
	Owner  common.Address
	Amount *big.Int
}

func (depositUpdated) EventType() string { return eventTypeDepositUpdated }

func (evt depositUpdated) Event() *types.Event {
	return &types.Event{
		Type: eventTypeDepositUpdated,
		Attributes: map[string]string{
			"owner":  evt.Owner.Hex(),
			"amount": events.FormatAmount(evt.Amount),
		},
	}
}

type debtOffset struct {
	Asset      string
	Debt       *big.Int
	Collateral *big.Int
}

func (debtOffset) EventType() string { return eventTypeDebtOffset }

func (evt debtOffset) Event() *types.Event {
	return &types.Event{
		Type: eventTypeDebtOffset,
		Attributes: map[string]string{
			"asset":      evt.Asset,
			"debt":       events.FormatAmount(evt.Debt),
			"collateral": events.FormatAmount(evt.Collateral),
		},
	}
}

type gainClaimed struct {
	Owner  common.Address
	Asset  string
	Amount *big.Int
}

func (gainClaimed) EventType() string { return eventTypeGainClaimed }

func (evt gainClaimed) Event() *types.Event {
	return &types.Event{
		Type: eventTypeGainClaimed,
		Attributes: map[string]string{
			"owner":  evt.Owner.Hex(),
			"asset":  evt.Asset,
			"amount": events.FormatAmount(evt.Amount),
		},
	}
}
