package allocation

import (
	"math/big"

	"fluidity/core/events"
	"fluidity/core/types"
)

const (
	eventTypeAllocated  = "allocation.deployed"
	eventTypeRebalanced = "allocation.rebalanced"
	eventTypeRecalled   = "allocation.recalled"
)

type allocated struct {
	Asset  string
	Amount *big.Int
}

func (allocated) EventType() string { return eventTypeAllocated }

func (evt allocated) Event() *types.Event {
	return &types.Event{
		Type: eventTypeAllocated,
		Attributes: map[string]string{
			"asset":  evt.Asset,
			"amount": events.FormatAmount(evt.Amount),
		},
	}
}

type rebalanced struct {
	Asset string
}

func (rebalanced) EventType() string { return eventTypeRebalanced }

func (evt rebalanced) Event() *types.Event {
	return &types.Event{
		Type:       eventTypeRebalanced,
		Attributes: map[string]string{"asset": evt.Asset},
	}
}

type recalled struct {
	Asset     string
	Requested *big.Int
	Recovered *big.Int
}

func (recalled) EventType() string { return eventTypeRecalled }

func (evt recalled) Event() *types.Event {
	return &types.Event{
		Type: eventTypeRecalled,
		Attributes: map[string]string{
			"asset":     evt.Asset,
			"requested": events.FormatAmount(evt.Requested),
			"recovered": events.FormatAmount(evt.Recovered),
		},
	}
}
