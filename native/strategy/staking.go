package strategy

import (
	"math/big"
	"time"
)

// pendingUnbond is a tranche of bonded funds waiting out the unbonding
// period. It is consumed once the release time elapses.
type pendingUnbond struct {
	amount      *big.Int
	releaseTime int64
}

type stakingBook struct {
	bonded  *big.Int
	unbonds []*pendingUnbond
}

// StakingAdapter deploys collateral into a staking venue with an unbonding
// delay. Recalls first return any matured unbonds, then queue the remainder
// for release; a recall issued mid-unbonding can legitimately return zero.
type StakingAdapter struct {
	id        string
	unbonding time.Duration
	frozen    bool
	clock     func() time.Time
	books     map[string]*stakingBook
}

// NewStakingAdapter constructs a staking adapter with the given unbonding
// period.
func NewStakingAdapter(id string, unbonding time.Duration) *StakingAdapter {
	return &StakingAdapter{
		id:        id,
		unbonding: unbonding,
		clock:     time.Now,
		books:     make(map[string]*stakingBook),
	}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (s *StakingAdapter) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// SetFrozen toggles the frozen flag, simulating a halted staking contract.
func (s *StakingAdapter) SetFrozen(frozen bool) {
	if s == nil {
		return
	}
	s.frozen = frozen
}

// ID implements Adapter.
func (s *StakingAdapter) ID() string { return s.id }

// Deploy bonds the full amount; staking venues accept deposits 1:1.
func (s *StakingAdapter) Deploy(asset string, amount *big.Int) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if s.frozen {
		return nil, ErrVenueFrozen
	}
	book := s.book(asset)
	book.bonded = new(big.Int).Add(book.bonded, amount)
	return &Receipt{Deployed: new(big.Int).Set(amount)}, nil
}

// Recall returns matured unbonds up to the requested amount and queues any
// shortfall for unbonding. Only the matured portion is credited to dest now.
func (s *StakingAdapter) Recall(asset string, requested *big.Int, dest CustodySink) (*big.Int, error) {
	if requested == nil || requested.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if dest == nil {
		return nil, ErrNilSink
	}
	if s.frozen {
		return big.NewInt(0), nil
	}
	book := s.book(asset)
	now := s.clock().Unix()

	returned := big.NewInt(0)
	remaining := new(big.Int).Set(requested)
	kept := book.unbonds[:0]
	for _, unbond := range book.unbonds {
		if remaining.Sign() > 0 && unbond.releaseTime <= now {
			take := new(big.Int).Set(unbond.amount)
			if take.Cmp(remaining) > 0 {
				take.Set(remaining)
				unbond.amount = new(big.Int).Sub(unbond.amount, take)
				kept = append(kept, unbond)
			}
			returned = new(big.Int).Add(returned, take)
			remaining = new(big.Int).Sub(remaining, take)
			continue
		}
		kept = append(kept, unbond)
	}
	book.unbonds = kept

	// Queue the shortfall for unbonding; it becomes recallable later.
	if remaining.Sign() > 0 && book.bonded.Sign() > 0 {
		queue := new(big.Int).Set(remaining)
		if queue.Cmp(book.bonded) > 0 {
			queue.Set(book.bonded)
		}
		book.bonded = new(big.Int).Sub(book.bonded, queue)
		book.unbonds = append(book.unbonds, &pendingUnbond{
			amount:      queue,
			releaseTime: now + int64(s.unbonding/time.Second),
		})
	}

	if returned.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := dest.Credit(asset, returned); err != nil {
		return nil, err
	}
	return returned, nil
}

// AvailableLiquidity reports only the matured unbonds. Bonded funds behind
// the unbonding delay are excluded, which pushes this venue to the back of
// the recall priority order.
func (s *StakingAdapter) AvailableLiquidity(asset string) *big.Int {
	if s.frozen {
		return big.NewInt(0)
	}
	book := s.book(asset)
	now := s.clock().Unix()
	available := big.NewInt(0)
	for _, unbond := range book.unbonds {
		if unbond.releaseTime <= now {
			available = new(big.Int).Add(available, unbond.amount)
		}
	}
	return available
}

func (s *StakingAdapter) book(asset string) *stakingBook {
	b, ok := s.books[asset]
	if !ok {
		b = &stakingBook{bonded: big.NewInt(0)}
		s.books[asset] = b
	}
	return b
}
