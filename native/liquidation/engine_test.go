package liquidation

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fluidity/native/settlement"
	"fluidity/native/strategy"
)

type mockState struct {
	positions map[string]map[common.Address]*Position
	riskLists map[string][]common.Address
	redist    map[string]*Redistribution
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[string]map[common.Address]*Position),
		riskLists: make(map[string][]common.Address),
		redist:    make(map[string]*Redistribution),
	}
}

func (m *mockState) GetPosition(asset string, borrower common.Address) (*Position, error) {
	byAsset, ok := m.positions[asset]
	if !ok {
		return nil, nil
	}
	position, ok := byAsset[borrower]
	if !ok {
		return nil, nil
	}
	return position.Clone(), nil
}

func (m *mockState) PutPosition(asset string, position *Position) error {
	byAsset, ok := m.positions[asset]
	if !ok {
		byAsset = make(map[common.Address]*Position)
		m.positions[asset] = byAsset
	}
	byAsset[position.Borrower] = position.Clone()
	return nil
}

func (m *mockState) GetRiskList(asset string) ([]common.Address, error) {
	return append([]common.Address(nil), m.riskLists[asset]...), nil
}

func (m *mockState) PutRiskList(asset string, list []common.Address) error {
	m.riskLists[asset] = append([]common.Address(nil), list...)
	return nil
}

func (m *mockState) GetRedistribution(asset string) (*Redistribution, error) {
	record, ok := m.redist[asset]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (m *mockState) PutRedistribution(asset string, record *Redistribution) error {
	m.redist[asset] = record.Clone()
	return nil
}

// mockLedger implements both the liquidation custody slice and the
// settlement guard's view of the ledger.
type mockLedger struct {
	physical  *big.Int
	logical   *big.Int
	debt      *big.Int
	transfers map[common.Address]*big.Int
}

func newMockLedger(physical, logical, debt int64) *mockLedger {
	return &mockLedger{
		physical:  big.NewInt(physical),
		logical:   big.NewInt(logical),
		debt:      big.NewInt(debt),
		transfers: make(map[common.Address]*big.Int),
	}
}

func (m *mockLedger) PhysicalBalance(asset string) (*big.Int, error) {
	return new(big.Int).Set(m.physical), nil
}

func (m *mockLedger) Credit(asset string, amount *big.Int) error {
	m.physical.Add(m.physical, amount)
	return nil
}

func (m *mockLedger) TransferCollateral(asset string, to common.Address, amount *big.Int) error {
	if m.physical.Cmp(amount) < 0 {
		return fmt.Errorf("custody underflow: have %s want %s", m.physical, amount)
	}
	m.physical.Sub(m.physical, amount)
	prev, ok := m.transfers[to]
	if !ok {
		prev = big.NewInt(0)
	}
	m.transfers[to] = new(big.Int).Add(prev, amount)
	return nil
}

func (m *mockLedger) WithdrawCollateralAccounting(asset string, amount *big.Int) error {
	if m.logical.Cmp(amount) < 0 {
		return fmt.Errorf("logical underflow: have %s want %s", m.logical, amount)
	}
	m.logical.Sub(m.logical, amount)
	return nil
}

func (m *mockLedger) BurnDebt(asset string, amount *big.Int) error {
	m.debt.Sub(m.debt, amount)
	return nil
}

type mockAllocator struct {
	deployed *big.Int
	calls    []*big.Int
}

func (m *mockAllocator) WithdrawFromStrategies(asset string, amountNeeded *big.Int, dest strategy.CustodySink) (*big.Int, error) {
	m.calls = append(m.calls, new(big.Int).Set(amountNeeded))
	recovered := new(big.Int).Set(amountNeeded)
	if recovered.Cmp(m.deployed) > 0 {
		recovered.Set(m.deployed)
	}
	if recovered.Sign() > 0 {
		m.deployed.Sub(m.deployed, recovered)
		if err := dest.Credit(asset, recovered); err != nil {
			return nil, err
		}
	}
	return recovered, nil
}

type mockAbsorber struct {
	total      *big.Int
	offsetDebt *big.Int
	offsetColl *big.Int
	offsetErr  error
}

func (m *mockAbsorber) TotalDeposits() *big.Int { return new(big.Int).Set(m.total) }

func (m *mockAbsorber) Offset(asset string, debtToOffset, collateralToAdd *big.Int) error {
	if m.offsetErr != nil {
		return m.offsetErr
	}
	if debtToOffset.Cmp(m.total) > 0 {
		return errors.New("offset exceeds pool")
	}
	m.total.Sub(m.total, debtToOffset)
	m.offsetDebt = new(big.Int).Set(debtToOffset)
	m.offsetColl = new(big.Int).Set(collateralToAdd)
	return nil
}

type priceStub map[string]*big.Rat

func (p priceStub) Price(asset string) (*big.Rat, bool) {
	r, ok := p[asset]
	return r, ok
}

var (
	liquidatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolAddr       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	redistAddr     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func borrowerAddr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(i + 1)))
}

func newTestEngine(t *testing.T, ledger *mockLedger, alloc *mockAllocator, pool *mockAbsorber) (*Engine, *mockState) {
	t.Helper()
	engine := NewEngine()
	state := newMockState()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetSettlementGuard(settlement.NewGuard(ledger, alloc))
	if pool != nil {
		engine.SetAbsorber(pool)
	}
	engine.SetOracle(priceStub{"ZNHB": big.NewRat(1, 1)})
	engine.SetModuleAddresses(poolAddr, redistAddr)
	return engine, state
}

func seedPosition(t *testing.T, engine *Engine, borrower common.Address, collateral, debt int64) {
	t.Helper()
	err := engine.UpsertPosition(&Position{
		Borrower:   borrower,
		Asset:      "ZNHB",
		Collateral: big.NewInt(collateral),
		Debt:       big.NewInt(debt),
		Status:     StatusActive,
	})
	if err != nil {
		t.Fatalf("upsert position: %v", err)
	}
}

func TestLiquidateOneSplitsCollateral(t *testing.T) {
	ledger := newMockLedger(1000, 1000, 950)
	alloc := &mockAllocator{deployed: big.NewInt(0)}
	pool := &mockAbsorber{total: big.NewInt(500)}
	engine, _ := newTestEngine(t, ledger, alloc, pool)

	borrower := borrowerAddr(0)
	seedPosition(t, engine, borrower, 1000, 950)

	outcome, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !outcome.Liquidated {
		t.Fatalf("outcome not liquidated: %+v", outcome)
	}
	if outcome.GasCompensation.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("gas comp = %s, want 5", outcome.GasCompensation)
	}
	if outcome.DebtOffset.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("debt offset = %s, want 500", outcome.DebtOffset)
	}
	// 995 * 500 / 950 = 523 floor.
	if outcome.CollateralToPool.Cmp(big.NewInt(523)) != 0 {
		t.Fatalf("collateral to pool = %s, want 523", outcome.CollateralToPool)
	}
	if outcome.RedistributedCollateral.Cmp(big.NewInt(472)) != 0 {
		t.Fatalf("redistributed collateral = %s, want 472", outcome.RedistributedCollateral)
	}
	if outcome.RedistributedDebt.Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("redistributed debt = %s, want 450", outcome.RedistributedDebt)
	}

	if ledger.transfers[liquidatorAddr].Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("liquidator received %s", ledger.transfers[liquidatorAddr])
	}
	if ledger.transfers[poolAddr].Cmp(big.NewInt(523)) != 0 {
		t.Fatalf("pool address received %s", ledger.transfers[poolAddr])
	}
	if ledger.transfers[redistAddr].Cmp(big.NewInt(472)) != 0 {
		t.Fatalf("redistribution address received %s", ledger.transfers[redistAddr])
	}
	if ledger.physical.Sign() != 0 {
		t.Fatalf("physical = %s, want 0", ledger.physical)
	}
	if ledger.logical.Sign() != 0 {
		t.Fatalf("logical = %s, want 0", ledger.logical)
	}
	if ledger.debt.Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("debt = %s, want 450", ledger.debt)
	}
	if pool.offsetDebt.Cmp(big.NewInt(500)) != 0 || pool.offsetColl.Cmp(big.NewInt(523)) != 0 {
		t.Fatalf("pool offset = (%s, %s)", pool.offsetDebt, pool.offsetColl)
	}

	stored, err := engine.PositionOf("ZNHB", borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.Status != StatusLiquidated {
		t.Fatalf("status = %s, want liquidated", stored.Status)
	}
}

func TestLiquidateOffsetFailureLeavesPositionActive(t *testing.T) {
	ledger := newMockLedger(1000, 1000, 1000)
	alloc := &mockAllocator{deployed: big.NewInt(0)}
	pool := &mockAbsorber{total: big.NewInt(500), offsetErr: errors.New("stability paused")}
	engine, _ := newTestEngine(t, ledger, alloc, pool)

	borrower := borrowerAddr(0)
	seedPosition(t, engine, borrower, 1000, 1000)

	if _, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr); err == nil {
		t.Fatal("expected offset failure to surface")
	}

	stored, err := engine.PositionOf("ZNHB", borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.Status != StatusActive {
		t.Fatalf("status = %s, want active", stored.Status)
	}
	list, err := engine.RiskList("ZNHB")
	if err != nil {
		t.Fatalf("risk list: %v", err)
	}
	if len(list) != 1 || list[0] != borrower {
		t.Fatalf("risk list = %v, want [%s]", list, borrower)
	}
	if ledger.debt.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("debt = %s, want untouched 1000", ledger.debt)
	}
	if ledger.logical.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("logical = %s, want untouched 1000", ledger.logical)
	}
	if ledger.physical.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("physical = %s, want untouched 1000", ledger.physical)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	ledger := newMockLedger(2000, 2000, 0)
	engine, _ := newTestEngine(t, ledger, &mockAllocator{deployed: big.NewInt(0)}, nil)
	borrower := borrowerAddr(0)
	seedPosition(t, engine, borrower, 1200, 1000)

	_, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr)
	if !errors.Is(err, ErrPositionNotLiquidatable) {
		t.Fatalf("expected ErrPositionNotLiquidatable, got %v", err)
	}
}

func TestLiquidateTerminalPositionRejected(t *testing.T) {
	ledger := newMockLedger(1000, 1000, 0)
	engine, _ := newTestEngine(t, ledger, &mockAllocator{deployed: big.NewInt(0)}, nil)
	borrower := borrowerAddr(0)
	seedPosition(t, engine, borrower, 100, 100)

	if _, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr); err != nil {
		t.Fatalf("first liquidation: %v", err)
	}
	_, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr)
	if !errors.Is(err, ErrPositionNotLiquidatable) {
		t.Fatalf("expected ErrPositionNotLiquidatable on terminal position, got %v", err)
	}
}

func TestLiquidateWithoutPriceRejected(t *testing.T) {
	ledger := newMockLedger(1000, 1000, 0)
	engine, _ := newTestEngine(t, ledger, &mockAllocator{deployed: big.NewInt(0)}, nil)
	engine.SetOracle(priceStub{})
	borrower := borrowerAddr(0)
	seedPosition(t, engine, borrower, 100, 100)

	_, err := engine.LiquidateOne("ZNHB", borrower, liquidatorAddr)
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestRiskListOrdering(t *testing.T) {
	ledger := newMockLedger(0, 0, 0)
	engine, _ := newTestEngine(t, ledger, &mockAllocator{deployed: big.NewInt(0)}, nil)
	safe := borrowerAddr(0)
	risky := borrowerAddr(1)
	middle := borrowerAddr(2)
	seedPosition(t, engine, safe, 200, 100)
	seedPosition(t, engine, risky, 100, 100)
	seedPosition(t, engine, middle, 105, 100)

	list, err := engine.RiskList("ZNHB")
	if err != nil {
		t.Fatalf("risk list: %v", err)
	}
	want := []common.Address{risky, middle, safe}
	if len(list) != len(want) {
		t.Fatalf("list length = %d, want %d", len(list), len(want))
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("list[%d] = %s, want %s", i, list[i], want[i])
		}
	}
}

func TestSortedListStopsAtFirstHealthy(t *testing.T) {
	ledger := newMockLedger(1000, 1000, 0)
	engine, _ := newTestEngine(t, ledger, &mockAllocator{deployed: big.NewInt(0)}, nil)
	a := borrowerAddr(0)
	b := borrowerAddr(1)
	healthy := borrowerAddr(2)
	seedPosition(t, engine, a, 100, 100)
	seedPosition(t, engine, b, 105, 100)
	seedPosition(t, engine, healthy, 200, 100)

	outcomes, err := engine.LiquidateSequenceFromSortedList("ZNHB", 10, liquidatorAddr)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2 (walk stops at the healthy position)", len(outcomes))
	}
	for _, outcome := range outcomes {
		if !outcome.Liquidated {
			t.Fatalf("outcome for %s not liquidated: %v", outcome.Borrower, outcome.Err)
		}
	}
	stored, err := engine.PositionOf("ZNHB", healthy)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.Status != StatusActive {
		t.Fatalf("healthy position touched: %s", stored.Status)
	}
}

func TestMassLiquidationDrainsReserveThenStrategies(t *testing.T) {
	const positions = 71
	ledger := newMockLedger(300, positions*10, positions*10)
	alloc := &mockAllocator{deployed: big.NewInt(400)}
	engine, _ := newTestEngine(t, ledger, alloc, nil)

	borrowers := make([]common.Address, positions)
	for i := 0; i < positions; i++ {
		borrowers[i] = borrowerAddr(i)
		seedPosition(t, engine, borrowers[i], 10, 10)
	}

	outcomes, err := engine.LiquidateBatch("ZNHB", borrowers, 0, liquidatorAddr)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(outcomes) != positions {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), positions)
	}

	liquidated := 0
	for i, outcome := range outcomes {
		if i < 70 {
			if !outcome.Liquidated {
				t.Fatalf("liquidation #%d failed: %v", i+1, outcome.Err)
			}
			liquidated++
			continue
		}
		if outcome.Liquidated {
			t.Fatalf("liquidation #%d should have failed after exhaustion", i+1)
		}
		if !errors.Is(outcome.Err, settlement.ErrInsufficientSystemLiquidity) {
			t.Fatalf("liquidation #%d error = %v, want ErrInsufficientSystemLiquidity", i+1, outcome.Err)
		}
	}
	if liquidated != 70 {
		t.Fatalf("liquidated = %d, want 70", liquidated)
	}

	// The reserve covers the first 30; every liquidation after that recalls
	// its shortfall, so the first recall request is exactly 10.
	if len(alloc.calls) != 41 {
		t.Fatalf("recall calls = %d, want 41", len(alloc.calls))
	}
	if alloc.calls[0].Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("first recall = %s, want 10", alloc.calls[0])
	}
	if alloc.deployed.Sign() != 0 {
		t.Fatalf("strategy still holds %s", alloc.deployed)
	}
	if ledger.physical.Sign() != 0 {
		t.Fatalf("physical = %s, want 0", ledger.physical)
	}
	// The failed position's books are untouched.
	if ledger.logical.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("logical = %s, want 10", ledger.logical)
	}
	stored, err := engine.PositionOf("ZNHB", borrowers[positions-1])
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.Status != StatusActive {
		t.Fatalf("failed liquidation mutated the position: %s", stored.Status)
	}

	record, err := engine.RedistributionOf("ZNHB")
	if err != nil {
		t.Fatalf("redistribution: %v", err)
	}
	if record.Collateral.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("redistributed collateral = %s, want 700", record.Collateral)
	}
	if record.Debt.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("redistributed debt = %s, want 700", record.Debt)
	}
}
