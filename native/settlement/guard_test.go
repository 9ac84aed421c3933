package settlement

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "fluidity/native/common"
	"fluidity/native/strategy"
)

type mockCustody struct {
	physical *big.Int
}

func (m *mockCustody) PhysicalBalance(asset string) (*big.Int, error) {
	return new(big.Int).Set(m.physical), nil
}

func (m *mockCustody) Credit(asset string, amount *big.Int) error {
	m.physical.Add(m.physical, amount)
	return nil
}

// mockAllocator hands back up to its deployed balance, crediting the sink
// the way the real cascade does.
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

func TestEnsureSettleableFastPath(t *testing.T) {
	custody := &mockCustody{physical: big.NewInt(500)}
	alloc := &mockAllocator{deployed: big.NewInt(0)}
	guard := NewGuard(custody, alloc)

	if err := guard.EnsureSettleable("ZNHB", big.NewInt(500)); err != nil {
		t.Fatalf("ensure settleable: %v", err)
	}
	if len(alloc.calls) != 0 {
		t.Fatalf("recall triggered despite sufficient reserve")
	}
}

func TestEnsureSettleableRecallsShortfall(t *testing.T) {
	custody := &mockCustody{physical: big.NewInt(300)}
	alloc := &mockAllocator{deployed: big.NewInt(700)}
	guard := NewGuard(custody, alloc)

	if err := guard.EnsureSettleable("ZNHB", big.NewInt(600)); err != nil {
		t.Fatalf("ensure settleable: %v", err)
	}
	if len(alloc.calls) != 1 {
		t.Fatalf("recall calls = %d, want 1", len(alloc.calls))
	}
	if alloc.calls[0].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("recall requested %s, want exactly the shortfall 300", alloc.calls[0])
	}
	if custody.physical.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("physical = %s, want 600", custody.physical)
	}
	if alloc.deployed.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("deployed = %s, want 400", alloc.deployed)
	}
}

func TestEnsureSettleableExhaustedKeepsRecovered(t *testing.T) {
	custody := &mockCustody{physical: big.NewInt(200)}
	alloc := &mockAllocator{deployed: big.NewInt(500)}
	guard := NewGuard(custody, alloc)

	err := guard.EnsureSettleable("ZNHB", big.NewInt(1000))
	if !errors.Is(err, ErrInsufficientSystemLiquidity) {
		t.Fatalf("expected ErrInsufficientSystemLiquidity, got %v", err)
	}
	// Everything recallable was recalled and stays in custody.
	if custody.physical.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("physical = %s, want 700", custody.physical)
	}
	if alloc.deployed.Sign() != 0 {
		t.Fatalf("deployed = %s, want 0", alloc.deployed)
	}
}

func TestEnsureSettleableZeroAmount(t *testing.T) {
	guard := NewGuard(&mockCustody{physical: big.NewInt(0)}, &mockAllocator{deployed: big.NewInt(0)})
	if err := guard.EnsureSettleable("ZNHB", big.NewInt(0)); err != nil {
		t.Fatalf("zero amount should settle trivially: %v", err)
	}
	if err := guard.EnsureSettleable("ZNHB", big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// reentrantAllocator dials back into the guard mid-recall, the shape of a
// malicious venue callback.
type reentrantAllocator struct {
	guard *Guard
	inner error
}

func (m *reentrantAllocator) WithdrawFromStrategies(asset string, amountNeeded *big.Int, dest strategy.CustodySink) (*big.Int, error) {
	m.inner = m.guard.EnsureSettleable(asset, amountNeeded)
	return big.NewInt(0), nil
}

func TestEnsureSettleableBlocksReentrancy(t *testing.T) {
	custody := &mockCustody{physical: big.NewInt(100)}
	guard := NewGuard(custody, nil)
	alloc := &reentrantAllocator{guard: guard}
	guard.allocator = alloc

	err := guard.EnsureSettleable("ZNHB", big.NewInt(500))
	if !errors.Is(err, ErrInsufficientSystemLiquidity) {
		t.Fatalf("expected ErrInsufficientSystemLiquidity, got %v", err)
	}
	if !errors.Is(alloc.inner, nativecommon.ErrReentrantCall) {
		t.Fatalf("inner call = %v, want ErrReentrantCall", alloc.inner)
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestEnsureSettleablePaused(t *testing.T) {
	guard := NewGuard(&mockCustody{physical: big.NewInt(100)}, &mockAllocator{deployed: big.NewInt(0)})
	guard.SetPauses(pauseMap{moduleName: true})
	err := guard.EnsureSettleable("ZNHB", big.NewInt(10))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
