package common

import "errors"

// ErrReentrantCall signals that a guarded module boundary was re-entered while
// an outer call was still in progress. It is always surfaced to the caller:
// reentrancy here means either a bug or an attack, never a condition to retry.
var ErrReentrantCall = errors.New("module boundary re-entered")

// EntryGuard is a one-shot mutual-exclusion flag wrapping an externally
// reachable mutating entry point. Execution is serialized per operation, so
// the guard protects against cross-call reentrancy through external venue
// callbacks, not against concurrent goroutines.
type EntryGuard struct {
	entered bool
}

// Enter marks the boundary busy, failing if it already is.
func (g *EntryGuard) Enter() error {
	if g == nil {
		return nil
	}
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Exit clears the boundary. Callers pair it with Enter via defer.
func (g *EntryGuard) Exit() {
	if g == nil {
		return
	}
	g.entered = false
}
