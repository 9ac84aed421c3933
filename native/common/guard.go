package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a protocol module has been administratively
// paused. Implementations are provided by the host environment.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
