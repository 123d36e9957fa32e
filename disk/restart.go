package disk

import "github.com/ardnew/flashdisk/pkg"

// Restarter performs the device restart that finalizes an update.
// A successful Restart need not return.
type Restarter interface {
	Restart(reason string) error
}

// FuncRestarter adapts a function to the Restarter interface.
type FuncRestarter func(reason string) error

// Restart calls f(reason).
func (f FuncRestarter) Restart(reason string) error {
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return f(reason)
}
