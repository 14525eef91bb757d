package cortexm

import (
	"fmt"

	"github.com/davecheney/vtor/irq"
)

// Dispatch takes exception n now, whatever its enable and pending state,
// and returns once its handler does. It returns the entry taken from the
// vector table.
func (c *Core) Dispatch(n irq.IRQn) (uint32, error) {
	if err := c.valid(n); err != nil {
		return 0, err
	}
	if c.lockup.Load() {
		return 0, ErrLockup
	}
	entry, h, err := c.vector(n)
	if err != nil {
		return entry, c.escalate(n, err)
	}
	return entry, c.call(n, entry, h)
}

func (c *Core) take(n irq.IRQn) error {
	_, err := c.Dispatch(n)
	return err
}

// vector reads the entry for n through VTOR and finds the code it
// points at.
func (c *Core) vector(n irq.IRQn) (entry uint32, h irq.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(fault)
			if !ok {
				panic(r)
			}
			err = f
		}
	}()
	addr := c.bus.read32(SCB_VTOR) + uint32(n.Slot())*4
	entry = c.bus.read32(addr)
	if entry&1 == 0 {
		return entry, nil, fault{entry, "branch to non-thumb address"}
	}
	c.mu.Lock()
	h, ok := c.code[entry&^1]
	c.mu.Unlock()
	if !ok {
		return entry, nil, fault{entry &^ 1, "no code"}
	}
	return entry, h, nil
}

// call runs h as the handler for n. A handler that reaches irq.Default
// parks the core at the entry it was called through.
func (c *Core) call(n irq.IRQn, entry uint32, h irq.Handler) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == irq.ErrUnhandled {
			c.lock(entry &^ 1)
			err = fmt.Errorf("%v: spinning at 0x%08x: %w", n, entry&^1, ErrLockup)
			return
		}
		f, ok := r.(fault)
		if !ok {
			panic(r)
		}
		err = c.escalate(n, f)
	}()
	h()
	return nil
}

// escalate takes HardFault for a fault raised while taking n. A fault
// in NMI or HardFault locks the core up.
func (c *Core) escalate(n irq.IRQn, cause error) error {
	if n == irq.HardFault || n == irq.NonMaskableInt {
		c.lock(lockupPC)
		return fmt.Errorf("%v: %v: %w", n, cause, ErrLockup)
	}
	if _, err := c.Dispatch(irq.HardFault); err != nil {
		return err
	}
	return fmt.Errorf("%v escalated to HardFault: %w", n, cause)
}
