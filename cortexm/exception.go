package cortexm

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/davecheney/vtor/irq"
)

// lockupPC is the address the core reports after a fault in HardFault.
const lockupPC = 0xEFFFFFFE

var (
	// ErrLockup is returned once the core has stopped executing, either
	// parked in irq.Default or after a fault it could not escalate.
	ErrLockup = errors.New("cortexm: core locked up")

	// ErrNoRAM is returned when a NoInit block does not fit in SRAM.
	ErrNoRAM = errors.New("cortexm: out of sram")

	// ErrFlashFull is returned by Entry when every code address in flash
	// is held by a linked handler.
	ErrFlashFull = errors.New("cortexm: flash full")
)

// fault is a bus or usage fault raised while taking an exception.
type fault struct {
	addr uint32
	why  string
}

func (f fault) Error() string {
	return fmt.Sprintf("fault: %s at 0x%08x", f.why, f.addr)
}

// NVIC holds interrupt enable and pending state. Pending bits are kept
// per table slot so system exceptions can pend too; enable bits cover
// the device interrupts only.
type NVIC struct {
	enabled atomic.Uint32
	pending atomic.Uint64
}

func (n *NVIC) enable(mask uint32) {
	for {
		old := n.enabled.Load()
		if n.enabled.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (n *NVIC) disable(mask uint32) {
	for {
		old := n.enabled.Load()
		if n.enabled.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

func (n *NVIC) setPending(mask uint32) { n.pend(uint64(mask) << irq.SystemExceptions) }

func (n *NVIC) clearPending(mask uint32) { n.unpend(uint64(mask) << irq.SystemExceptions) }

func (n *NVIC) devicePending() uint32 {
	return uint32(n.pending.Load() >> irq.SystemExceptions)
}

func (n *NVIC) pend(mask uint64) {
	for {
		old := n.pending.Load()
		if n.pending.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (n *NVIC) unpend(mask uint64) {
	for {
		old := n.pending.Load()
		if n.pending.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// next returns the lowest numbered pending exception that may be taken
// and clears its pending bit.
func (n *NVIC) next() (irq.IRQn, bool) {
	for {
		old := n.pending.Load()
		ready := old &^ (uint64(^n.enabled.Load()) << irq.SystemExceptions)
		if ready == 0 {
			return 0, false
		}
		slot := bits.TrailingZeros64(ready)
		if n.pending.CompareAndSwap(old, old&^(1<<slot)) {
			return irq.IRQn(slot - irq.SystemExceptions), true
		}
	}
}

func (n *NVIC) reset() {
	n.enabled.Store(0)
	n.pending.Store(0)
}
