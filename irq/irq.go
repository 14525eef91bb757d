// Package irq moves the Cortex-M vector table into RAM and lets handlers
// be installed and removed at run time.
//
// The first Install copies the table VTOR points at, normally the one at
// the start of flash, into a Store and points VTOR at the copy. Every
// later Install or Remove rewrites a single slot of the Store.
package irq

import (
	"errors"
	"fmt"
)

// IRQn identifies an exception or interrupt line using CMSIS numbering:
// system exceptions are negative, device interrupts count up from 0.
type IRQn int16

// Cortex-M0+ system exceptions.
const (
	NonMaskableInt IRQn = -14
	HardFault      IRQn = -13
	SVCall         IRQn = -5
	PendSV         IRQn = -2
	SysTick        IRQn = -1
)

// SystemExceptions is the number of table slots in front of IRQ 0. Slot 0
// holds the initial stack pointer, slot 1 the reset vector.
const SystemExceptions = 16

// MinIRQn is the lowest identifier that names a code entry. It is the
// reset slot; slot 0 holds a stack pointer and can never take a handler.
const MinIRQn IRQn = 1 - SystemExceptions

// Slot returns the table index of n.
func (n IRQn) Slot() int { return int(n) + SystemExceptions }

func (n IRQn) String() string {
	switch n {
	case NonMaskableInt:
		return "NMI"
	case HardFault:
		return "HardFault"
	case SVCall:
		return "SVCall"
	case PendSV:
		return "PendSV"
	case SysTick:
		return "SysTick"
	case MinIRQn:
		return "Reset"
	}
	if n < 0 {
		return fmt.Sprintf("exception %d", n.Slot())
	}
	return fmt.Sprintf("IRQ%d", int(n))
}

// Handler is code run by the core when an exception is taken. The caller
// owns it and must keep it valid for as long as its interrupt can fire.
//
// The core branches to a Handler with no closure context, so on hardware
// it must be a top level function. Install rejects closures and method
// values there with ErrClosure.
type Handler func()

var (
	// ErrInvalidIRQ is returned for an identifier outside the table.
	ErrInvalidIRQ = errors.New("irq: identifier out of range")

	// ErrNilHandler is returned by Install when given a nil Handler.
	ErrNilHandler = errors.New("irq: nil handler")

	// ErrClosure is returned by Install on hardware when the Handler
	// captures variables or a receiver.
	ErrClosure = errors.New("irq: handler is a closure")

	// ErrUnhandled is the panic value raised by Default on hosted builds
	// in place of spinning forever.
	ErrUnhandled = errors.New("irq: default handler reached")
)

// Default is written into a slot by Remove. It never returns; reaching it
// means an interrupt fired while enabled without a handler.
func Default() {
	for {
		spin()
	}
}
