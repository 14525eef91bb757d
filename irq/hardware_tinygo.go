//go:build tinygo && cortexm

package irq

import (
	"device/arm"
	"runtime/volatile"
	"unsafe"
)

// Slots is the table length of the STM32L0 family (IRQ_TOTAL).
const Slots = 48

type scb struct {
	CPUID volatile.Register32
	ICSR  volatile.Register32
	VTOR  volatile.Register32
}

var regs = (*scb)(unsafe.Pointer(uintptr(0xE000ED00)))

// ram backs the relocated table. It is twice the table size so that an
// aligned table always fits inside it, whatever address the linker picks.
// .noinit is emitted as NOBITS and placed after .bss, outside the range
// the runtime clears at startup.
//
//go:section .noinit
var ram [2 * 64]uint32

type hardware struct{}

// Hardware returns the Platform of the running part and the Store carved
// out of RAM for it.
func Hardware() (Platform, *Store) {
	align := uintptr(Alignment(Slots))
	start := uintptr(unsafe.Pointer(&ram[0]))
	base := (start + align - 1) &^ (align - 1)
	off := (base - start) / 4
	return hardware{}, NewStore(uint32(base), ram[off:off+Slots])
}

func (hardware) VTOR() uint32 { return regs.VTOR.Get() }

func (hardware) SetVTOR(addr uint32) {
	arm.Asm("dsb 0xF")
	regs.VTOR.Set(addr)
	arm.Asm("dsb 0xF")
	arm.Asm("isb 0xF")
}

func (hardware) BootTable() uint32 { return 0 }

func (hardware) Load32(addr uint32) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(uintptr(addr))))
}

// Entry returns the code address of h. A TinyGo func value is a context
// pointer followed by the function pointer. Closures and method values
// carry a context and are rejected with ErrClosure.
func (hardware) Entry(h Handler) (uint32, error) {
	fn := (*[2]uintptr)(unsafe.Pointer(&h))
	return thumbEntry(fn[0], fn[1])
}
