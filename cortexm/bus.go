package cortexm

import (
	"sync/atomic"

	"github.com/davecheney/vtor/part"
)

// System control space registers.
const (
	SYST_CSR  = 0xE000E010
	SYST_RVR  = 0xE000E014
	SYST_CVR  = 0xE000E018
	NVIC_ISER = 0xE000E100
	NVIC_ICER = 0xE000E180
	NVIC_ISPR = 0xE000E200
	NVIC_ICPR = 0xE000E280
	SCB_VTOR  = 0xE000ED08
)

// vtorMask keeps TBLOFF, bits [31:7].
const vtorMask = 0xFFFFFF80

// memory is a word addressed block of the address space.
type memory struct {
	base  uint32
	words []uint32
}

func newMemory(r part.Region) memory {
	return memory{base: r.Base, words: make([]uint32, r.Size/4)}
}

func (m *memory) contains(addr uint32) bool {
	return addr >= m.base && (addr-m.base)>>2 < uint32(len(m.words))
}

func (m *memory) word(addr uint32) *uint32 {
	return &m.words[(addr-m.base)>>2]
}

// Bus is the Cortex-M0+ system bus of an STM32L0: flash, its boot alias
// at address 0, SRAM and the registers of the system control space.
type Bus struct {
	flash memory
	alias uint32
	sram  memory

	vtor    atomic.Uint32
	nvic    NVIC
	systick SysTick
}

func newBus(p part.Part) *Bus {
	return &Bus{
		flash: newMemory(p.Flash),
		alias: p.BootAlias,
		sram:  newMemory(p.SRAM),
	}
}

// read32 reads the word at addr from the bus.
func (b *Bus) read32(addr uint32) uint32 {
	if addr&3 != 0 {
		panic(fault{addr, "unaligned read"})
	}
	switch {
	case b.sram.contains(addr):
		return atomic.LoadUint32(b.sram.word(addr))
	case b.flash.contains(addr):
		return atomic.LoadUint32(b.flash.word(addr))
	case addr-b.alias < uint32(len(b.flash.words))*4:
		return atomic.LoadUint32(b.flash.word(addr - b.alias + b.flash.base))
	}
	switch addr {
	case SCB_VTOR:
		return b.vtor.Load()
	case SYST_CSR, SYST_RVR, SYST_CVR:
		return b.systick.read32(addr)
	case NVIC_ISER, NVIC_ICER:
		return b.nvic.enabled.Load()
	case NVIC_ISPR, NVIC_ICPR:
		return b.nvic.devicePending()
	default:
		panic(fault{addr, "read from unmapped address"})
	}
}

// write32 writes v to addr on the bus. Flash is read only.
func (b *Bus) write32(addr, v uint32) {
	if addr&3 != 0 {
		panic(fault{addr, "unaligned write"})
	}
	if b.sram.contains(addr) {
		atomic.StoreUint32(b.sram.word(addr), v)
		return
	}
	switch addr {
	case SCB_VTOR:
		b.vtor.Store(v & vtorMask)
	case SYST_CSR, SYST_RVR, SYST_CVR:
		b.systick.write32(addr, v)
	case NVIC_ISER:
		b.nvic.enable(v)
	case NVIC_ICER:
		b.nvic.disable(v)
	case NVIC_ISPR:
		b.nvic.setPending(v)
	case NVIC_ICPR:
		b.nvic.clearPending(v)
	default:
		panic(fault{addr, "write to read only or unmapped address"})
	}
}

func (b *Bus) reset() {
	b.vtor.Store(b.alias)
	b.nvic.reset()
	b.systick.reset()
}
