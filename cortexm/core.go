// Package cortexm simulates enough of an STM32L0 Cortex-M0+ to take
// exceptions through a vector table: the system bus, VTOR, the NVIC and
// SysTick. A *Core implements irq.Platform.
package cortexm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/davecheney/vtor/irq"
	"github.com/davecheney/vtor/part"
)

// codeOffset is where linked handlers start in flash, after the boot
// vector table.
const codeOffset = 0x100

// codeStride is the size of flash given to each linked handler.
const codeStride = 0x10

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger for faults taken while running.
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) { c.log = log }
}

// Core is a simulated Cortex-M0+ with the memory map of one part. Handlers
// given to Entry are linked into flash so that vector table words can
// refer to them.
type Core struct {
	part part.Part
	bus  *Bus
	log  *slog.Logger

	mu    sync.Mutex
	code  map[uint32]irq.Handler
	links map[uintptr]uint32
	next  uint32   // next unused code address
	free  []uint32 // swept code addresses
	stub  uint32   // entry of irq.Default, never swept

	noinit uint32 // next free .noinit address

	wake   chan struct{}
	lockup atomic.Bool
	pc     atomic.Uint32
	hits   []atomic.Uint64 // boot handler calls, per slot
}

// New powers on a core for p. SRAM holds a fill pattern, not zeros, and
// flash holds the boot image: the initial stack pointer, and a separate
// handler for every named exception and interrupt.
func New(p part.Part, opts ...Option) *Core {
	c := &Core{
		part:   p,
		bus:    newBus(p),
		log:    slog.Default(),
		code:   make(map[uint32]irq.Handler),
		links:  make(map[uintptr]uint32),
		next:   p.Flash.Base + codeOffset,
		noinit: p.SRAM.Base,
		wake:   make(chan struct{}, 1),
		hits:   make([]atomic.Uint64, p.Slots),
	}
	for _, opt := range opts {
		opt(c)
	}
	fill(c.bus.sram.words)
	c.flashBootImage()
	c.Reset()
	return c
}

// fill puts the power on garbage of SRAM in words.
func fill(words []uint32) {
	x := uint32(0x2545F491)
	for i := range words {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		words[i] = x
	}
}

func (c *Core) flashBootImage() {
	table := c.bus.flash.words
	table[0] = c.part.SRAM.Base + c.part.SRAM.Size
	c.stub = c.mustLink(irq.Default)
	for slot := 1; slot < c.part.Slots; slot++ {
		if !c.part.Has(irq.IRQn(slot - irq.SystemExceptions)) {
			continue // reserved, left zero
		}
		slot := slot
		table[slot] = c.mustLink(func() { c.hits[slot].Add(1) })
	}
}

func (c *Core) mustLink(h irq.Handler) uint32 {
	entry, err := c.link(h)
	if err != nil {
		panic(fmt.Sprintf("cortexm: boot image of %s does not fit in flash: %v", c.part.Series, err))
	}
	return entry
}

// Reset is a warm reset: VTOR returns to the boot table, the NVIC and
// SysTick are cleared and the core leaves lockup. SRAM and flash are kept.
func (c *Core) Reset() {
	c.bus.reset()
	c.lockup.Store(false)
	c.pc.Store(0)
}

// Part returns the part being simulated.
func (c *Core) Part() part.Part { return c.part }

// VTOR implements irq.Platform.
func (c *Core) VTOR() uint32 { return c.bus.read32(SCB_VTOR) }

// SetVTOR implements irq.Platform.
func (c *Core) SetVTOR(addr uint32) { c.bus.write32(SCB_VTOR, addr) }

// BootTable implements irq.Platform.
func (c *Core) BootTable() uint32 { return c.part.BootAlias }

// Load32 implements irq.Platform. It panics on an unmapped address.
func (c *Core) Load32(addr uint32) uint32 { return c.bus.read32(addr) }

// Entry implements irq.Platform by linking h into flash. A func value
// links to the same entry for as long as some word of flash or SRAM holds
// that entry. Once flash fills, entries nothing holds are unlinked and
// their code addresses reused. Entry returns ErrFlashFull if none can be.
func (c *Core) Entry(h irq.Handler) (uint32, error) { return c.link(h) }

func (c *Core) link(h irq.Handler) (uint32, error) {
	key := *(*uintptr)(unsafe.Pointer(&h))
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.links[key]; ok {
		return entry, nil
	}
	addr, ok := c.alloc()
	if !ok {
		c.sweep()
		if addr, ok = c.alloc(); !ok {
			return 0, fmt.Errorf("link handler: %d entries held: %w", len(c.code), ErrFlashFull)
		}
	}
	entry := addr | 1 // thumb
	c.code[addr] = h
	c.links[key] = entry
	return entry, nil
}

// alloc takes a code address for a new entry. mu must be held.
func (c *Core) alloc() (uint32, bool) {
	if n := len(c.free); n > 0 {
		addr := c.free[n-1]
		c.free = c.free[:n-1]
		return addr, true
	}
	if !c.bus.flash.contains(c.next) {
		return 0, false
	}
	addr := c.next
	c.next += codeStride
	return addr, true
}

// sweep unlinks every entry that no word of flash or SRAM holds, except
// the entry of irq.Default. mu must be held.
func (c *Core) sweep() {
	live := map[uint32]bool{c.stub &^ 1: true}
	mark := func(words []uint32) {
		for i := range words {
			w := atomic.LoadUint32(&words[i])
			if _, ok := c.code[w&^1]; ok && w&1 == 1 {
				live[w&^1] = true
			}
		}
	}
	mark(c.bus.flash.words)
	mark(c.bus.sram.words)

	for key, entry := range c.links {
		if addr := entry &^ 1; !live[addr] {
			delete(c.links, key)
			delete(c.code, addr)
			c.free = append(c.free, addr)
		}
	}
	c.log.Debug("flash swept", "held", len(c.code), "free", len(c.free))
}

// NoInit reserves words of SRAM aligned for use as a vector table and
// returns them as a Store. Their contents are left as found.
func (c *Core) NoInit(words int) (*irq.Store, error) {
	align := irq.Alignment(words)
	base := (c.noinit + align - 1) &^ (align - 1)
	mem, err := c.Words(base, words)
	if err != nil {
		return nil, err
	}
	c.noinit = base + uint32(words)*4
	return irq.NewStore(base, mem), nil
}

// Words returns n words of SRAM starting at addr. Writes to the slice are
// seen by the bus.
func (c *Core) Words(addr uint32, n int) ([]uint32, error) {
	end := addr + uint32(n)*4
	if addr&3 != 0 || !c.bus.sram.contains(addr) || (n > 0 && !c.bus.sram.contains(end-4)) {
		return nil, fmt.Errorf("%d words at 0x%08x: %w", n, addr, ErrNoRAM)
	}
	i := (addr - c.bus.sram.base) >> 2
	return c.bus.sram.words[i : i+uint32(n) : i+uint32(n)], nil
}

// BootHits returns how many times the boot image handler for n has run.
func (c *Core) BootHits(n irq.IRQn) uint64 {
	if n < irq.MinIRQn || n.Slot() >= len(c.hits) {
		return 0
	}
	return c.hits[n.Slot()].Load()
}

// Lockup reports whether the core has stopped, and the address it
// stopped at.
func (c *Core) Lockup() (uint32, bool) {
	return c.pc.Load(), c.lockup.Load()
}

func (c *Core) lock(pc uint32) {
	c.pc.Store(pc)
	c.lockup.Store(true)
}

func (c *Core) valid(n irq.IRQn) error {
	if n < irq.MinIRQn || n.Slot() >= c.part.Slots {
		return fmt.Errorf("%v: %w", n, irq.ErrInvalidIRQ)
	}
	return nil
}

// Enable sets the NVIC enable bit of device interrupt n.
func (c *Core) Enable(n irq.IRQn) error {
	if err := c.device(n); err != nil {
		return err
	}
	c.bus.write32(NVIC_ISER, 1<<uint(n))
	c.poke()
	return nil
}

// Disable clears the NVIC enable bit of device interrupt n. A pending
// request stays pending.
func (c *Core) Disable(n irq.IRQn) error {
	if err := c.device(n); err != nil {
		return err
	}
	c.bus.write32(NVIC_ICER, 1<<uint(n))
	return nil
}

// Enabled reports whether n can be taken when pending.
func (c *Core) Enabled(n irq.IRQn) bool {
	if n < 0 {
		return true
	}
	return c.bus.read32(NVIC_ISER)&(1<<uint(n)) != 0
}

func (c *Core) device(n irq.IRQn) error {
	if err := c.valid(n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%v is not a device interrupt: %w", n, irq.ErrInvalidIRQ)
	}
	return nil
}

// Raise pends n. It is taken by Step or Run once enabled.
func (c *Core) Raise(n irq.IRQn) error {
	if err := c.valid(n); err != nil {
		return err
	}
	c.bus.nvic.pend(1 << uint(n.Slot()))
	c.poke()
	return nil
}

// Unpend clears a pending request for n.
func (c *Core) Unpend(n irq.IRQn) error {
	if err := c.valid(n); err != nil {
		return err
	}
	c.bus.nvic.unpend(1 << uint(n.Slot()))
	return nil
}

// Pending reports whether n is waiting to be taken.
func (c *Core) Pending(n irq.IRQn) bool {
	if c.valid(n) != nil {
		return false
	}
	return c.bus.nvic.pending.Load()&(1<<uint(n.Slot())) != 0
}

func (c *Core) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SysTick programs the system timer to wrap every reload+1 cycles and
// raise its exception if interrupt is set.
func (c *Core) SysTick(reload uint32, interrupt bool) {
	csr := uint32(0)
	if reload > 0 {
		csr = CSREnable
		if interrupt {
			csr |= CSRTickInt
		}
	}
	c.bus.write32(SYST_RVR, reload)
	c.bus.write32(SYST_CVR, 0)
	c.bus.write32(SYST_CSR, csr)
	c.poke()
}

// Step takes the lowest numbered pending exception, if any. It reports
// whether one was taken.
func (c *Core) Step() (bool, error) {
	if c.lockup.Load() {
		return false, ErrLockup
	}
	if c.bus.systick.tick() {
		c.bus.nvic.pend(1 << uint(irq.SysTick.Slot()))
	}
	n, ok := c.bus.nvic.next()
	if !ok {
		return false, nil
	}
	return true, c.take(n)
}

// Run takes exceptions as they become pending until ctx is done or the
// core locks up.
func (c *Core) Run(ctx context.Context) error {
	for {
		taken, err := c.Step()
		if err != nil {
			if c.lockup.Load() {
				return err
			}
			c.log.Warn("exception faulted", "err", err)
			continue
		}
		if taken {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		case <-c.bus.systick.ticks():
			if c.bus.systick.expire() {
				c.bus.nvic.pend(1 << uint(irq.SysTick.Slot()))
			}
		}
	}
}
