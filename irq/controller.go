package irq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Platform is the register and memory access the Controller needs. The
// simulator in package cortexm implements it on the host; Hardware
// implements it on a TinyGo target.
type Platform interface {
	// VTOR returns the table base register.
	VTOR() uint32

	// SetVTOR writes the table base register in a single store. Writes
	// issued before it must be visible to the core before it lands.
	SetVTOR(addr uint32)

	// BootTable returns the address of the table the part boots with.
	BootTable() uint32

	// Load32 reads the word at addr.
	Load32(addr uint32) uint32

	// Entry returns the table word that makes the core branch to h, or an
	// error if h cannot be given one.
	Entry(h Handler) (uint32, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for relocation and slot changes.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller owns a Store and the relocation of the vector table into it.
type Controller struct {
	platform Platform
	store    *Store
	log      *slog.Logger
	stub     uint32

	mu        sync.Mutex
	relocated bool
}

// New returns a Controller that will relocate the vector table into s.
// It panics if s is not aligned for VTOR, and fails if p has no entry for
// Default.
func New(p Platform, s *Store, opts ...Option) (*Controller, error) {
	s.mustBeAligned()
	c := &Controller{
		platform: p,
		store:    s,
		log:      slog.New(discard{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	stub, err := p.Entry(Default)
	if err != nil {
		return nil, fmt.Errorf("default handler: %w", err)
	}
	c.stub = stub
	return c, nil
}

// Install makes h the handler for n, relocating the vector table first if
// this is the first change since reset. n must not be able to fire while
// Install runs: install before enabling it, or mask it first. If the
// Platform cannot give h an entry, Install returns its error and the table
// is left as it was.
func (c *Controller) Install(n IRQn, h Handler) error {
	if !c.store.Valid(n) {
		return fmt.Errorf("install %v: %w", n, ErrInvalidIRQ)
	}
	if h == nil {
		return fmt.Errorf("install %v: %w", n, ErrNilHandler)
	}
	c.store.mustBeAligned()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, err := c.platform.Entry(h)
	if err != nil {
		return fmt.Errorf("install %v: %w", n, err)
	}
	c.relocate()
	c.store.store(n.Slot(), entry)
	c.log.Debug("handler installed", "irq", n, "slot", n.Slot(), "entry", hex(entry))
	return nil
}

// Remove points n at Default. The previous handler, including the one from
// the boot table, is not restored. Like Install, Remove relocates the
// table first if it has not been, so afterwards VTOR points at the Store.
// n must be masked before Remove is called, otherwise the core may take it
// mid-write.
func (c *Controller) Remove(n IRQn) error {
	if !c.store.Valid(n) {
		return fmt.Errorf("remove %v: %w", n, ErrInvalidIRQ)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.relocate()
	c.store.store(n.Slot(), c.stub)
	c.log.Debug("handler removed", "irq", n, "slot", n.Slot())
	return nil
}

// Vector returns the entry held in the slot for n. Before relocation that
// is whatever the Store memory contained at power on.
func (c *Controller) Vector(n IRQn) (uint32, error) {
	if !c.store.Valid(n) {
		return 0, fmt.Errorf("vector %v: %w", n, ErrInvalidIRQ)
	}
	return c.store.load(n.Slot()), nil
}

// Table returns a copy of every slot of the Store.
func (c *Controller) Table() []uint32 {
	t := make([]uint32, c.store.Len())
	for i := range t {
		t[i] = c.store.load(i)
	}
	return t
}

// Boot returns the entry for n in the table the part booted with.
func (c *Controller) Boot(n IRQn) (uint32, error) {
	if !c.store.Valid(n) {
		return 0, fmt.Errorf("boot vector %v: %w", n, ErrInvalidIRQ)
	}
	return c.platform.Load32(c.platform.BootTable() + uint32(n.Slot())*4), nil
}

// Stub returns the entry of Default as written by Remove.
func (c *Controller) Stub() uint32 { return c.stub }

// Relocated reports whether the Store is the active vector table.
func (c *Controller) Relocated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relocated && c.platform.VTOR() == c.store.Base()
}

// relocate copies the active table into the Store and points VTOR at it.
// It runs the copy at most once; if something else has moved VTOR since,
// VTOR is pointed back without copying so installed handlers survive.
func (c *Controller) relocate() {
	base := c.store.Base()
	vtor := c.platform.VTOR()
	if vtor == base {
		c.relocated = true
		return
	}
	if c.relocated {
		c.log.Warn("vector table moved, restoring", "vtor", hex(vtor), "table", hex(base))
		c.platform.SetVTOR(base)
		return
	}

	for i := 0; i < c.store.Len(); i++ {
		c.store.store(i, c.platform.Load32(vtor+uint32(i)*4))
	}
	c.platform.SetVTOR(base)
	c.relocated = true
	c.log.Info("vector table relocated", "from", hex(vtor), "to", hex(base), "slots", c.store.Len())
}

type hex uint32

func (h hex) String() string { return fmt.Sprintf("0x%08x", uint32(h)) }

// discard drops every record.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (d discard) WithAttrs([]slog.Attr) slog.Handler { return d }
func (d discard) WithGroup(string) slog.Handler { return d }
