package irq_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"

	"github.com/davecheney/vtor/cortexm"
	"github.com/davecheney/vtor/irq"
	"github.com/davecheney/vtor/part"
)

// counting counts table reads so tests can see when relocation copies.
type counting struct {
	*cortexm.Core
	loads atomic.Int64
}

func (c *counting) Load32(addr uint32) uint32 {
	c.loads.Add(1)
	return c.Core.Load32(addr)
}

type rig struct {
	core  *counting
	store *irq.Store
	ctl   *irq.Controller
	// guard words either side of the store
	before, after []uint32
}

func boot(t testing.TB) *rig {
	is := is.New(t)
	p, err := part.All().FindByChip("stm32l053xx")
	is.NoErr(err)
	core := &counting{Core: cortexm.New(p)}
	_, err = core.NoInit(1) // push the table off the start of sram
	is.NoErr(err)
	store, err := core.NoInit(p.Slots)
	is.NoErr(err)
	before, err := core.Words(store.Base()-4, 1)
	is.NoErr(err)
	after, err := core.Words(store.Base()+uint32(store.Len())*4, 1)
	is.NoErr(err)
	ctl, err := irq.New(core, store)
	is.NoErr(err)
	return &rig{
		core:   core,
		store:  store,
		ctl:    ctl,
		before: before,
		after:  after,
	}
}

func (r *rig) entry(t testing.TB, h irq.Handler) uint32 {
	entry, err := r.core.Entry(h)
	if err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestInstallDispatch(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var ran []irq.IRQn
	for n := irq.MinIRQn; n <= 31; n++ {
		n := n
		is.NoErr(r.ctl.Install(n, func() { ran = append(ran, n) }))
	}
	for n := irq.MinIRQn; n <= 31; n++ {
		ran = ran[:0]
		_, err := r.core.Dispatch(n)
		is.NoErr(err)
		is.Equal(ran, []irq.IRQn{n})
	}
}

func TestRelocatesOnce(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	is.Equal(r.core.VTOR(), r.core.BootTable())
	is.True(!r.ctl.Relocated())

	var a, b int
	is.NoErr(r.ctl.Install(5, func() { a++ }))
	is.Equal(r.core.VTOR(), r.store.Base())
	is.True(r.ctl.Relocated())
	loads := r.core.loads.Load()
	is.Equal(loads, int64(r.store.Len()))

	is.NoErr(r.ctl.Install(7, func() { b++ }))
	is.Equal(r.core.loads.Load(), loads) // no second copy

	_, err := r.core.Dispatch(5)
	is.NoErr(err)
	_, err = r.core.Dispatch(7)
	is.NoErr(err)
	is.Equal(a, 1)
	is.Equal(b, 1)
}

func TestRelocateRestoresMovedVTOR(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var a int
	is.NoErr(r.ctl.Install(5, func() { a++ }))
	loads := r.core.loads.Load()

	r.core.SetVTOR(r.core.BootTable())
	is.True(!r.ctl.Relocated())

	is.NoErr(r.ctl.Install(7, func() {}))
	is.Equal(r.core.VTOR(), r.store.Base())
	is.Equal(r.core.loads.Load(), loads) // pointed back, not copied

	_, err := r.core.Dispatch(5)
	is.NoErr(err)
	is.Equal(a, 1)
}

func TestRemoveLandsOnDefault(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var a int
	is.NoErr(r.ctl.Install(irq.SysTick, func() { a++ }))
	is.NoErr(r.ctl.Remove(irq.SysTick))

	entry, err := r.core.Dispatch(irq.SysTick)
	is.True(errors.Is(err, cortexm.ErrLockup))
	is.Equal(entry, r.ctl.Stub())
	is.Equal(a, 0) // removed handler not run

	// nor the one from flash
	is.Equal(r.core.BootHits(irq.SysTick), uint64(0))

	pc, locked := r.core.Lockup()
	is.True(locked)
	is.Equal(pc, r.ctl.Stub()&^1)
}

func TestRemoveBeforeInstall(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	is.NoErr(r.ctl.Remove(3))
	is.True(r.ctl.Relocated())

	v, err := r.ctl.Vector(3)
	is.NoErr(err)
	is.Equal(v, r.ctl.Stub())

	_, err = r.core.Dispatch(irq.SysTick)
	is.NoErr(err)
	is.Equal(r.core.BootHits(irq.SysTick), uint64(1)) // everything else still copied
}

func TestOutOfRange(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	before, after := r.before[0], r.after[0]

	for _, n := range []irq.IRQn{irq.MinIRQn - 1, 32, -16, 100, -1000} {
		err := r.ctl.Install(n, func() {})
		is.True(errors.Is(err, irq.ErrInvalidIRQ))
		err = r.ctl.Remove(n)
		is.True(errors.Is(err, irq.ErrInvalidIRQ))
		_, err = r.ctl.Vector(n)
		is.True(errors.Is(err, irq.ErrInvalidIRQ))
	}
	is.True(!r.ctl.Relocated()) // rejected before touching anything

	var lo, hi int
	is.NoErr(r.ctl.Install(irq.MinIRQn, func() { lo++ }))
	is.NoErr(r.ctl.Install(31, func() { hi++ }))
	is.NoErr(r.ctl.Remove(irq.MinIRQn))
	is.NoErr(r.ctl.Remove(31))

	table := r.ctl.Table()
	is.Equal(table[1], r.ctl.Stub())
	is.Equal(table[47], r.ctl.Stub())
	is.Equal(r.before[0], before)
	is.Equal(r.after[0], after)
}

func TestNilHandler(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	err := r.ctl.Install(0, nil)
	is.True(errors.Is(err, irq.ErrNilHandler))
	is.True(!r.ctl.Relocated())
}

func TestCopyMatchesBootTable(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var want []uint32
	for n := irq.MinIRQn; n <= 31; n++ {
		v, err := r.ctl.Boot(n)
		is.NoErr(err)
		want = append(want, v)
	}

	is.NoErr(r.ctl.Install(12, func() {}))
	table := r.ctl.Table()
	is.Equal(table[0], r.core.Load32(r.core.BootTable())) // initial stack pointer copied too
	for i, v := range want {
		slot := i + 1
		if slot == irq.IRQn(12).Slot() {
			continue
		}
		is.Equal(table[slot], v)
	}
	is.Equal(table[7], uint32(0)) // reserved slot copied as zero
}

func TestSlotScenario(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	is.Equal(r.store.Len(), 48)

	handlerA := func() {}
	handlerB := func() {}
	is.NoErr(r.ctl.Install(0, handlerA))
	is.Equal(r.ctl.Table()[16], r.entry(t, handlerA))

	is.NoErr(r.ctl.Install(-14, handlerB))
	is.Equal(r.ctl.Table()[2], r.entry(t, handlerB))

	is.NoErr(r.ctl.Remove(0))
	table := r.ctl.Table()
	is.Equal(table[16], r.ctl.Stub())
	is.Equal(table[2], r.entry(t, handlerB))
}

func TestMisalignedStorePanics(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	words, err := r.core.Words(r.store.Base()+4, r.store.Len())
	is.NoErr(err)
	bad := irq.NewStore(r.store.Base()+4, words)
	is.True(!bad.Aligned())

	defer func() {
		is.True(recover() != nil)
		is.Equal(r.core.VTOR(), r.core.BootTable())
	}()
	irq.New(r.core, bad)
	t.Fatal("New accepted a misaligned store")
}

type device struct{ hits int }

func (d *device) handle() { d.hits++ }

func TestReinstallMethodValue(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var d device
	// every evaluation of d.handle is a new func value
	installs := int(r.core.Part().Flash.Size/16) + 1
	for i := 0; i < installs; i++ {
		is.NoErr(r.ctl.Install(3, d.handle))
	}

	_, err := r.core.Dispatch(3)
	is.NoErr(err)
	is.Equal(d.hits, 1)

	_, err = r.core.Dispatch(irq.SysTick) // copied boot entries still linked
	is.NoErr(err)
	is.Equal(r.core.BootHits(irq.SysTick), uint64(1))
	_, err = r.core.Dispatch(irq.PendSV)
	is.NoErr(err)
}

// refusing links Default, then has no room for any other handler.
type refusing struct {
	*cortexm.Core
	linked bool
}

func (p *refusing) Entry(h irq.Handler) (uint32, error) {
	if p.linked {
		return 0, cortexm.ErrFlashFull
	}
	p.linked = true
	return p.Core.Entry(h)
}

func TestInstallEntryError(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	ctl, err := irq.New(&refusing{Core: r.core.Core}, r.store)
	is.NoErr(err)
	before := ctl.Table()

	err = ctl.Install(5, func() {})
	is.True(errors.Is(err, cortexm.ErrFlashFull))
	is.True(!ctl.Relocated())
	is.Equal(r.core.VTOR(), r.core.BootTable())
	is.Equal(ctl.Table(), before)

	is.NoErr(ctl.Remove(5)) // Default is already linked
	v, err := ctl.Vector(5)
	is.NoErr(err)
	is.Equal(v, ctl.Stub())
}

func TestInstallWhileDispatching(t *testing.T) {
	is := is.New(t)
	r := boot(t)
	var installed atomic.Int64
	h := func() { installed.Add(1) }

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := r.core.Dispatch(irq.PendSV); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for i := 0; i < 100; i++ {
		is.NoErr(r.ctl.Install(irq.PendSV, h))
	}
	close(stop)
	wg.Wait()

	_, err := r.core.Dispatch(irq.PendSV)
	is.NoErr(err)
	is.True(installed.Load() >= 1)
}

func BenchmarkInstall(b *testing.B) {
	r := boot(b)
	h := func() {}
	for i := 0; i < b.N; i++ {
		if err := r.ctl.Install(irq.IRQn(i%32), h); err != nil {
			b.Fatal(err)
		}
	}
}
