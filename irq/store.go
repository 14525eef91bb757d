package irq

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// minAlign is the VTOR granule on Cortex-M0+: TBLOFF starts at bit 7.
const minAlign = 128

// Alignment returns the base alignment, in bytes, a table of n slots
// needs to be usable as a VTOR value.
func Alignment(n int) uint32 {
	size := uint32(n) * 4
	if size <= minAlign {
		return minAlign
	}
	return 1 << bits.Len32(size-1)
}

// Store is a vector table in writable memory. Its words alias the
// memory the core reads on exception entry, so a slot write takes
// effect the next time that exception is taken.
type Store struct {
	base  uint32
	slots []uint32
}

// NewStore returns a Store of len(slots) entries based at base. slots
// must be the memory found at base; it is not cleared.
func NewStore(base uint32, slots []uint32) *Store {
	return &Store{base: base, slots: slots}
}

// Base returns the address of slot 0.
func (s *Store) Base() uint32 { return s.base }

// Len returns the number of slots.
func (s *Store) Len() int { return len(s.slots) }

// Aligned reports whether Base can be written to VTOR.
func (s *Store) Aligned() bool {
	return s.base&(Alignment(len(s.slots))-1) == 0
}

// Valid reports whether n names a code slot of the table.
func (s *Store) Valid(n IRQn) bool {
	return n >= MinIRQn && n.Slot() < len(s.slots)
}

func (s *Store) load(i int) uint32 { return atomic.LoadUint32(&s.slots[i]) }

func (s *Store) store(i int, v uint32) { atomic.StoreUint32(&s.slots[i], v) }

func (s *Store) mustBeAligned() {
	if !s.Aligned() {
		panic(fmt.Sprintf("irq: vector table at 0x%08x is not aligned to %d bytes", s.base, Alignment(len(s.slots))))
	}
}
