package cortexm

import (
	"sync"
	"time"
)

// MSI is the STM32L0 clock after reset, in Hz.
const MSI = 2097000

// SysTick CSR bits.
const (
	CSREnable    = 1 << 0
	CSRTickInt   = 1 << 1
	CSRCountFlag = 1 << 16
)

// SysTick is the 24 bit system timer. Its countdown is not simulated;
// wraps are delivered by a ticker running at the reload period.
type SysTick struct {
	mu     sync.Mutex
	csr    uint32
	rvr    uint32
	ticker *time.Ticker
}

func (st *SysTick) write32(addr, v uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch addr {
	case SYST_CSR:
		st.csr = st.csr&CSRCountFlag | v&(CSREnable|CSRTickInt)
	case SYST_RVR:
		st.rvr = v & 0xFFFFFF
	case SYST_CVR:
		st.csr &^= CSRCountFlag
	}
	st.restart()
}

func (st *SysTick) read32(addr uint32) uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch addr {
	case SYST_CSR:
		v := st.csr
		st.csr &^= CSRCountFlag
		return v
	case SYST_RVR:
		return st.rvr
	default:
		return 0
	}
}

// restart matches the ticker to CSR and RVR. mu must be held.
func (st *SysTick) restart() {
	if st.ticker != nil {
		st.ticker.Stop()
		st.ticker = nil
	}
	if st.csr&CSREnable == 0 || st.rvr == 0 {
		return
	}
	period := time.Duration(st.rvr+1) * time.Second / MSI
	if period <= 0 {
		period = time.Microsecond
	}
	st.ticker = time.NewTicker(period)
}

func (st *SysTick) ticks() <-chan time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ticker == nil {
		return nil
	}
	return st.ticker.C
}

// tick checks for a wrap without blocking and reports whether it should
// raise the SysTick exception.
func (st *SysTick) tick() bool {
	select {
	case <-st.ticks():
		return st.expire()
	default:
		return false
	}
}

// expire records a wrap and reports whether TICKINT is set.
func (st *SysTick) expire() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.csr |= CSRCountFlag
	return st.csr&CSRTickInt != 0
}

func (st *SysTick) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.csr, st.rvr = 0, 0
	st.restart()
}
