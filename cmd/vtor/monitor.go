package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/davecheney/vtor/cortexm"
	"github.com/davecheney/vtor/irq"
)

type monitorCmd struct {
	Hz   uint32 `name:"hz" default:"2" help:"SysTick rate"`
	IRQ  string `name:"irq" default:"USART2" help:"interrupt driven by the keyboard"`
	Echo bool   `name:"echo" help:"echo keys from the interrupt handler"`
}

const monitorHelp = "f fire  r remove  i install  d dump  s systick  q quit\r\n"

func (m *monitorCmd) Run(g *Globals) error {
	core, ctl, err := g.boot()
	if err != nil {
		return err
	}
	p := core.Part()
	n, err := p.IRQ(m.IRQ)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%s: not a device interrupt", m.IRQ)
	}
	if m.Hz == 0 || m.Hz > cortexm.MSI {
		return fmt.Errorf("hz %d out of range", m.Hz)
	}

	state, err := makeRaw(os.Stdin.Fd())
	if err != nil {
		return fmt.Errorf("monitor needs a terminal: %w", err)
	}
	defer restore(os.Stdin.Fd(), state)

	con := &console{w: os.Stdout}
	var ticks atomic.Uint64
	if err := ctl.Install(irq.SysTick, func() {
		if ticks.Add(1)%uint64(m.Hz) == 0 {
			con.write(".")
		}
	}); err != nil {
		return err
	}
	handler := func() {
		c := con.take()
		if m.Echo {
			con.write(fmt.Sprintf("%s: %q\r\n", p.Name(n), c))
			return
		}
		con.write(fmt.Sprintf("%s: handler ran\r\n", p.Name(n)))
	}
	if err := ctl.Install(n, handler); err != nil {
		return err
	}
	if err := core.Enable(n); err != nil {
		return err
	}
	core.SysTick(cortexm.MSI/m.Hz-1, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	con.write(monitorHelp)
	keys := make(chan byte)
	go readKeys(os.Stdin, keys)
	for {
		select {
		case err := <-done:
			if errors.Is(err, cortexm.ErrLockup) {
				pc, _ := core.Lockup()
				con.write(fmt.Sprintf("\r\ncore locked up at 0x%08x\r\n", pc))
				return nil
			}
			return err
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			switch k {
			case 'q', 3: // ^C
				return nil
			case 'f':
				con.put(k)
				if err := core.Raise(n); err != nil {
					return err
				}
			case 'r':
				if err := core.Disable(n); err != nil {
					return err
				}
				if err := ctl.Remove(n); err != nil {
					return err
				}
				con.write(fmt.Sprintf("%s: removed, masked\r\n", p.Name(n)))
			case 'R':
				// Remove without masking first: the next fire parks the core.
				if err := ctl.Remove(n); err != nil {
					return err
				}
				con.write(fmt.Sprintf("%s: removed, still enabled\r\n", p.Name(n)))
			case 'i':
				if err := ctl.Install(n, handler); err != nil {
					return err
				}
				if err := core.Enable(n); err != nil {
					return err
				}
				con.write(fmt.Sprintf("%s: installed\r\n", p.Name(n)))
			case 'd':
				v, _ := ctl.Vector(n)
				con.write(fmt.Sprintf("VTOR 0x%08x  %s 0x%08x  default 0x%08x  pending %v\r\n",
					core.VTOR(), p.Name(n), v, ctl.Stub(), core.Pending(n)))
			case 's':
				core.SysTick(0, false)
				if err := core.Unpend(irq.SysTick); err != nil {
					return err
				}
				if err := ctl.Remove(irq.SysTick); err != nil {
					return err
				}
				con.write("SysTick: stopped\r\n")
			default:
				con.write(monitorHelp)
			}
		}
	}
}

func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	var buf [1]byte
	for {
		if _, err := r.Read(buf[:]); err != nil {
			return
		}
		keys <- buf[0]
	}
}
