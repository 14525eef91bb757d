package main

import (
	"errors"
	"fmt"

	"github.com/davecheney/vtor/cortexm"
	"github.com/davecheney/vtor/irq"
	"github.com/davecheney/vtor/part"
)

type runCmd struct {
	Install []string `name:"install" default:"SysTick,USART2,EXTI0_1" help:"interrupts to install handlers for"`
	Remove  string   `name:"remove" default:"USART2" help:"interrupt to remove and fire again"`
}

func (r *runCmd) Run(g *Globals) error {
	core, ctl, err := g.boot()
	if err != nil {
		return err
	}
	p := core.Part()

	for _, name := range r.Install {
		n, err := p.IRQ(name)
		if err != nil {
			return err
		}
		name := p.Name(n)
		if err := ctl.Install(n, func() { fmt.Printf("%-10s handler ran\n", name) }); err != nil {
			return err
		}
		if n >= 0 {
			if err := core.Enable(n); err != nil {
				return err
			}
		}
	}

	for _, name := range r.Install {
		n, _ := p.IRQ(name)
		if err := fire(core, p, n); err != nil {
			return err
		}
	}

	n, err := p.IRQ(r.Remove)
	if err != nil {
		return err
	}
	if n >= 0 {
		if err := core.Disable(n); err != nil {
			return err
		}
	}
	if err := ctl.Remove(n); err != nil {
		return err
	}
	fmt.Printf("%-10s removed\n", p.Name(n))

	// Firing a removed interrupt breaks the caller contract on purpose.
	err = fire(core, p, n)
	if !errors.Is(err, cortexm.ErrLockup) {
		return fmt.Errorf("%s: expected lockup, got %v", p.Name(n), err)
	}
	pc, _ := core.Lockup()
	fmt.Printf("%-10s core parked in the default handler at 0x%08x\n", p.Name(n), pc)
	return nil
}

func fire(core *cortexm.Core, p part.Part, n irq.IRQn) error {
	entry, err := core.Dispatch(n)
	if err != nil {
		return fmt.Errorf("%s via 0x%08x: %w", p.Name(n), entry, err)
	}
	return nil
}
