package main

import (
	"fmt"

	"github.com/davecheney/vtor/irq"
)

type dumpCmd struct {
	Install []string `name:"install" default:"SysTick" help:"interrupts to install handlers for before dumping"`
	Remove  []string `name:"remove" help:"interrupts to remove before dumping"`
}

func (d *dumpCmd) Run(g *Globals) error {
	core, ctl, err := g.boot()
	if err != nil {
		return err
	}
	p := core.Part()

	for _, name := range d.Install {
		n, err := p.IRQ(name)
		if err != nil {
			return err
		}
		if err := ctl.Install(n, func() {}); err != nil {
			return err
		}
	}
	for _, name := range d.Remove {
		n, err := p.IRQ(name)
		if err != nil {
			return err
		}
		if err := ctl.Remove(n); err != nil {
			return err
		}
	}

	fmt.Printf("VTOR 0x%08x, boot table 0x%08x\n", core.VTOR(), core.BootTable())
	fmt.Printf("slot  irq  %-20s  boot        now\n", "name")
	for slot, now := range ctl.Table() {
		n := irq.IRQn(slot - irq.SystemExceptions)
		name := "initial SP"
		boot := core.Load32(core.BootTable())
		if slot > 0 {
			name = p.Name(n)
			boot, _ = ctl.Boot(n)
		}
		mark := ""
		switch {
		case now == ctl.Stub():
			mark = "  default"
		case now != boot:
			mark = "  *"
		}
		fmt.Printf("%4d %4d  %-20s  0x%08x  0x%08x%s\n", slot, n, name, boot, now, mark)
	}
	return nil
}
