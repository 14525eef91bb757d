package main

import (
	"fmt"
	"strings"

	"github.com/davecheney/vtor/irq"
	"github.com/davecheney/vtor/part"
)

type partsCmd struct {
	IRQs bool `name:"irqs" help:"list the interrupts of each part"`
}

func (c *partsCmd) Run(g *Globals) error {
	for _, p := range part.All() {
		fmt.Printf("%s\t%s\n", p.Series, strings.Join(p.Chips, ", "))
		fmt.Printf("\tcore %s, %d slots, table aligned to %d bytes\n", p.Core, p.Slots, irq.Alignment(p.Slots))
		fmt.Printf("\tflash 0x%08x+%#x, sram 0x%08x+%#x\n", p.Flash.Base, p.Flash.Size, p.SRAM.Base, p.SRAM.Size)
		if !c.IRQs {
			continue
		}
		for _, name := range p.Names() {
			fmt.Printf("\t%4d %s\n", p.Interrupts[name], name)
		}
	}
	return nil
}
