// vtor relocates the vector table of a simulated STM32L0 and swaps its
// interrupt handlers at run time.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/davecheney/vtor/cortexm"
	"github.com/davecheney/vtor/irq"
	"github.com/davecheney/vtor/part"
)

func main() {
	var cli struct {
		Chip    string `name:"chip" default:"stm32l053xx" help:"chip or series to simulate"`
		Verbose bool   `name:"verbose" short:"v" help:"log every slot change"`
		Quiet   bool   `name:"quiet" short:"q" help:"log errors only"`

		Run     runCmd     `cmd:"" default:"1" help:"install, fire and remove handlers"`
		Parts   partsCmd   `cmd:"" help:"list the parts that can be simulated"`
		Dump    dumpCmd    `cmd:"" help:"print the vector table before and after relocation"`
		Monitor monitorCmd `cmd:"" help:"drive the simulator from the keyboard"`
	}

	ctx := kong.Parse(&cli,
		kong.Name("vtor"),
		kong.Description("Run-time interrupt vector relocation on a simulated STM32L0."),
	)
	err := ctx.Run(&Globals{
		Chip: cli.Chip,
		Log:  createLogger(cli.Verbose, cli.Quiet),
	})
	ctx.FatalIfErrorf(err)
}

// Globals is passed to every command.
type Globals struct {
	Chip string
	Log  *slog.Logger
}

// boot powers on the chosen part and returns it with a Controller whose
// table sits at the start of its .noinit SRAM.
func (g *Globals) boot() (*cortexm.Core, *irq.Controller, error) {
	p, err := part.All().Find(g.Chip)
	if err != nil {
		return nil, nil, err
	}
	core := cortexm.New(p, cortexm.WithLogger(g.Log))
	store, err := core.NoInit(p.Slots)
	if err != nil {
		return nil, nil, err
	}
	g.Log.Debug("powered on", "series", p.Series, "table", fmt.Sprintf("0x%08x", store.Base()))
	ctl, err := irq.New(core, store, irq.WithLogger(g.Log))
	if err != nil {
		return nil, nil, err
	}
	return core, ctl, nil
}

func createLogger(verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
