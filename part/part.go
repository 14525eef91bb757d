// Package part describes the STM32L0 lines the vector table code targets:
// memory map, table length and interrupt names.
package part

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/davecheney/vtor/irq"
)

//go:embed parts.yaml
var rawParts []byte

var parts Parts

var (
	ErrNotFound = errors.New("part not found")
	ErrUnknown  = errors.New("unknown interrupt")
)

// All returns every known part line.
func All() Parts {
	return parts
}

type Parts []Part

type Part struct {
	Series     string              `yaml:"series"`
	Chips      []string            `yaml:"chips"`
	Core       string              `yaml:"core"`
	Slots      int                 `yaml:"slots"`
	BootAlias  uint32              `yaml:"bootAlias"`
	Flash      Region              `yaml:"flash"`
	SRAM       Region              `yaml:"sram"`
	Interrupts map[string]irq.IRQn `yaml:"interrupts"`
}

// Region is a contiguous block of the address space.
type Region struct {
	Base uint32 `yaml:"base"`
	Size uint32 `yaml:"size"`
}

// Contains reports whether addr falls inside r.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

var system = map[string]irq.IRQn{
	"Reset":          irq.MinIRQn,
	"NonMaskableInt": irq.NonMaskableInt,
	"HardFault":      irq.HardFault,
	"SVCall":         irq.SVCall,
	"PendSV":         irq.PendSV,
	"SysTick":        irq.SysTick,
}

// IRQ returns the identifier of the named exception or interrupt. Names
// are matched without regard to case.
func (p Part) IRQ(name string) (irq.IRQn, error) {
	for _, m := range []map[string]irq.IRQn{system, p.Interrupts} {
		for k, n := range m {
			if strings.EqualFold(k, name) {
				return n, nil
			}
		}
	}
	return 0, fmt.Errorf("%s: %q: %w", p.Series, name, ErrUnknown)
}

// Name returns the name of n, or its generic name if the part has none.
func (p Part) Name(n irq.IRQn) string {
	for _, m := range []map[string]irq.IRQn{system, p.Interrupts} {
		for k, v := range m {
			if v == n {
				return k
			}
		}
	}
	return n.String()
}

// Has reports whether the part implements n. Slots it does not implement
// are zero in the boot table.
func (p Part) Has(n irq.IRQn) bool {
	for _, m := range []map[string]irq.IRQn{system, p.Interrupts} {
		for _, v := range m {
			if v == n {
				return true
			}
		}
	}
	return false
}

// Names returns the device interrupt names in table order.
func (p Part) Names() []string {
	names := maps.Keys(p.Interrupts)
	slices.SortFunc(names, func(a, b string) bool {
		return p.Interrupts[a] < p.Interrupts[b]
	})
	return names
}

// MaxIRQn returns the highest identifier the table holds.
func (p Part) MaxIRQn() irq.IRQn {
	return irq.IRQn(p.Slots - irq.SystemExceptions - 1)
}

func (p Part) validate() error {
	if p.Slots <= irq.SystemExceptions || p.Slots > 64 {
		return fmt.Errorf("%s: %d slots", p.Series, p.Slots)
	}
	if p.SRAM.Size < irq.Alignment(p.Slots)*2 {
		return fmt.Errorf("%s: sram too small for a %d slot table", p.Series, p.Slots)
	}
	for name, n := range p.Interrupts {
		if n < 0 || n > p.MaxIRQn() {
			return fmt.Errorf("%s: %s: irq %d outside table", p.Series, name, n)
		}
	}
	return nil
}

func (p Parts) FindBySeries(name string) (Part, error) {
	i := slices.IndexFunc(p, func(part Part) bool {
		return part.Series == strings.ToLower(name)
	})
	if i < 0 {
		return Part{}, fmt.Errorf("series %q: %w", name, ErrNotFound)
	}
	return p[i], nil
}

func (p Parts) FindByChip(name string) (Part, error) {
	name = strings.ToLower(name)
	i := slices.IndexFunc(p, func(part Part) bool {
		return slices.Contains(part.Chips, name)
	})
	if i < 0 {
		return Part{}, fmt.Errorf("chip %q: %w", name, ErrNotFound)
	}
	return p[i], nil
}

// Find looks name up as a chip, then as a series.
func (p Parts) Find(name string) (Part, error) {
	if part, err := p.FindByChip(name); err == nil {
		return part, nil
	}
	return p.FindBySeries(name)
}

func init() {
	if err := yaml.Unmarshal(rawParts, &parts); err != nil {
		panic(err)
	}
	for _, p := range parts {
		if err := p.validate(); err != nil {
			panic(err)
		}
	}
}
