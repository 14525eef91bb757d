//go:build tinygo && cortexm

package irq

import "device/arm"

func spin() {
	arm.Asm("nop")
}
