//go:build !(tinygo && cortexm)

package irq

// spin hands control back to the simulator, which parks the core at the
// entry of Default.
func spin() {
	panic(ErrUnhandled)
}
