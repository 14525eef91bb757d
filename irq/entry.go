package irq

// thumbEntry returns the table word for a func value made of a closure
// context and a code pointer. A table word carries no context, so only
// functions without one can be entered through it.
func thumbEntry(context, code uintptr) (uint32, error) {
	if context != 0 {
		return 0, ErrClosure
	}
	return uint32(code) | 1, nil
}
