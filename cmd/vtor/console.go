package main

import (
	"io"
	"sync"
)

// console is the receive buffer and transmitter behind the keyboard
// interrupt. Handlers run on the simulator goroutine, so access is locked.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	rbuf byte
	full bool
}

// put latches a received character.
func (c *console) put(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rbuf = b
	c.full = true
}

// take reads the receive buffer, clearing it.
func (c *console) take() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		return 0
	}
	c.full = false
	return c.rbuf
}

func (c *console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.w, s)
}
