package input

import (
	"bytes"
	"io"
	"sync"
)

// Gate passes reads through to the underlying reader only while armed.
//
// The line editor reads its input from a background goroutine that never
// stops. Without the gate it would steal keystrokes meant for foreground
// jobs. A read that returns the end of a line, an interrupt or an end of
// file disarms the gate.
type Gate struct {
	r io.Reader

	mu     sync.Mutex
	cond   *sync.Cond
	armed  bool
	closed bool
}

// endOfLine holds the bytes that finish a prompt.
const endOfLine = "\r\n\x03\x04"

// NewGate creates a disarmed gate over r.
func NewGate(r io.Reader) *Gate {
	g := &Gate{r: r}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Arm lets reads through until a line ends.
func (g *Gate) Arm() {
	g.set(true)
}

// Disarm blocks further reads.
func (g *Gate) Disarm() {
	g.set(false)
}

func (g *Gate) set(armed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = armed
	g.cond.Broadcast()
}

// Armed reports whether reads currently pass through.
func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

func (g *Gate) Read(p []byte) (int, error) {
	g.mu.Lock()
	for !g.armed && !g.closed {
		g.cond.Wait()
	}
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	n, err := g.r.Read(p)
	// Enter, or Ctrl+C and Ctrl+D in raw mode.
	if bytes.ContainsAny(p[:n], endOfLine) {
		g.Disarm()
	}
	return n, err
}

// Close releases blocked readers. The underlying reader is left open.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cond.Broadcast()
	return nil
}
