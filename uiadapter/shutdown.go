package uiadapter

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// terminalReset is written on every shutdown path (signal, clean exit, or
// panic recovery) so a crashed or killed run never leaves the terminal in
// alt-screen/mouse-tracking/bracketed-paste mode: exit alt screen, show
// cursor, reset attributes, disable mouse tracking, bracketed paste, and
// focus reporting, in that order.
const terminalReset = "\x1b[?1049l\x1b[?25h\x1b[0m\x1b[?1000l\x1b[?2004l\x1b[?1004l"

// Stoppable is the subset of TUI (or any tview.Application wrapper) the
// controller needs to unblock Run() on shutdown.
type Stoppable interface {
	Stop()
}

// ShutdownController coordinates SIGINT/SIGTERM, the in-flight RPC
// cancellation context, and terminal cleanup, matching twallet.go's
// single shutdown path regardless of how the process is asked to exit.
type ShutdownController struct {
	app    Stoppable
	cancel context.CancelFunc
	out    io.Writer

	mu   sync.Mutex
	done bool
	sigCh chan os.Signal
}

// NewShutdownController wires app.Stop() and cancel() to fire together,
// exactly once, on SIGINT, SIGTERM, or an explicit Shutdown call.
func NewShutdownController(app Stoppable, cancel context.CancelFunc) *ShutdownController {
	return &ShutdownController{
		app:    app,
		cancel: cancel,
		out:    os.Stdout,
		sigCh:  make(chan os.Signal, 1),
	}
}

// Listen starts watching for SIGINT/SIGTERM in the background; call Release
// to release the signal.Notify registration once the app has exited.
func (c *ShutdownController) Listen() {
	signal.Notify(c.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-c.sigCh; ok {
			c.Shutdown()
		}
	}()
}

// Shutdown stops the UI, cancels in-flight RPC work, and resets the
// terminal. Safe to call more than once or concurrently; only the first
// call has effect.
func (c *ShutdownController) Shutdown() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.app != nil {
		c.app.Stop()
	}
	_, _ = io.WriteString(c.out, terminalReset)
}

// Release stops listening for signals without triggering a shutdown.
func (c *ShutdownController) Release() {
	signal.Stop(c.sigCh)
	close(c.sigCh)
}
