package uiadapter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStoppable struct {
	mu      sync.Mutex
	stopped int
}

func (f *fakeStoppable) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeStoppable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestShutdownStopsAppCancelsContextAndResetsTerminal(t *testing.T) {
	app := &fakeStoppable{}
	_, cancel := context.WithCancel(context.Background())
	cancelled := false
	c := NewShutdownController(app, func() { cancelled = true; cancel() })

	var buf bytes.Buffer
	c.out = &buf

	c.Shutdown()

	assert.Equal(t, 1, app.count())
	assert.True(t, cancelled)
	assert.True(t, strings.Contains(buf.String(), "\x1b[?25h"), "expected cursor-show escape in terminal reset")
}

func TestShutdownIsIdempotent(t *testing.T) {
	app := &fakeStoppable{}
	c := NewShutdownController(app, func() {})
	var buf bytes.Buffer
	c.out = &buf

	c.Shutdown()
	c.Shutdown()
	c.Shutdown()

	assert.Equal(t, 1, app.count())
}

func TestShutdownConcurrentCallsFireOnce(t *testing.T) {
	app := &fakeStoppable{}
	c := NewShutdownController(app, func() {})
	var buf bytes.Buffer
	c.out = &buf

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, app.count())
}
