package bot

import (
	"sync"
	"time"

	telebot "gopkg.in/telebot.v3"
)

// drainGate counts in-flight handlers and refuses new ones once closed.
type drainGate struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (g *drainGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *drainGate) leave() {
	g.wg.Done()
}

// close stops admitting handlers and waits up to timeout for running ones.
// It reports whether all of them finished.
func (g *drainGate) close(timeout time.Duration) bool {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// middleware is installed on the telebot bot so every handler passes the gate.
func (g *drainGate) middleware(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if !g.enter() {
			return nil
		}
		defer g.leave()
		return next(c)
	}
}
