// Package lifecycle coordinates startup and shutdown of long-lived
// subsystems and reports aggregate readiness.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReadinessChecker reports whether a subsystem is ready to serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func() bool

func (f ReadinessFunc) Ready() bool { return f() }

// PendingStartup is reported by Pending until WaitForStartup returns.
const PendingStartup = "startup"

type namedCheck struct {
	name    string
	checker ReadinessChecker
}

// Coordinator runs startup hooks, fans out shutdown through a shared
// context, and aggregates named readiness checks.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	startup  sync.WaitGroup
	shutdown sync.WaitGroup

	mu      sync.RWMutex
	started bool
	checks  []namedCheck
}

func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Context is cancelled when Shutdown begins.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup runs fn concurrently with the other startup hooks.
func (c *Coordinator) OnStartup(fn func()) {
	c.startup.Go(fn)
}

// OnShutdown runs fn in its own goroutine. Hooks block on
// <-c.Context().Done() before releasing resources.
func (c *Coordinator) OnShutdown(fn func()) {
	c.shutdown.Go(fn)
}

// Check registers a named readiness condition. Names appear in Pending
// while the checker reports false.
func (c *Coordinator) Check(name string, checker ReadinessChecker) {
	c.mu.Lock()
	c.checks = append(c.checks, namedCheck{name: name, checker: checker})
	c.mu.Unlock()
}

// Pending lists what is holding readiness back, in registration order.
func (c *Coordinator) Pending() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending []string
	if !c.started {
		pending = append(pending, PendingStartup)
	}
	for _, nc := range c.checks {
		if !nc.checker.Ready() {
			pending = append(pending, nc.name)
		}
	}
	return pending
}

// Ready is true once startup hooks have finished and every check passes.
func (c *Coordinator) Ready() bool {
	return len(c.Pending()) == 0
}

// WaitForStartup blocks until every startup hook has returned.
func (c *Coordinator) WaitForStartup() {
	c.startup.Wait()
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

// Shutdown cancels the shared context and waits up to timeout for the
// shutdown hooks.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.shutdown.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown hooks still running after %v", timeout)
	}
}
