// Package shutdown turns termination signals into an orderly shutdown of the
// running service.
//
// Signal delivery only enqueues a request. A single worker goroutine drains
// the queue and calls Target.Shutdown, so the call never runs concurrently
// with itself and never runs on the goroutine blocked in ServeForever.
package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Target is the object being shut down. Shutdown must be safe to call while
// ServeForever is running and safe to call more than once.
type Target interface {
	Shutdown() error
}

// NotifyFunc matches signal.Notify.
type NotifyFunc func(c chan<- os.Signal, sig ...os.Signal)

// StopFunc matches signal.Stop.
type StopFunc func(c chan<- os.Signal)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotify replaces signal.Notify and signal.Stop.
func WithNotify(notify NotifyFunc, stop StopFunc) Option {
	return func(c *Coordinator) {
		c.notify = notify
		c.stop = stop
	}
}

// Coordinator owns the signal subscription and the shutdown worker.
type Coordinator struct {
	target Target
	log    *slog.Logger
	notify NotifyFunc
	stop   StopFunc

	signals  chan os.Signal
	requests chan struct{}
	quit     chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	installed bool
	closed    bool
}

// New creates a coordinator for target. Nothing is subscribed until Install.
func New(target Target, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Coordinator{
		target:   target,
		log:      log,
		notify:   signal.Notify,
		stop:     signal.Stop,
		signals:  make(chan os.Signal, 1),
		requests: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Install subscribes to sigs and starts the worker. It may be called once.
func (c *Coordinator) Install(sigs ...os.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed || c.closed {
		return
	}
	c.installed = true

	c.notify(c.signals, sigs...)
	go c.run()
	c.log.Debug("Installed shutdown signal handler", "signals", sigs)
}

// Request asks the worker to shut the target down. It never blocks; requests
// made while one is already pending are coalesced.
func (c *Coordinator) Request() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Close unsubscribes from signals and waits for the worker to exit. A
// shutdown already in progress is allowed to finish. Close is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	installed := c.installed
	c.mu.Unlock()

	if !installed {
		return
	}
	c.stop(c.signals)
	close(c.quit)
	<-c.done
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case sig := <-c.signals:
			c.log.Info("Received signal, shutting down", "signal", sig.String())
			c.Request()
		case <-c.requests:
			if err := c.target.Shutdown(); err != nil {
				c.log.Error("Shutdown failed", "error", err)
			}
		case <-c.quit:
			return
		}
	}
}
