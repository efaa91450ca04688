// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when an event could not be queued.
var ErrQueueFull = errors.New("notification queue full")

// Dispatcher queues events and publishes them from a worker pool so that
// a slow broker never holds up a swap.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	queue     chan *Event
	workers   int
	timeout   time.Duration
	wg        sync.WaitGroup
	done      chan struct{}
	mu        sync.RWMutex
	running   bool
}

// Config holds dispatcher configuration.
type Config struct {
	Workers   int           // Number of concurrent publish workers
	QueueSize int           // Events buffered before Dispatch rejects
	Timeout   time.Duration // Per-event publish timeout
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   2,
		QueueSize: 100,
		Timeout:   10 * time.Second,
	}
}

// NewDispatcher creates a dispatcher publishing through p.
func NewDispatcher(p Publisher, logger *slog.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		publisher: p,
		logger:    logger,
		queue:     make(chan *Event, cfg.QueueSize),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		done:      make(chan struct{}),
	}
}

// Start starts the dispatcher workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting notification dispatcher", "workers", d.workers)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop stops accepting events, publishes what is queued and waits for the
// workers to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.publish(ctx, event)
		case <-d.done:
			d.drain(ctx)
			return
		case <-ctx.Done():
			d.logger.Debug("notification worker context cancelled", "worker_id", id)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.publish(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, event *Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(pctx, event); err != nil {
		d.logger.Error("publishing event failed", "id", event.ID, "type", event.Type, "error", err)
	}
}

// Dispatch queues an event without waiting for it to be published.
func (d *Dispatcher) Dispatch(_ context.Context, event *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		d.logger.Warn("dispatcher not running, dropping event", "type", event.Type)
		return nil
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("notification queue full, dropping event", "type", event.Type)
		return ErrQueueFull
	}
}
