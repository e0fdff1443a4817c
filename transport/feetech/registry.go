package feetech

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// BusConfig identifies one serial bus.
type BusConfig struct {
	Port     string
	Baudrate int
}

type busEntry[B io.Closer] struct {
	bus      B
	config   BusConfig
	refCount int64
	open     bool
	mu       sync.Mutex
}

// Registry shares one open bus per serial port between its users and
// closes it when the last one releases it.
type Registry[B io.Closer] struct {
	entries map[string]*busEntry[B]
	mu      sync.Mutex
	opener  func(BusConfig) (B, error)
	logger  logging.Logger
}

// NewRegistry returns a registry that opens buses with opener.
func NewRegistry[B io.Closer](opener func(BusConfig) (B, error), logger logging.Logger) *Registry[B] {
	return &Registry[B]{
		entries: make(map[string]*busEntry[B]),
		opener:  opener,
		logger:  logger,
	}
}

// Acquire returns the bus for cfg.Port, opening it on first use. A port
// already open with a different baudrate is a conflict.
func (r *Registry[B]) Acquire(cfg BusConfig) (B, error) {
	r.mu.Lock()
	entry, exists := r.entries[cfg.Port]
	if !exists {
		entry = &busEntry[B]{config: cfg}
		r.entries[cfg.Port] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var zero B
	if entry.open {
		if entry.config != cfg {
			return zero, fmt.Errorf("conflict: port %s already open at %d baud (refCount: %d)",
				cfg.Port, entry.config.Baudrate, atomic.LoadInt64(&entry.refCount))
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.bus, nil
	}

	bus, err := r.opener(cfg)
	if err != nil {
		r.mu.Lock()
		if r.entries[cfg.Port] == entry {
			delete(r.entries, cfg.Port)
		}
		r.mu.Unlock()
		return zero, fmt.Errorf("failed to open feetech bus on %s: %w", cfg.Port, err)
	}
	entry.bus = bus
	entry.config = cfg
	entry.open = true
	atomic.StoreInt64(&entry.refCount, 1)
	r.mu.Lock()
	r.entries[cfg.Port] = entry
	r.mu.Unlock()
	r.logger.Infof("Opened feetech bus on %s at %d baud", cfg.Port, cfg.Baudrate)
	return bus, nil
}

// Release drops one reference to the bus on port, closing it when none
// remain.
func (r *Registry[B]) Release(port string) error {
	r.mu.Lock()
	entry, exists := r.entries[port]
	r.mu.Unlock()
	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.open {
		return nil
	}
	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return nil
	}

	err := entry.bus.Close()
	if err != nil {
		r.logger.Warnf("error closing shared bus for port %s: %v", port, err)
	}
	var zero B
	entry.bus = zero
	entry.open = false

	r.mu.Lock()
	if r.entries[port] == entry {
		delete(r.entries, port)
	}
	r.mu.Unlock()
	return err
}

// Status reports the reference count and whether the bus on port is open.
func (r *Registry[B]) Status(port string) (int64, bool) {
	r.mu.Lock()
	entry, exists := r.entries[port]
	r.mu.Unlock()
	if !exists {
		return 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return atomic.LoadInt64(&entry.refCount), entry.open
}
