// Package ports hands out host TCP ports for preview sandboxes from a
// fixed range. A port is only returned when it is untracked, bindable at
// the OS level, and not published by any container the runtime manages.
package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const (
	// DefaultRangeStart and DefaultRangeEnd bound the managed port range
	// (closed interval).
	DefaultRangeStart = 4000
	DefaultRangeEnd   = 5000
)

// ErrNoFreePort is returned when every candidate in the range is taken.
// Callers surface this as a creation failure; the allocator never retries.
var ErrNoFreePort = errors.New("no free port in managed range")

// PublishedPortsFunc reports host ports currently published by containers
// under the runtime's control. Used as a second check beyond the OS bind
// probe, since a container proxy may hold a port without a local listener.
type PublishedPortsFunc func(ctx context.Context) (map[int]bool, error)

// Allocator reserves unique ports from [start, end]. Reservation is atomic
// with respect to the scan: two concurrent Allocate calls can never return
// the same port.
type Allocator struct {
	start, end int
	published  PublishedPortsFunc
	logger     *slog.Logger

	mu   sync.Mutex
	used map[int]bool
}

// New creates an Allocator over [start, end]. published may be nil, in
// which case only the tracked set and the OS bind probe are consulted.
func New(start, end int, published PublishedPortsFunc, logger *slog.Logger) *Allocator {
	if start <= 0 || end < start {
		start, end = DefaultRangeStart, DefaultRangeEnd
	}
	return &Allocator{
		start:     start,
		end:       end,
		published: published,
		logger:    logger,
		used:      make(map[int]bool),
	}
}

// Allocate scans the range ascending and reserves the first fully-free
// port. Returns ErrNoFreePort when the range is exhausted.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	var busy map[int]bool
	if a.published != nil {
		p, err := a.published(ctx)
		if err != nil {
			// The runtime check is advisory; the bind probe still guards
			// against real collisions.
			a.logger.Warn("could not list runtime-published ports",
				slog.String("error", err.Error()),
			)
		} else {
			busy = p
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port <= a.end; port++ {
		if a.used[port] || busy[port] {
			continue
		}
		if !bindable(port) {
			continue
		}
		a.used[port] = true
		a.logger.Debug("port allocated", slog.Int("port", port))
		return port, nil
	}
	return 0, ErrNoFreePort
}

// Release returns a port to the pool, making it eligible for immediate
// reuse. Releasing an untracked port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used[port] {
		delete(a.used, port)
		a.logger.Debug("port released", slog.Int("port", port))
	}
}

// InUse reports how many ports are currently reserved.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Range returns the managed interval, for the cleanup startup sweep.
func (a *Allocator) Range() (int, int) {
	return a.start, a.end
}

// bindable checks OS-level availability by briefly binding the port.
// This works on every platform, unlike parsing netstat/lsof output.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
