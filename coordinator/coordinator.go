// Package coordinator implements the swarm's single-writer brain. All
// cluster-level decisions — task admission, placement, report
// resolution, worker liveness — flow through one actor loop, so no two
// writers ever race on the registries. External callers interact
// through request frames or the exported methods, both of which enqueue
// commands onto the loop.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/hook"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/sched"
	"github.com/hugoboss23-5/swarm/task"
	"github.com/hugoboss23-5/swarm/transport"
)

// DefaultAddr is the coordinator's transport address.
const DefaultAddr = "coordinator"

// Archive replays restore tasks through the actor loop.
var _ archive.Restorer = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAddr sets the coordinator's transport address.
func WithAddr(addr string) Option {
	return func(c *Coordinator) { c.addr = addr }
}

// WithHeartbeatTimeout sets how long a worker may stay silent before
// it is declared lost.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.heartbeatTimeout = d }
}

// WithReapInterval sets how often silent workers are swept.
func WithReapInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.reapInterval = d }
}

// WithScheduleInterval sets how often a scheduling pass runs in the
// absence of triggering events.
func WithScheduleInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.scheduleInterval = d }
}

// WithRetryBudget sets the retry budget stamped on tasks submitted
// without one.
func WithRetryBudget(n int) Option {
	return func(c *Coordinator) { c.retryBudget = n }
}

// WithLimiter sets the per-resource-class admission limiter.
func WithLimiter(l *sched.Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// Stores bundles the persistence interfaces the coordinator writes.
type Stores struct {
	Tasks task.Store
	Nodes node.Store
}

// Coordinator runs the actor loop. It owns the task and worker
// registries, drives placement and report resolution, and proposes
// every resulting state change to the consensus module.
type Coordinator struct {
	addr     string
	stores   Stores
	locks    *lock.Manager
	quorum   *consensus.Module
	archiver *archive.Service
	limiter  *sched.Limiter
	hooks    *hook.Registry
	bus      transport.Bus
	logger   *slog.Logger

	heartbeatTimeout time.Duration
	reapInterval     time.Duration
	scheduleInterval time.Duration
	retryBudget      int

	// cancelRequested marks tasks whose abort was requested; a
	// subsequent failure report resolves them to Dead instead of
	// spending retries. Owned by the actor loop.
	cancelRequested map[string]bool

	cmdCh  chan func(context.Context)
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Coordinator. The bus may be nil for purely programmatic
// use (no frame handlers, no assignment delivery) in tests.
func New(
	stores Stores,
	locks *lock.Manager,
	quorum *consensus.Module,
	archiver *archive.Service,
	hooks *hook.Registry,
	bus transport.Bus,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		addr:             DefaultAddr,
		stores:           stores,
		locks:            locks,
		quorum:           quorum,
		archiver:         archiver,
		limiter:          sched.NewLimiter(),
		hooks:            hooks,
		bus:              bus,
		logger:           logger,
		heartbeatTimeout: 10 * time.Second,
		reapInterval:     2 * time.Second,
		scheduleInterval: 500 * time.Millisecond,
		retryBudget:      3,
		cancelRequested:  make(map[string]bool),
		cmdCh:            make(chan func(context.Context), 64),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the coordinator's transport address.
func (c *Coordinator) Addr() string { return c.addr }

// Start subscribes the coordinator to the bus and launches the actor
// loop with its schedule and reap tickers.
func (c *Coordinator) Start(_ context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Subscribe(c.addr, c.handleFrame)
	}

	c.wg.Add(1)
	go c.loop()

	c.logger.Info("coordinator started",
		slog.String("addr", c.addr),
		slog.Duration("heartbeat_timeout", c.heartbeatTimeout),
	)
	return nil
}

// Stop drains the actor loop and unsubscribes from the bus.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	if c.bus != nil {
		c.bus.Unsubscribe(c.addr)
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	c.logger.Info("coordinator stopped")
	return nil
}

// loop is the single writer. Every mutation of the task and worker
// registries happens on this goroutine.
func (c *Coordinator) loop() {
	defer c.wg.Done()

	scheduleTicker := time.NewTicker(c.scheduleInterval)
	defer scheduleTicker.Stop()
	reapTicker := time.NewTicker(c.reapInterval)
	defer reapTicker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			return
		case cmd := <-c.cmdCh:
			cmd(ctx)
		case <-scheduleTicker.C:
			c.schedulePass(ctx)
		case <-reapTicker.C:
			c.reapPass(ctx)
		}
	}
}

// do runs fn on the actor loop and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	wrapped := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}
	select {
	case c.cmdCh <- wrapped:
	case <-c.stopCh:
		return swarm.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs fn on the actor loop without waiting.
func (c *Coordinator) enqueue(fn func(context.Context)) {
	select {
	case c.cmdCh <- fn:
	case <-c.stopCh:
	}
}
