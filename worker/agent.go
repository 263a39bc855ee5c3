// Package worker implements the node agent: the process-side of a
// worker node. An Agent registers with the coordinator, advertises
// liveness over fire-and-forget heartbeats, and executes at most one
// assigned task at a time under a leased resource lock.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/envelope"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/middleware"
	"github.com/hugoboss23-5/swarm/task"
	"github.com/hugoboss23-5/swarm/transport"
)

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithCapacity sets the capacity advertised at registration.
func WithCapacity(n int) AgentOption {
	return func(a *Agent) { a.capacity = n }
}

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) AgentOption {
	return func(a *Agent) { a.heartbeatInterval = d }
}

// WithLease sets the lock lease duration requested per execution.
func WithLease(d time.Duration) AgentOption {
	return func(a *Agent) { a.lease = d }
}

// WithLockWait bounds how long an assignment waits for a contested
// resource before the agent refuses it.
func WithLockWait(d time.Duration) AgentOption {
	return func(a *Agent) { a.lockWait = d }
}

// WithCancelGrace sets how long a cancelled handler may keep running
// before the agent abandons it and frees itself for new work.
func WithCancelGrace(d time.Duration) AgentOption {
	return func(a *Agent) { a.cancelGrace = d }
}

// WithMiddleware sets the execution middleware chain.
func WithMiddleware(mws ...middleware.Middleware) AgentOption {
	return func(a *Agent) { a.mw = middleware.Chain(mws...) }
}

// execution tracks the agent's single in-flight task.
type execution struct {
	taskID id.TaskID
	units  int
	cancel context.CancelFunc
	done   chan struct{}
	// abandoned is set when the cancel grace expired; the execution
	// goroutine must not release the lock or report after that.
	abandoned atomic.Bool
}

// Agent is one worker node's process agent. It subscribes to its own
// transport address, so the coordinator reaches it by node ID.
type Agent struct {
	nodeID      id.NodeID
	coordinator string
	bus         transport.Bus
	registry    *task.Registry
	locks       *lock.Manager
	mw          middleware.Middleware
	logger      *slog.Logger

	capacity          int
	heartbeatInterval time.Duration
	lease             time.Duration
	lockWait          time.Duration
	cancelGrace       time.Duration

	// lastVersion is the highest cluster-state version this agent has
	// acknowledged as a consensus voter.
	lastVersion atomic.Uint64

	mu      sync.Mutex
	current *execution
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAgent creates a worker agent for the given node identity. The
// coordinator address is the transport address its requests go to.
func NewAgent(
	nodeID id.NodeID,
	coordinator string,
	bus transport.Bus,
	registry *task.Registry,
	locks *lock.Manager,
	logger *slog.Logger,
	opts ...AgentOption,
) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		nodeID:            nodeID,
		coordinator:       coordinator,
		bus:               bus,
		registry:          registry,
		locks:             locks,
		mw:                middleware.Chain(),
		logger:            logger.With(slog.String("node", nodeID.String())),
		capacity:          1,
		heartbeatInterval: 2 * time.Second,
		lease:             30 * time.Second,
		lockWait:          5 * time.Second,
		cancelGrace:       5 * time.Second,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NodeID returns the agent's node identity.
func (a *Agent) NodeID() id.NodeID { return a.nodeID }

// Addr returns the agent's transport address.
func (a *Agent) Addr() string { return a.nodeID.String() }

// Busy reports whether a task is currently in flight.
func (a *Agent) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// VoterID implements consensus.Voter for agents wired in-process.
func (a *Agent) VoterID() string { return a.nodeID.String() }

// Start subscribes the agent, registers the node with the coordinator,
// and launches the heartbeat loop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	a.bus.Subscribe(a.Addr(), a.handle)

	req, err := envelope.NewRequest(a.Addr(), envelope.MethodNodeRegister, envelope.NodeRegister{
		NodeID:   a.nodeID.String(),
		Capacity: a.capacity,
	})
	if err != nil {
		return err
	}
	resp, err := a.bus.Request(ctx, a.coordinator, req)
	if err != nil {
		a.bus.Unsubscribe(a.Addr())
		return err
	}
	if resp.IsError() {
		a.bus.Unsubscribe(a.Addr())
		return swarm.ErrDuplicateNode
	}

	a.wg.Add(1)
	go a.heartbeatLoop()

	a.logger.Info("worker agent started",
		slog.Int("capacity", a.capacity),
		slog.Duration("heartbeat_interval", a.heartbeatInterval),
	)
	return nil
}

// Stop waits out the in-flight task up to the cancel grace, deregisters
// the node, and unsubscribes from the bus.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	current := a.current
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()

	if current != nil {
		select {
		case <-current.done:
		case <-time.After(a.cancelGrace):
			a.logger.Warn("in-flight task outlived shutdown grace",
				slog.String("task_id", current.taskID.String()),
			)
		}
	}

	req, err := envelope.NewRequest(a.Addr(), envelope.MethodNodeDeregister, envelope.NodeDeregister{
		NodeID: a.nodeID.String(),
	})
	if err == nil {
		if _, reqErr := a.bus.Request(ctx, a.coordinator, req); reqErr != nil {
			a.logger.Warn("deregistration failed", slog.String("error", reqErr.Error()))
		}
	}

	a.bus.Unsubscribe(a.Addr())
	a.logger.Info("worker agent stopped")
	return nil
}

// handle dispatches inbound frames by method.
func (a *Agent) handle(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	switch f.Method {
	case envelope.MethodTaskAssign:
		return a.handleAssign(ctx, f)
	case envelope.MethodTaskCancel:
		return a.handleCancel(ctx, f)
	case envelope.MethodStatePropose:
		return a.handleStatePropose(ctx, f)
	case envelope.MethodStateCommit:
		a.handleStateCommit(f)
		return nil
	default:
		return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, "unknown method "+f.Method)
	}
}

// handleAssign accepts at most one task; a second assignment while one
// is in flight is refused so the coordinator can reroute it.
func (a *Agent) handleAssign(_ context.Context, f *envelope.Frame) *envelope.Frame {
	var assign envelope.TaskAssign
	if err := f.DecodeBody(&assign); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	taskID, err := id.ParseTaskID(assign.TaskID)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}

	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		resp, respErr := envelope.NewResponse(f, envelope.TaskAssignResult{
			Accepted: false,
			Reason:   swarm.ErrWorkerBusy.Error(),
		})
		if respErr != nil {
			return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, respErr.Error())
		}
		return resp
	}

	execCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{
		taskID: taskID,
		units:  1,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.current = exec
	a.mu.Unlock()

	go a.run(execCtx, exec, &assign)

	resp, respErr := envelope.NewResponse(f, envelope.TaskAssignResult{Accepted: true})
	if respErr != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, respErr.Error())
	}
	return resp
}

// run acquires the resource lock, executes the handler through the
// middleware chain, releases the lock, and reports the outcome.
func (a *Agent) run(ctx context.Context, exec *execution, assign *envelope.TaskAssign) {
	defer close(exec.done)

	held, err := a.locks.AcquireWait(ctx, a.nodeID, assign.ResourceKey, exec.taskID, a.lease, a.lockWait)
	if err != nil {
		a.logger.Info("refusing task: lock unavailable",
			slog.String("task_id", exec.taskID.String()),
			slog.String("resource", assign.ResourceKey),
			slog.String("error", err.Error()),
		)
		a.finish(ctx, exec, 0, envelope.OutcomeRefused, "")
		return
	}
	a.sendProgress(ctx, exec.taskID, envelope.PhaseLocked, held.Token)

	t := &task.Task{
		ID:           exec.taskID,
		Name:         assign.Name,
		Payload:      assign.Payload,
		Resource:     task.Resource{Key: assign.ResourceKey},
		State:        task.StateExecuting,
		Timeout:      assign.Timeout,
		AssignedNode: a.nodeID,
		Token:        held.Token,
	}

	handler, ok := a.registry.Get(assign.Name)
	var execErr error
	if !ok {
		execErr = swarm.ErrNoHandler
	} else {
		a.sendProgress(ctx, exec.taskID, envelope.PhaseExecuting, held.Token)
		terminal := func(ctx context.Context) error {
			return handler(ctx, t.Payload)
		}
		execErr = a.mw(ctx, t, terminal)
	}

	if exec.abandoned.Load() {
		// The cancel grace expired while the handler was still running.
		// The busy gate is already free; the lease expires on its own.
		a.logger.Warn("abandoned execution finished late",
			slog.String("task_id", exec.taskID.String()),
		)
		return
	}

	if relErr := a.locks.Release(ctx, a.nodeID, assign.ResourceKey, held.Token); relErr != nil {
		a.logger.Warn("lock release failed",
			slog.String("resource", assign.ResourceKey),
			slog.String("error", relErr.Error()),
		)
	}

	outcome := envelope.OutcomeCompleted
	errMsg := ""
	if execErr != nil {
		outcome = envelope.OutcomeFailed
		errMsg = execErr.Error()
	}
	a.finish(ctx, exec, held.Token, outcome, errMsg)
}

// finish clears the busy gate and reports the outcome, tagged with the
// fencing token the execution held. The report reuses one correlation
// ID across transport retries so the coordinator applies it once.
func (a *Agent) finish(ctx context.Context, exec *execution, token uint64, outcome, errMsg string) {
	a.mu.Lock()
	if a.current == exec {
		a.current = nil
	}
	a.mu.Unlock()

	report := envelope.TaskReport{
		TaskID:  exec.taskID.String(),
		NodeID:  a.nodeID.String(),
		Outcome: outcome,
		Token:   token,
		Error:   errMsg,
	}
	req, err := envelope.NewRequest(a.Addr(), envelope.MethodTaskReport, report)
	if err != nil {
		a.logger.Error("building task report", slog.String("error", err.Error()))
		return
	}
	// The execution context may already be cancelled; the report must
	// still go out.
	if _, err := a.bus.Request(context.WithoutCancel(ctx), a.coordinator, req); err != nil {
		a.logger.Error("task report undelivered",
			slog.String("task_id", exec.taskID.String()),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Debug("task reported",
		slog.String("task_id", exec.taskID.String()),
		slog.String("outcome", outcome),
		slog.Uint64("token", token),
	)
}

// sendProgress advertises a phase change fire-and-forget. Loss is
// tolerated: the outcome report carries the same token and settles the
// task either way.
func (a *Agent) sendProgress(ctx context.Context, taskID id.TaskID, phase string, token uint64) {
	ev, err := envelope.NewEvent(a.Addr(), envelope.MethodTaskProgress, envelope.TaskProgress{
		TaskID: taskID.String(),
		NodeID: a.nodeID.String(),
		Phase:  phase,
		Token:  token,
	})
	if err != nil {
		a.logger.Error("building progress event", slog.String("error", err.Error()))
		return
	}
	if err := a.bus.Send(context.WithoutCancel(ctx), a.coordinator, ev); err != nil {
		a.logger.Debug("progress undelivered",
			slog.String("task_id", taskID.String()),
			slog.String("phase", phase),
			slog.String("error", err.Error()),
		)
	}
}

// handleCancel cancels the in-flight execution and bounds the wait for
// the handler to wind down. Past the grace the execution is abandoned:
// the agent frees itself and the resource lease lapses on its own.
func (a *Agent) handleCancel(_ context.Context, f *envelope.Frame) *envelope.Frame {
	var cancelReq envelope.TaskCancel
	if err := f.DecodeBody(&cancelReq); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}

	a.mu.Lock()
	exec := a.current
	a.mu.Unlock()

	if exec == nil || exec.taskID.String() != cancelReq.TaskID {
		return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, "task not executing here")
	}

	exec.cancel()
	go func() {
		select {
		case <-exec.done:
		case <-time.After(a.cancelGrace):
			exec.abandoned.Store(true)
			a.mu.Lock()
			if a.current == exec {
				a.current = nil
			}
			a.mu.Unlock()
			a.logger.Warn("cancel grace expired, abandoning execution",
				slog.String("task_id", exec.taskID.String()),
			)
		}
	}()

	resp, err := envelope.NewResponse(f, envelope.TaskReportResult{Applied: true})
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return resp
}

// handleStatePropose acknowledges cluster-state proposals, making the
// agent a consensus voter. Versions must advance strictly.
func (a *Agent) handleStatePropose(_ context.Context, f *envelope.Frame) *envelope.Frame {
	var prop envelope.StatePropose
	if err := f.DecodeBody(&prop); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}

	ack := envelope.StateAck{ProposalID: prop.ProposalID, Version: prop.Version}
	for {
		last := a.lastVersion.Load()
		if prop.Version <= last {
			ack.Acked = false
			ack.Reason = swarm.ErrVersionConflict.Error()
			break
		}
		if a.lastVersion.CompareAndSwap(last, prop.Version) {
			ack.Acked = true
			break
		}
	}

	resp, err := envelope.NewResponse(f, ack)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return resp
}

// handleStateCommit folds a commit broadcast into the agent's version
// watermark. Commits can outrun proposals when the coordinator commits
// coordinator-authoritatively on quorum timeout.
func (a *Agent) handleStateCommit(f *envelope.Frame) {
	var commit envelope.StateCommit
	if err := f.DecodeBody(&commit); err != nil {
		return
	}
	for {
		last := a.lastVersion.Load()
		if commit.Version <= last {
			return
		}
		if a.lastVersion.CompareAndSwap(last, commit.Version) {
			if commit.Unconfirmed {
				a.logger.Debug("observed unconfirmed commit",
					slog.Uint64("version", commit.Version),
				)
			}
			return
		}
	}
}

// heartbeatLoop advertises liveness and load until the agent stops.
// Heartbeats are fire-and-forget; loss is tolerated, sustained silence
// is what the coordinator acts on.
func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.heartbeat()
		}
	}
}

func (a *Agent) heartbeat() {
	load := 0
	a.mu.Lock()
	if a.current != nil {
		load = a.current.units
	}
	a.mu.Unlock()

	ev, err := envelope.NewEvent(a.Addr(), envelope.MethodNodeHeartbeat, envelope.NodeHeartbeat{
		NodeID: a.nodeID.String(),
		Load:   load,
		At:     time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("building heartbeat", slog.String("error", err.Error()))
		return
	}
	if err := a.bus.Send(context.Background(), a.coordinator, ev); err != nil {
		a.logger.Debug("heartbeat undelivered", slog.String("error", err.Error()))
	}
}
