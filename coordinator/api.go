package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/envelope"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// Submit admits a task into the swarm. The task identifier must be
// unique; a duplicate is rejected with swarm.ErrDuplicateTask and the
// existing task is untouched. Dependencies hold the task in Pending
// until every one of them completes.
func (c *Coordinator) Submit(ctx context.Context, t *task.Task) error {
	if t.Name == "" || t.Resource.Key == "" {
		return swarm.ErrInvalidTask
	}
	if t.ID.IsNil() {
		t.ID = id.NewTaskID()
	}
	if t.RetryBudget == 0 {
		t.RetryBudget = c.retryBudget
	}
	if t.Resource.Units <= 0 {
		t.Resource.Units = 1
	}

	var submitErr error
	err := c.do(ctx, func(ctx context.Context) {
		t.State = task.StatePending
		now := time.Now().UTC()
		t.CreatedAt = now
		t.UpdatedAt = now
		if submitErr = c.stores.Tasks.CreateTask(ctx, t); submitErr != nil {
			return
		}
		if c.hooks != nil {
			c.hooks.EmitTaskSubmitted(ctx, t)
		}
		c.logger.Debug("task submitted",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("resource", t.Resource.Key),
		)
		c.schedulePass(ctx)
	})
	if err != nil {
		return err
	}
	return submitErr
}

// SubmitTemplate creates and submits a fresh task from a recurring
// template. Each firing gets its own task identifier; the template name
// doubles as the resource key, so runs of the same template serialize.
func (c *Coordinator) SubmitTemplate(ctx context.Context, taskName string, payload []byte) (id.TaskID, error) {
	t := &task.Task{
		ID:       id.NewTaskID(),
		Name:     taskName,
		Payload:  payload,
		Resource: task.Resource{Key: taskName},
	}
	if err := c.Submit(ctx, t); err != nil {
		return id.Nil, err
	}
	return t.ID, nil
}

// Status returns a copy of the task's current record.
func (c *Coordinator) Status(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var (
		t       *task.Task
		lookErr error
	)
	err := c.do(ctx, func(ctx context.Context) {
		t, lookErr = c.stores.Tasks.GetTask(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	return t, lookErr
}

// Cancel aborts a task. A pending task dies immediately; an in-flight
// task is asked to stop within the worker's grace period, after which
// its failure report resolves it to Dead without spending retries.
func (c *Coordinator) Cancel(ctx context.Context, taskID id.TaskID) error {
	var cancelErr error
	err := c.do(ctx, func(ctx context.Context) {
		t, getErr := c.stores.Tasks.GetTask(ctx, taskID)
		if getErr != nil {
			cancelErr = getErr
			return
		}
		switch {
		case t.State.Terminal():
			// Nothing to abort.
		case t.State.InFlight():
			c.cancelRequested[t.ID.String()] = true
			c.sendCancel(t)
		default:
			t.RecordFailure("cancelled", time.Now().UTC())
			c.resolveDead(ctx, t)
		}
	})
	if err != nil {
		return err
	}
	return cancelErr
}

// Restore returns an archived task to the scheduling pool under its
// original identifier, with the retry counter reset and worker
// ownership cleared. It implements archive.Restorer, so replays mutate
// the task registry on the actor loop like every other write.
func (c *Coordinator) Restore(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var (
		t       *task.Task
		restErr error
	)
	err := c.do(ctx, func(ctx context.Context) {
		t, restErr = c.stores.Tasks.GetTask(ctx, taskID)
		if restErr != nil {
			return
		}
		t.State = task.StatePending
		t.RetryCount = 0
		t.AssignedNode = id.Nil
		t.Token = 0
		t.StartedAt = nil
		t.CompletedAt = nil
		t.UpdatedAt = time.Now().UTC()
		if restErr = c.stores.Tasks.UpdateTask(ctx, t); restErr != nil {
			return
		}
		c.proposeTask(ctx, t, t.Token)
		c.logger.Info("task restored",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
		)
		c.schedulePass(ctx)
	})
	if err != nil {
		return nil, err
	}
	if restErr != nil {
		return nil, restErr
	}
	return t, nil
}

// sendCancel delivers a task.cancel request to the assigned worker off
// the actor loop.
func (c *Coordinator) sendCancel(t *task.Task) {
	if c.bus == nil {
		return
	}
	nodeAddr := t.AssignedNode.String()
	taskID := t.ID.String()
	go func() {
		req, err := envelope.NewRequest(c.addr, envelope.MethodTaskCancel, envelope.TaskCancel{TaskID: taskID})
		if err != nil {
			c.logger.Error("building cancel request", slog.String("error", err.Error()))
			return
		}
		if _, err := c.bus.Request(context.Background(), nodeAddr, req); err != nil {
			c.logger.Warn("cancel undelivered",
				slog.String("task_id", taskID),
				slog.String("node", nodeAddr),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// RegisterWorker admits a worker node into the registry. Registering
// over a lost record is a rejoin: the stale record is replaced. Only a
// record still marked active rejects the duplicate.
func (c *Coordinator) RegisterWorker(ctx context.Context, w *node.WorkerNode) error {
	var regErr error
	err := c.do(ctx, func(ctx context.Context) {
		now := time.Now().UTC()
		w.State = node.NodeActive
		w.LastHeartbeat = now
		w.CreatedAt = now
		w.UpdatedAt = now
		regErr = c.stores.Nodes.RegisterNode(ctx, w)
		if errors.Is(regErr, swarm.ErrDuplicateNode) {
			existing, getErr := c.stores.Nodes.GetNode(ctx, w.ID)
			if getErr == nil && existing.State == node.NodeLost {
				w.CreatedAt = existing.CreatedAt
				regErr = c.stores.Nodes.UpdateNode(ctx, w)
			}
		}
		if regErr != nil {
			return
		}
		if c.hooks != nil {
			c.hooks.EmitWorkerJoined(ctx, w)
		}
		c.propose(ctx, consensus.NewTransition(c.addr).SetWorker(w.ID, consensus.WorkerSnapshot{
			Load:          w.Load,
			Capacity:      w.Capacity,
			LastHeartbeat: w.LastHeartbeat,
		}))
		c.logger.Info("worker joined",
			slog.String("node", w.ID.String()),
			slog.Int("capacity", w.Capacity),
		)
		c.schedulePass(ctx)
	})
	if err != nil {
		return err
	}
	return regErr
}

// DeregisterWorker removes a worker. Its in-flight tasks re-enter
// scheduling; its locks are left to lease expiry.
func (c *Coordinator) DeregisterWorker(ctx context.Context, nodeID id.NodeID) error {
	var deregErr error
	err := c.do(ctx, func(ctx context.Context) {
		w, getErr := c.stores.Nodes.GetNode(ctx, nodeID)
		if getErr != nil {
			deregErr = getErr
			return
		}
		c.reclaimTasks(ctx, w)
		if deregErr = c.stores.Nodes.DeregisterNode(ctx, nodeID); deregErr != nil {
			return
		}
		tr := consensus.NewTransition(c.addr)
		tr.RemoveWorkers = append(tr.RemoveWorkers, nodeID.String())
		c.propose(ctx, tr)
		c.logger.Info("worker deregistered", slog.String("node", nodeID.String()))
	})
	if err != nil {
		return err
	}
	return deregErr
}

// Heartbeat records a worker's liveness and advertised load. A
// heartbeat from a worker previously declared lost reactivates it: the
// silence was a partition, not a crash, and the worker is whole again.
func (c *Coordinator) Heartbeat(ctx context.Context, nodeID id.NodeID, load int, at time.Time) error {
	var hbErr error
	err := c.do(ctx, func(ctx context.Context) {
		w, getErr := c.stores.Nodes.GetNode(ctx, nodeID)
		if getErr != nil {
			hbErr = getErr
			return
		}
		if w.State != node.NodeLost {
			hbErr = c.stores.Nodes.HeartbeatNode(ctx, nodeID, load, at)
			return
		}

		w.State = node.NodeActive
		w.Load = load
		w.LastHeartbeat = at
		w.UpdatedAt = at
		if hbErr = c.stores.Nodes.UpdateNode(ctx, w); hbErr != nil {
			return
		}
		if c.hooks != nil {
			c.hooks.EmitWorkerJoined(ctx, w)
		}
		c.propose(ctx, consensus.NewTransition(c.addr).SetWorker(w.ID, consensus.WorkerSnapshot{
			Load:          w.Load,
			Capacity:      w.Capacity,
			LastHeartbeat: w.LastHeartbeat,
		}))
		c.logger.Info("worker rejoined", slog.String("node", w.ID.String()))
		c.schedulePass(ctx)
	})
	if err != nil {
		return err
	}
	return hbErr
}

// Progress folds a worker's phase event into the task record: the
// lock grant moves the task to Locked and stamps the fencing token,
// the handler start moves it to Executing. Events that do not match
// the task's current owner or phase are dropped.
func (c *Coordinator) Progress(ctx context.Context, prog envelope.TaskProgress) error {
	return c.do(ctx, func(ctx context.Context) { c.applyProgress(ctx, prog) })
}

// applyProgress runs on the actor loop.
func (c *Coordinator) applyProgress(ctx context.Context, prog envelope.TaskProgress) {
	taskID, err := id.ParseTaskID(prog.TaskID)
	if err != nil {
		return
	}
	nodeID, err := id.ParseNodeID(prog.NodeID)
	if err != nil {
		return
	}
	t, err := c.stores.Tasks.GetTask(ctx, taskID)
	if err != nil || t.AssignedNode != nodeID {
		return
	}

	switch prog.Phase {
	case envelope.PhaseLocked:
		if t.State != task.StateAssigned {
			return
		}
		t.State = task.StateLocked
		t.Token = prog.Token
	case envelope.PhaseExecuting:
		if t.State != task.StateAssigned && t.State != task.StateLocked {
			return
		}
		t.State = task.StateExecuting
		if prog.Token != 0 {
			t.Token = prog.Token
		}
	default:
		return
	}

	t.UpdatedAt = time.Now().UTC()
	if err := c.stores.Tasks.UpdateTask(ctx, t); err != nil {
		c.logger.Error("persisting task phase", slog.String("error", err.Error()))
		return
	}
	c.proposeTask(ctx, t, t.Token)
	c.logger.Debug("task phase advanced",
		slog.String("task_id", t.ID.String()),
		slog.String("phase", prog.Phase),
		slog.Uint64("token", prog.Token),
	)
}

// Report applies a worker's execution outcome. Reports tagged with a
// stale fencing token are rejected without touching state; the reason
// comes back in the result.
func (c *Coordinator) Report(ctx context.Context, rep envelope.TaskReport) (envelope.TaskReportResult, error) {
	var result envelope.TaskReportResult
	err := c.do(ctx, func(ctx context.Context) {
		result = c.applyReport(ctx, rep)
	})
	return result, err
}

// applyReport resolves one outcome report on the actor loop.
func (c *Coordinator) applyReport(ctx context.Context, rep envelope.TaskReport) envelope.TaskReportResult {
	taskID, err := id.ParseTaskID(rep.TaskID)
	if err != nil {
		return envelope.TaskReportResult{Reason: err.Error()}
	}
	nodeID, err := id.ParseNodeID(rep.NodeID)
	if err != nil {
		return envelope.TaskReportResult{Reason: err.Error()}
	}
	t, err := c.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return envelope.TaskReportResult{Reason: err.Error()}
	}

	// A re-sent report that was already applied is acknowledged again,
	// not re-applied.
	if t.State.Terminal() {
		if rep.Token != 0 && rep.Token == t.Token {
			return envelope.TaskReportResult{Applied: true}
		}
		return envelope.TaskReportResult{Reason: "task already resolved"}
	}

	if reason := c.staleReason(ctx, t, nodeID, rep.Token); reason != "" {
		c.logger.Warn("rejecting stale report",
			slog.String("task_id", t.ID.String()),
			slog.String("node", rep.NodeID),
			slog.Uint64("token", rep.Token),
			slog.String("reason", reason),
		)
		return envelope.TaskReportResult{Reason: reason}
	}

	c.releasePlacement(ctx, t)

	switch rep.Outcome {
	case envelope.OutcomeCompleted:
		c.resolveCompleted(ctx, t, rep.Token)
	case envelope.OutcomeFailed:
		t.RecordFailure(rep.Error, time.Now().UTC())
		t.Token = rep.Token
		if c.hooks != nil {
			c.hooks.EmitTaskFailed(ctx, t, errors.New(rep.Error))
		}
		if c.cancelRequested[t.ID.String()] {
			c.resolveDead(ctx, t)
			break
		}
		t.RetryCount++
		if t.RetryCount > t.RetryBudget {
			c.resolveDead(ctx, t)
		} else {
			c.resolveRequeued(ctx, t)
		}
	case envelope.OutcomeRefused:
		// The worker never executed: no retry spent, no failure added.
		c.resolveRequeued(ctx, t)
	default:
		return envelope.TaskReportResult{Reason: fmt.Sprintf("unknown outcome %q", rep.Outcome)}
	}

	c.schedulePass(ctx)
	return envelope.TaskReportResult{Applied: true}
}

// staleReason checks a report's fencing token against the task record
// and the lock table. A non-empty return rejects the report.
func (c *Coordinator) staleReason(ctx context.Context, t *task.Task, nodeID id.NodeID, token uint64) string {
	if t.State.InFlight() && t.AssignedNode != nodeID {
		return "report from a superseded worker"
	}
	if token == 0 {
		// Refusals carry no token; nothing to fence.
		return ""
	}
	if t.Token != 0 && token < t.Token {
		return swarm.ErrStaleToken.Error()
	}
	if cur, err := c.locks.Current(ctx, nodeID, t.Resource.Key); err == nil && cur.Token > token {
		return swarm.ErrStaleToken.Error()
	}
	if !t.State.InFlight() {
		// The task was already reclaimed. Only a holder whose lease is
		// still live may resolve it; a lapsed lease is stale even
		// before a successor claims the key.
		if err := c.locks.Validate(ctx, nodeID, t.Resource.Key, token); err != nil {
			return swarm.ErrStaleToken.Error()
		}
	}
	return ""
}

// releasePlacement returns the task's scheduling capacity: the worker's
// load units and the resource-class admission units.
func (c *Coordinator) releasePlacement(ctx context.Context, t *task.Task) {
	if t.AssignedNode.IsNil() {
		return
	}
	if w, err := c.stores.Nodes.GetNode(ctx, t.AssignedNode); err == nil {
		w.Load -= t.Resource.Units
		if w.Load < 0 {
			w.Load = 0
		}
		if err := c.stores.Nodes.UpdateNode(ctx, w); err != nil {
			c.logger.Error("releasing worker load", slog.String("error", err.Error()))
		}
	}
	c.limiter.Release(t.Resource.Class, t.Resource.Units)
}

func (c *Coordinator) resolveCompleted(ctx context.Context, t *task.Task, token uint64) {
	now := time.Now().UTC()
	t.State = task.StateCompleted
	t.Token = token
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := c.stores.Tasks.UpdateTask(ctx, t); err != nil {
		c.logger.Error("persisting completion", slog.String("error", err.Error()))
		return
	}
	delete(c.cancelRequested, t.ID.String())

	elapsed := time.Duration(0)
	if t.StartedAt != nil {
		elapsed = now.Sub(*t.StartedAt)
	}
	if c.hooks != nil {
		c.hooks.EmitTaskCompleted(ctx, t, elapsed)
	}
	c.proposeTask(ctx, t, token)
	c.pushArchive(ctx, t)
	c.logger.Info("task completed",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
	)
}

func (c *Coordinator) resolveRequeued(ctx context.Context, t *task.Task) {
	t.State = task.StateRequeued
	t.AssignedNode = id.Nil
	t.UpdatedAt = time.Now().UTC()
	if err := c.stores.Tasks.UpdateTask(ctx, t); err != nil {
		c.logger.Error("persisting requeue", slog.String("error", err.Error()))
		return
	}
	if c.hooks != nil {
		c.hooks.EmitTaskRequeued(ctx, t)
	}
	c.proposeTask(ctx, t, t.Token)
	c.logger.Info("task requeued",
		slog.String("task_id", t.ID.String()),
		slog.Int("retry_count", t.RetryCount),
		slog.Int("retry_budget", t.RetryBudget),
	)
}

func (c *Coordinator) resolveDead(ctx context.Context, t *task.Task) {
	t.State = task.StateDead
	t.UpdatedAt = time.Now().UTC()
	if err := c.stores.Tasks.UpdateTask(ctx, t); err != nil {
		c.logger.Error("persisting dead task", slog.String("error", err.Error()))
		return
	}
	delete(c.cancelRequested, t.ID.String())

	if c.hooks != nil {
		c.hooks.EmitTaskDead(ctx, t, errors.New(t.LastError()))
	}
	c.proposeTask(ctx, t, t.Token)
	c.pushArchive(ctx, t)
	c.logger.Warn("task dead",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("retry_count", t.RetryCount),
		slog.String("last_error", t.LastError()),
	)
}

// pushArchive records a terminal task in the archive.
func (c *Coordinator) pushArchive(ctx context.Context, t *task.Task) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.Push(ctx, t); err != nil {
		c.logger.Error("archiving task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// proposeTask proposes the task's new agreed snapshot.
func (c *Coordinator) proposeTask(ctx context.Context, t *task.Task, token uint64) {
	tr := consensus.NewTransition(c.addr).SetTask(t.ID, consensus.TaskSnapshot{
		State:      t.State,
		Node:       t.AssignedNode.String(),
		RetryCount: t.RetryCount,
	})
	tr.Token = token
	c.propose(ctx, tr)
}

// propose runs a consensus round and broadcasts the commit. Quorum
// misses commit coordinator-authoritatively and are flagged, never
// dropped.
func (c *Coordinator) propose(ctx context.Context, tr *consensus.Transition) {
	if c.quorum == nil {
		return
	}
	if err := c.quorum.Propose(ctx, tr); err != nil {
		c.logger.Error("state proposal failed",
			slog.Uint64("version", tr.Version),
			slog.String("error", err.Error()),
		)
		return
	}
	c.broadcastCommit(tr.Version, tr.Unconfirmed)
}

// broadcastCommit announces a committed version to all voters,
// fire-and-forget.
func (c *Coordinator) broadcastCommit(version uint64, unconfirmed bool) {
	if c.bus == nil {
		return
	}
	voters := c.quorum.VoterIDs()
	go func() {
		ev, err := envelope.NewEvent(c.addr, envelope.MethodStateCommit, envelope.StateCommit{
			Version:     version,
			Unconfirmed: unconfirmed,
		})
		if err != nil {
			return
		}
		for _, addr := range voters {
			if addr == c.addr {
				continue
			}
			if sendErr := c.bus.Send(context.Background(), addr, ev); sendErr != nil {
				c.logger.Debug("commit broadcast undelivered",
					slog.String("voter", addr),
					slog.String("error", sendErr.Error()),
				)
			}
		}
	}()
}
