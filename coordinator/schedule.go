package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/envelope"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// schedulePass places every schedulable task it can. Runs on the actor
// loop only.
//
// Placement policy: a task is schedulable when every dependency has
// completed; the chosen worker is the active node with spare capacity
// and the lowest load/capacity ratio, ties broken by lowest node
// identifier. Resource-class admission limits gate the move to
// Assigned.
func (c *Coordinator) schedulePass(ctx context.Context) {
	workers, err := c.stores.Nodes.ListNodes(ctx)
	if err != nil {
		c.logger.Error("listing workers", slog.String("error", err.Error()))
		return
	}

	for _, state := range []task.State{task.StateRequeued, task.StatePending} {
		tasks, listErr := c.stores.Tasks.ListTasksByState(ctx, state, task.ListOpts{})
		if listErr != nil {
			c.logger.Error("listing schedulable tasks", slog.String("error", listErr.Error()))
			return
		}
		for _, t := range tasks {
			c.tryPlace(ctx, t, workers)
		}
	}
}

// tryPlace attempts to place one task. Dependency holds and admission
// limits leave the task where it is; a dead dependency kills it.
func (c *Coordinator) tryPlace(ctx context.Context, t *task.Task, workers []*node.WorkerNode) {
	ready, depErr := c.dependenciesReady(ctx, t)
	if depErr != nil {
		t.RecordFailure(depErr.Error(), time.Now().UTC())
		c.resolveDead(ctx, t)
		return
	}
	if !ready {
		return
	}

	w := pickWorker(workers, t.Resource.Units)
	if w == nil {
		return
	}
	if !c.limiter.Acquire(t.Resource.Class, t.Resource.Units) {
		return
	}

	now := time.Now().UTC()
	t.State = task.StateAssigned
	t.AssignedNode = w.ID
	t.StartedAt = &now
	t.UpdatedAt = now
	if err := c.stores.Tasks.UpdateTask(ctx, t); err != nil {
		c.limiter.Release(t.Resource.Class, t.Resource.Units)
		c.logger.Error("persisting assignment", slog.String("error", err.Error()))
		return
	}

	w.Load += t.Resource.Units
	if err := c.stores.Nodes.UpdateNode(ctx, w); err != nil {
		c.logger.Error("persisting worker load", slog.String("error", err.Error()))
	}

	if c.hooks != nil {
		c.hooks.EmitTaskScheduled(ctx, t)
	}
	c.proposeTask(ctx, t, t.Token)
	c.logger.Info("task assigned",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.String("node", w.ID.String()),
	)

	c.deliverAssignment(t)
}

// dependenciesReady reports whether every dependency completed. A dead
// or missing dependency is unrecoverable and returns an error.
func (c *Coordinator) dependenciesReady(ctx context.Context, t *task.Task) (bool, error) {
	for _, depID := range t.DependsOn {
		dep, err := c.stores.Tasks.GetTask(ctx, depID)
		if err != nil {
			if errors.Is(err, swarm.ErrTaskNotFound) {
				return false, errors.New("dependency " + depID.String() + " not found")
			}
			return false, nil //nolint:nilerr // transient store error: hold, retry next pass
		}
		switch dep.State {
		case task.StateCompleted:
		case task.StateDead:
			return false, errors.New("dependency " + depID.String() + " is dead")
		default:
			return false, nil
		}
	}
	return true, nil
}

// pickWorker selects the active worker with spare capacity and the
// lowest load ratio, ties by lowest node identifier.
func pickWorker(workers []*node.WorkerNode, units int) *node.WorkerNode {
	eligible := make([]*node.WorkerNode, 0, len(workers))
	for _, w := range workers {
		if w.State == node.NodeActive && w.Fits(units) {
			eligible = append(eligible, w)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i].Ratio(), eligible[j].Ratio()
		if ri != rj {
			return ri < rj
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	return eligible[0]
}

// deliverAssignment sends the task.assign request off the actor loop.
// A refusal or delivery failure requeues the task.
func (c *Coordinator) deliverAssignment(t *task.Task) {
	if c.bus == nil {
		return
	}
	assign := envelope.TaskAssign{
		TaskID:      t.ID.String(),
		Name:        t.Name,
		Payload:     t.Payload,
		ResourceKey: t.Resource.Key,
		Timeout:     t.Timeout,
	}
	nodeAddr := t.AssignedNode.String()
	taskID := t.ID

	go func() {
		req, err := envelope.NewRequest(c.addr, envelope.MethodTaskAssign, assign)
		if err != nil {
			c.logger.Error("building assignment", slog.String("error", err.Error()))
			c.requeueUndelivered(taskID, err.Error())
			return
		}
		resp, err := c.bus.Request(context.Background(), nodeAddr, req)
		if err != nil {
			c.requeueUndelivered(taskID, err.Error())
			return
		}
		if resp.IsError() {
			c.requeueUndelivered(taskID, resp.Error.Message)
			return
		}
		var result envelope.TaskAssignResult
		if err := resp.DecodeBody(&result); err != nil {
			c.requeueUndelivered(taskID, err.Error())
			return
		}
		if !result.Accepted {
			c.requeueUndelivered(taskID, result.Reason)
		}
	}()
}

// requeueUndelivered returns an undeliverable or refused assignment to
// the scheduling pool without spending a retry.
func (c *Coordinator) requeueUndelivered(taskID id.TaskID, reason string) {
	c.enqueue(func(ctx context.Context) {
		t, err := c.stores.Tasks.GetTask(ctx, taskID)
		if err != nil || t.State != task.StateAssigned {
			return
		}
		c.logger.Info("assignment bounced",
			slog.String("task_id", taskID.String()),
			slog.String("reason", reason),
		)
		c.releasePlacement(ctx, t)
		t.StartedAt = nil
		c.resolveRequeued(ctx, t)
	})
}

// reapPass declares silent workers lost and reclaims their in-flight
// tasks. Their locks are not touched: lease expiry is the only reclaim
// path for locks.
func (c *Coordinator) reapPass(ctx context.Context) {
	silent, err := c.stores.Nodes.ReapSilentNodes(ctx, c.heartbeatTimeout)
	if err != nil {
		c.logger.Error("reaping silent workers", slog.String("error", err.Error()))
		return
	}
	for _, w := range silent {
		w.State = node.NodeLost
		if err := c.stores.Nodes.UpdateNode(ctx, w); err != nil {
			c.logger.Error("marking worker lost", slog.String("error", err.Error()))
			continue
		}
		if c.hooks != nil {
			c.hooks.EmitWorkerLost(ctx, w)
		}
		c.logger.Warn("worker lost",
			slog.String("node", w.ID.String()),
			slog.Time("last_heartbeat", w.LastHeartbeat),
		)
		c.reclaimTasks(ctx, w)

		tr := consensus.NewTransition(c.addr)
		tr.RemoveWorkers = append(tr.RemoveWorkers, w.ID.String())
		c.propose(ctx, tr)
	}
	if len(silent) > 0 {
		c.schedulePass(ctx)
	}
}

// reclaimTasks requeues every in-flight task owned by the worker.
func (c *Coordinator) reclaimTasks(ctx context.Context, w *node.WorkerNode) {
	tasks, err := c.stores.Tasks.ListTasksByNode(ctx, w.ID)
	if err != nil {
		c.logger.Error("listing reclaimable tasks", slog.String("error", err.Error()))
		return
	}
	for _, t := range tasks {
		c.limiter.Release(t.Resource.Class, t.Resource.Units)
		t.StartedAt = nil
		c.resolveRequeued(ctx, t)
	}
}
