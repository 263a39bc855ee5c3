package coordinator

import (
	"context"
	"errors"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/envelope"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// handleFrame dispatches inbound frames by method. Request frames get a
// response; event frames return nil.
func (c *Coordinator) handleFrame(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	switch f.Method {
	case envelope.MethodTaskSubmit:
		return c.handleSubmit(ctx, f)
	case envelope.MethodTaskStatus:
		return c.handleStatus(ctx, f)
	case envelope.MethodTaskCancel:
		return c.handleCancelFrame(ctx, f)
	case envelope.MethodTaskProgress:
		c.handleProgress(ctx, f)
		return nil
	case envelope.MethodTaskReport:
		return c.handleReport(ctx, f)
	case envelope.MethodNodeRegister:
		return c.handleRegister(ctx, f)
	case envelope.MethodNodeDeregister:
		return c.handleDeregister(ctx, f)
	case envelope.MethodNodeHeartbeat:
		c.handleHeartbeat(ctx, f)
		return nil
	default:
		return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, "unknown method "+f.Method)
	}
}

func (c *Coordinator) handleSubmit(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var sub envelope.TaskSubmit
	if err := f.DecodeBody(&sub); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}

	t := &task.Task{
		Name:    sub.Name,
		Payload: sub.Payload,
		Resource: task.Resource{
			Key:   sub.ResourceKey,
			Class: sub.Class,
			Units: sub.Units,
		},
	}
	if sub.TaskID != "" {
		parsed, err := id.ParseTaskID(sub.TaskID)
		if err != nil {
			return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
		}
		t.ID = parsed
	}
	for _, dep := range sub.Dependencies {
		depID, err := id.ParseTaskID(dep)
		if err != nil {
			return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
		}
		t.DependsOn = append(t.DependsOn, depID)
	}

	err := c.Submit(ctx, t)
	switch {
	case errors.Is(err, swarm.ErrDuplicateTask):
		return response(f, envelope.TaskSubmitResult{Duplicate: true, Reason: err.Error()})
	case errors.Is(err, swarm.ErrInvalidTask):
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	case err != nil:
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, envelope.TaskSubmitResult{Accepted: true})
}

func (c *Coordinator) handleStatus(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var query envelope.TaskStatusQuery
	if err := f.DecodeBody(&query); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	taskID, err := id.ParseTaskID(query.TaskID)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	t, err := c.Status(ctx, taskID)
	if err != nil {
		if errors.Is(err, swarm.ErrTaskNotFound) {
			return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, err.Error())
		}
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, envelope.TaskStatusResult{
		TaskID:       t.ID.String(),
		State:        string(t.State),
		AssignedNode: t.AssignedNode.String(),
		RetryCount:   t.RetryCount,
		LastError:    t.LastError(),
	})
}

func (c *Coordinator) handleCancelFrame(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var cancelReq envelope.TaskCancel
	if err := f.DecodeBody(&cancelReq); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	taskID, err := id.ParseTaskID(cancelReq.TaskID)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	if err := c.Cancel(ctx, taskID); err != nil {
		if errors.Is(err, swarm.ErrTaskNotFound) {
			return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, err.Error())
		}
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, envelope.TaskReportResult{Applied: true})
}

// handleProgress applies a fire-and-forget phase event.
func (c *Coordinator) handleProgress(ctx context.Context, f *envelope.Frame) {
	var prog envelope.TaskProgress
	if err := f.DecodeBody(&prog); err != nil {
		return
	}
	_ = c.Progress(ctx, prog)
}

func (c *Coordinator) handleReport(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var rep envelope.TaskReport
	if err := f.DecodeBody(&rep); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	result, err := c.Report(ctx, rep)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, result)
}

func (c *Coordinator) handleRegister(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var reg envelope.NodeRegister
	if err := f.DecodeBody(&reg); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	nodeID, err := id.ParseNodeID(reg.NodeID)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	w := &node.WorkerNode{ID: nodeID, Capacity: reg.Capacity}
	if err := c.RegisterWorker(ctx, w); err != nil {
		if errors.Is(err, swarm.ErrDuplicateNode) {
			return envelope.NewErrorFrame(f, envelope.ErrCodeConflict, err.Error())
		}
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, envelope.NodeRegisterResult{Registered: true})
}

func (c *Coordinator) handleDeregister(ctx context.Context, f *envelope.Frame) *envelope.Frame {
	var dereg envelope.NodeDeregister
	if err := f.DecodeBody(&dereg); err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	nodeID, err := id.ParseNodeID(dereg.NodeID)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeBadRequest, err.Error())
	}
	if err := c.DeregisterWorker(ctx, nodeID); err != nil {
		if errors.Is(err, swarm.ErrNodeNotFound) {
			return envelope.NewErrorFrame(f, envelope.ErrCodeNotFound, err.Error())
		}
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return response(f, envelope.NodeRegisterResult{Registered: false})
}

// handleHeartbeat applies a fire-and-forget liveness event.
func (c *Coordinator) handleHeartbeat(ctx context.Context, f *envelope.Frame) {
	var hb envelope.NodeHeartbeat
	if err := f.DecodeBody(&hb); err != nil {
		return
	}
	nodeID, err := id.ParseNodeID(hb.NodeID)
	if err != nil {
		return
	}
	_ = c.Heartbeat(ctx, nodeID, hb.Load, hb.At)
}

// response wraps a body in a response frame, degrading to an error
// frame when encoding fails.
func response(f *envelope.Frame, body any) *envelope.Frame {
	resp, err := envelope.NewResponse(f, body)
	if err != nil {
		return envelope.NewErrorFrame(f, envelope.ErrCodeInternal, err.Error())
	}
	return resp
}
