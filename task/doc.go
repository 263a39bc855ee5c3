// Package task defines the task entity, its state machine, typed
// handler definitions, and the task store interface.
//
// # Task Entity
//
// A [Task] is the unit of work coordinated by the swarm. It embeds
// [swarm.Entity] for timestamps, carries an opaque payload (JSON),
// an ordered dependency set, and a [Resource] descriptor naming the
// exclusion key it must lock while executing:
//
//	pending → assigned → locked → executing → completed
//	pending → assigned → locked → executing → failed → requeued → assigned → ...
//	pending → ... → failed → dead
//
// A task is Executing only while it holds a non-expired lock carrying
// the highest fencing token for its resource key. Pending and Dead are
// the only non-transient rest states besides Completed.
//
// # Defining a Handler
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at submission time and deserialized before the handler runs:
//
//	var Resize = task.NewDefinition("resize",
//	    func(ctx context.Context, input ResizeInput) error {
//	        return resize(ctx, input.Path, input.Width)
//	    },
//	)
//
// Register definitions at startup via [RegisterDefinition]; the engine
// package provides higher-level wrappers.
package task
