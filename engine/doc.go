// Package engine wires all swarm subsystems together and provides the
// primary application-level API for registering handlers and submitting
// tasks.
//
// The engine package exists to break a fundamental import cycle: the
// root swarm package defines Entity (imported by task, node, lock,
// etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	st := memory.New()
//	bus := transport.NewInproc(transport.DefaultOptions(), logger)
//
//	eng, err := engine.Build(st, bus,
//	    engine.WithWorkers(4),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithLimits(sched.Config{Class: "gpu", MaxUnits: 2}),
//	)
//
// # Registering Work
//
//	// Task handlers
//	engine.RegisterTask(eng, task.NewDefinition("resize", handleResize))
//
//	// Recurring submissions
//	engine.RegisterRecurring(ctx, eng, "nightly-report", "0 3 * * *", "report", ReportInput{})
//
// # Submitting Tasks
//
//	engine.Submit(ctx, eng, "resize", ResizeInput{Path: "a.png"})
//
//	// With options
//	engine.Submit(ctx, eng, "resize", input,
//	    task.WithPriority(10),
//	    task.WithResource(task.Resource{Key: "gpu-0", Class: "gpu"}),
//	)
//
// # Options
//
//   - [WithConfig] — set the shared tunables (leases, retries, timeouts)
//   - [WithWorkers] — number of in-process worker agents to run
//   - [WithWorkerCapacity] — capacity units each in-process agent advertises
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithLimits] — configure per-resource-class admission limits
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
