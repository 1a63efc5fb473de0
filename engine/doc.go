// Package engine wires all Antares subsystems together and provides
// the primary application-level API for defining jobs, triggers, and
// shard handlers.
//
// The engine package exists to break a fundamental import cycle: the
// root antares package defines Entity and Config (imported by job,
// instance, trigger, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	srv, err := antares.New(
//	    antares.WithStore(pgStore),
//	    antares.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(srv,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	    engine.WithWorkerApp("billing", worker.WithConcurrency(8)),
//	)
//
// # Defining Work
//
//	j, _ := eng.RegisterJob(ctx, "billing", "invoice-rollup", job.Config{
//	    ShardCount: 4,
//	})
//	eng.RegisterHandler("invoice-rollup", rollupInvoices)
//	eng.RegisterTrigger(ctx, j.ID, "0 2 * * *")
//
// # Running
//
//	srv.Start(ctx)  // starts recorder, scheduler, and worker pools
//	defer srv.Stop(ctx)
//
//	// or fire a job immediately, bypassing its triggers:
//	eng.FireNow(ctx, "billing", "invoice-rollup")
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the fire chain
//   - [WithBackoff] — set the shard retry backoff strategy
//   - [WithWorkerApp] — run an in-process worker pool for an application
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
