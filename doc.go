// Package antares is the server core of a distributed job-scheduling
// platform. A scheduled trigger fires for a named job, the execution
// coordinator decides whether a new distributed run (a job instance) may
// start, creates the instance and its work shards, notifies the worker
// cluster that shards are pullable, blocks until every shard reports a
// terminal status, and restores the job to a schedulable state, with at
// most one in-flight instance per job and clean recovery from partial
// failures at any step.
//
// Antares is designed as a library, not a service. Import it, configure a
// store, register trigger entries and shard handlers, and start the engine.
//
// # Quick Start
//
//	srv, err := antares.New(
//	    antares.WithStore(pgStore),
//	    antares.WithConfig(antares.DefaultConfig()),
//	)
//
// # Architecture
//
// Antares follows a composable store pattern where each subsystem (job,
// instance, cluster, event, trigger) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package antares
