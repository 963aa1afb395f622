/*
Package pipeline provides an ordered queue of setup stages that run one at
a time, strictly in push order, whether they are synchronous or signal
completion later.

# Stages

A stage is built with one of three constructors:

	pipeline.Sync[*App]("set port", func() error { ... })              // done when it returns
	pipeline.Async[*App]("scan", func(done pipeline.Done) { ... })      // done when done is called
	pipeline.WithOwner[*App]("mount", func(a *App, done pipeline.Done) { ... })

# Ordering

For any stages A pushed before B, A completes before B starts. Stages
pushed from inside a running stage are queued behind everything already
pending. When a stage completes the pipeline does not start the next one
inside the completion call; it posts the continuation to its Scheduler so
long chains never grow the stack:

	l := loop.New()
	p := pipeline.New[*App](app, l)

	p.Push(pipeline.Sync[*App]("one", func() error { return nil })) // runs now
	p.Push(pipeline.Sync[*App]("two", func() error { return nil })) // runs on the loop

	_ = p.Wait(ctx)

# Failure

A Sync stage returning an error, or an async stage completing with one,
halts the pipeline. OnError is called, Err reports the failure, and the
queued stages wait for the next Push or Resume. A Sync stage that runs
inside Push returns its error from Push. A panicking stage halts the
pipeline and the panic propagates.

A stage that never calls done stalls the pipeline. No timeout is imposed.

# Statistics

Stats reports totals plus per-stage-name counts and durations, and the
OnStagePush, OnStageStart and OnStageComplete hooks in Config expose the
same events for metrics.
*/
package pipeline
