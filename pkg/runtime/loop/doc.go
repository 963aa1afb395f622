/*
Package loop provides the single-goroutine event loop that gives the rest
of goboot its "next turn" semantics.

Functions posted to a Loop run one at a time and strictly in posting order.
Posting from inside a running function queues the new function behind
everything already queued, so the poster always finishes first. This is
what lets the pipeline continue draining without growing the call stack and
lets the scaler receive worker events without re-entering itself.

Basic usage:

	l := loop.New()
	defer func() { <-l.Shutdown() }()

	_ = l.Post(func() { fmt.Println("first") })
	_ = l.Post(func() { fmt.Println("second") })

	// Block until a function has run on the loop.
	_ = l.Do(ctx, func() { fmt.Println("third") })

Panics in posted functions are recovered and passed to Config.PanicHandler,
or logged when no handler is set; the loop keeps running.

Shutdown stops accepting work, lets queued functions finish, and returns a
channel closed when the loop goroutine exits.
*/
package loop
