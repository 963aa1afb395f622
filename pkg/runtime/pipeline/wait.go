package pipeline

import "context"

// Wait pushes a barrier stage and blocks until every stage pushed before it
// has completed. It returns the failure if the pipeline halts first, or
// ctx.Err() if ctx ends first.
func (p *Pipeline[T]) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.haltCh == nil {
		p.haltCh = make(chan struct{})
	}
	halted := p.haltCh
	p.mu.Unlock()

	reached := make(chan struct{})
	barrier := Async[T]("wait", func(done Done) {
		close(reached)
		done(nil)
	})
	if err := p.Push(barrier); err != nil {
		return err
	}

	select {
	case <-reached:
		return nil
	case <-halted:
		// the barrier may have run before a later stage failed
		select {
		case <-reached:
			return nil
		default:
		}
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
