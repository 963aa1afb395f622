package cluster

import "sync"

// Lifecycle tracks one worker's state and fans transitions out to
// subscribers. Each transition fires at most once. Implementations of
// Worker embed it.
type Lifecycle struct {
	mu    sync.Mutex
	state State

	onlineFired     bool
	disconnectFired bool
	exitFired       bool
	exitErr         error

	online     []func()
	disconnect []func()
	exit       []func(error)
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnOnline registers fn for the online transition.
func (l *Lifecycle) OnOnline(fn func()) {
	l.mu.Lock()
	if l.onlineFired {
		l.mu.Unlock()
		fn()
		return
	}
	if l.exitFired {
		// exited without ever coming online
		l.mu.Unlock()
		return
	}
	l.online = append(l.online, fn)
	l.mu.Unlock()
}

// OnDisconnect registers fn for the disconnect transition.
func (l *Lifecycle) OnDisconnect(fn func()) {
	l.mu.Lock()
	if l.disconnectFired {
		l.mu.Unlock()
		fn()
		return
	}
	l.disconnect = append(l.disconnect, fn)
	l.mu.Unlock()
}

// OnExit registers fn for the exit transition.
func (l *Lifecycle) OnExit(fn func(err error)) {
	l.mu.Lock()
	if l.exitFired {
		err := l.exitErr
		l.mu.Unlock()
		fn(err)
		return
	}
	l.exit = append(l.exit, fn)
	l.mu.Unlock()
}

// MarkOnline moves a starting worker online and notifies subscribers.
func (l *Lifecycle) MarkOnline() {
	l.mu.Lock()
	if l.onlineFired || l.exitFired {
		l.mu.Unlock()
		return
	}
	l.onlineFired = true
	if l.state == StateStarting {
		l.state = StateOnline
	}
	handlers := l.online
	l.online = nil
	l.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// MarkRunning records that an online worker reported it is serving.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateOnline {
		l.state = StateRunning
	}
}

// MarkDisconnecting records a termination request. No event fires until the
// worker actually disconnects.
func (l *Lifecycle) MarkDisconnecting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateExited {
		l.state = StateDisconnecting
	}
}

// MarkDisconnected notifies disconnect subscribers.
func (l *Lifecycle) MarkDisconnected() {
	l.mu.Lock()
	if l.disconnectFired {
		l.mu.Unlock()
		return
	}
	l.disconnectFired = true
	if l.state != StateExited {
		l.state = StateDisconnecting
	}
	handlers := l.disconnect
	l.disconnect = nil
	l.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// MarkExited records process exit, firing disconnect first if it has not
// fired yet.
func (l *Lifecycle) MarkExited(err error) {
	l.MarkDisconnected()

	l.mu.Lock()
	if l.exitFired {
		l.mu.Unlock()
		return
	}
	l.exitFired = true
	l.exitErr = err
	l.state = StateExited
	handlers := l.exit
	l.exit = nil
	l.online = nil
	l.mu.Unlock()

	for _, fn := range handlers {
		fn(err)
	}
}
