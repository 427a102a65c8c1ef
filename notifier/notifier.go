// Package notifier implements an in-process publish/subscribe bus used by
// irmd and the ipcp runtimes to fan out lifecycle events (flow allocated,
// flow deallocated, ipcp died) to whichever subsystems registered interest,
// without those subsystems knowing about each other.
package notifier

import (
	"sync"

	ferrors "irmd-go/errors"
)

// Event identifies the kind of notification being published.
type Event int

const (
	// EventFlowAlloc fires when a flow transitions to allocated.
	EventFlowAlloc Event = iota
	// EventFlowDealloc fires when a flow transitions to null.
	EventFlowDealloc
	// EventIPCPDied fires when the sanitiser reaps a dead IPCP pid (obj is
	// the pid); irmd's Daemon.Shutdown also publishes it once with a nil
	// obj.
	EventIPCPDied
	// EventProcessDied fires when the sanitiser reaps a dead process pid.
	EventProcessDied
)

// Token identifies a registration for idempotent Register/Unregister calls.
//
// The C original keys registrations off function-pointer identity, which
// Go closures don't support equivalently (two closures over different
// state can't be compared). Callers instead pass a Token they control —
// typically a package-level string constant naming the subsystem.
type Token string

// Callback receives a published event and its associated object.
type Callback func(event Event, obj any)

type listener struct {
	token    Token
	callback Callback
}

// Bus is a mutex-guarded list of listeners, matching the single global
// listener list the C original maintains, but instantiable so tests don't
// share state across packages.
type Bus struct {
	mu        sync.Mutex
	listeners []listener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Register adds callback under token. Registering the same token twice
// fails with EPERM, matching notifier_reg's duplicate-callback rejection.
func (b *Bus) Register(token Token, callback Callback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		if l.token == token {
			return ferrors.New(ferrors.EPERM, "notifier.Register", "token already registered")
		}
	}

	b.listeners = append(b.listeners, listener{token: token, callback: callback})
	return nil
}

// Unregister removes the listener registered under token, if any.
func (b *Bus) Unregister(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.token == token {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish calls every registered callback with event and obj, in
// registration order, holding the bus lock for the duration — callbacks
// must not call back into Register/Unregister/Publish on the same bus.
func (b *Bus) Publish(event Event, obj any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		l.callback(event, obj)
	}
}

// Len reports the number of registered listeners, used by tests.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
