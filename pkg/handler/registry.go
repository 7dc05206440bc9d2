package handler

import (
	"sync"
	"sync/atomic"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// Registry maps message types to handlers under a copy-on-write map, so
// Lookup (on the hot dispatch path) never takes a lock, mirroring the
// config package's atomic-snapshot pattern applied to handler
// registration instead of config (spec.md §4.6 "handler lookup must not
// block dispatch").
type Registry struct {
	mu    sync.Mutex // serializes writers only
	table atomic.Pointer[map[string]Entry]
}

// Entry is a registered handler plus the middleware chain it runs
// through, pre-composed at registration time.
type Entry struct {
	MessageType string
	Raw         Handler
	Chained     Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Entry{}
	r.table.Store(&empty)
	return r
}

// Register adds or replaces the handler for messageType, composing it
// with mws. Returns an error if messageType fails the identifier grammar
// (spec.md §3.1) or h is nil.
func (r *Registry) Register(messageType string, h Handler, mws ...Middleware) error {
	if h == nil {
		return merrors.Validation("handler for %q must not be nil", messageType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.table.Load()
	next := make(map[string]Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[messageType] = Entry{MessageType: messageType, Raw: h, Chained: Chain(h, mws...)}
	r.table.Store(&next)
	return nil
}

// Unregister removes messageType's handler, if any.
func (r *Registry) Unregister(messageType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.table.Load()
	if _, ok := current[messageType]; !ok {
		return
	}
	next := make(map[string]Entry, len(current)-1)
	for k, v := range current {
		if k == messageType {
			continue
		}
		next[k] = v
	}
	r.table.Store(&next)
}

// Lookup returns the composed handler for messageType, lock-free.
func (r *Registry) Lookup(messageType string) (Handler, bool) {
	current := *r.table.Load()
	e, ok := current[messageType]
	if !ok {
		return nil, false
	}
	return e.Chained, true
}

// Types returns the currently registered message types.
func (r *Registry) Types() []string {
	current := *r.table.Load()
	out := make([]string, 0, len(current))
	for k := range current {
		out = append(out, k)
	}
	return out
}
