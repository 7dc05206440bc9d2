package config

// Router resolves a message's target transport following spec.md §4.4's
// three-step rule: explicit option, then message-type routing table, then
// priority band, each falling back to default_transport when unset.
type Router struct {
	cfg Config
}

// NewRouter builds a Router bound to a single immutable Config snapshot.
func NewRouter(cfg Config) *Router { return &Router{cfg: cfg} }

// Resolve implements the Dispatch routing rule (spec.md §4.4):
//  1. optsTransport, if set.
//  2. routing[messageType]'s first entry, if configured.
//  3. priority-band routing, each band falling back to default_transport.
func (r *Router) Resolve(messageType string, priority int, optsTransport string) string {
	if optsTransport != "" {
		return optsTransport
	}
	if names, ok := r.cfg.Routing[messageType]; ok && len(names) > 0 {
		return names[0]
	}
	return r.resolveByPriority(priority)
}

func (r *Router) resolveByPriority(priority int) string {
	pr := r.cfg.PriorityRouting
	switch {
	case pr.HighThreshold != 0 && priority >= pr.HighThreshold:
		if pr.HighTransport != "" {
			return pr.HighTransport
		}
	case pr.LowThreshold != 0 && priority <= pr.LowThreshold:
		if pr.LowTransport != "" {
			return pr.LowTransport
		}
	default:
		if pr.NormalTransport != "" {
			return pr.NormalTransport
		}
	}
	return r.cfg.DefaultTransport
}

// DefaultQueueFor returns the queue a transport is configured with, or the
// global default_queue when the transport has none set.
func (r *Router) DefaultQueueFor(transportName string) string {
	if tc, ok := r.cfg.Transports[transportName]; ok && tc.Queue != "" {
		return tc.Queue
	}
	return r.cfg.DefaultQueue
}

// DefaultPriority returns the configured default priority, or spec.md's
// implicit neutral mid-band priority (5) when unset.
func (r *Router) DefaultPriority() int {
	if r.cfg.DefaultPriority != 0 {
		return r.cfg.DefaultPriority
	}
	return 5
}
