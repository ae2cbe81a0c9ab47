package server

import (
	"slices"
	"strings"
	"sync"
)

// Handler executes a command. It writes zero or more responses to the
// context's sink and returns an error if the command failed.
//
// Returning ErrCloseConnection closes the connection after the responses are
// written. A *ReplyError is sent to the client as is; any other error is
// answered with a generic local-error reply, unless it is connection-fatal.
type Handler interface {
	Execute(ctx *CommandContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *CommandContext) error

func (f HandlerFunc) Execute(ctx *CommandContext) error { return f(ctx) }

// Registry maps verbs to handlers. Verbs are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	interrupts map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]Handler),
		interrupts: make(map[string]bool),
	}
}

// Handle registers h for verb, replacing any previous handler.
func (r *Registry) Handle(verb string, h Handler) {
	verb = strings.ToUpper(verb)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[verb] = h
	delete(r.interrupts, verb)
}

// HandleFunc registers f for verb.
func (r *Registry) HandleFunc(verb string, f func(*CommandContext) error) {
	r.Handle(verb, HandlerFunc(f))
}

// HandleInterrupt registers h for an interrupt verb (e.g. ABOR). When the
// session reads an interrupt verb it aborts the commands in flight before
// the verb is dispatched in order.
func (r *Registry) HandleInterrupt(verb string, h Handler) {
	verb = strings.ToUpper(verb)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[verb] = h
	r.interrupts[verb] = true
}

// Lookup returns the handler for verb.
func (r *Registry) Lookup(verb string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToUpper(verb)]
	return h, ok
}

// IsInterrupt reports whether verb is registered as an interrupt.
func (r *Registry) IsInterrupt(verb string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interrupts[strings.ToUpper(verb)]
}

// Remove unregisters the given verbs.
func (r *Registry) Remove(verbs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range verbs {
		v = strings.ToUpper(v)
		delete(r.handlers, v)
		delete(r.interrupts, v)
	}
}

// Verbs returns the registered verbs in sorted order.
func (r *Registry) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verbs := make([]string, 0, len(r.handlers))
	for v := range r.handlers {
		verbs = append(verbs, v)
	}
	slices.Sort(verbs)
	return verbs
}

// RequireLogin wraps h so that it only runs for authenticated connections.
func RequireLogin(h Handler) Handler {
	return HandlerFunc(func(ctx *CommandContext) error {
		if CurrentUser(ctx.Features()) == nil {
			return ctx.Reply(530, "Not logged in.")
		}
		return h.Execute(ctx)
	})
}
