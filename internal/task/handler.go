package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/phrazzld/jobstream/internal/job"
)

// ProgressReporter lets a handler report intermediate progress. Reports are
// best effort: stale or post-terminal reports are dropped silently.
type ProgressReporter interface {
	Report(ctx context.Context, percentage int, stage string)
}

// Handler performs the work of one job kind. Run may be invoked more than
// once for the same job when it fails with a transient error, so it must
// be safe to retry. Handlers should return promptly once ctx is done and
// stop between steps once Stopped(ctx) fires.
type Handler interface {
	Run(ctx context.Context, j *job.Job, progress ProgressReporter) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *job.Job, progress ProgressReporter) (json.RawMessage, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, j *job.Job, progress ProgressReporter) (json.RawMessage, error) {
	return f(ctx, j, progress)
}

// Binding pairs a handler with the external dependency it calls. The
// dependency names the circuit breaker guarding the handler.
type Binding struct {
	Dependency string
	Handler    Handler

	// PerCall handlers wrap each external call with Call; the executor
	// then runs them once instead of retrying the whole handler.
	PerCall bool
}

// Registry maps job kinds to handlers. It is populated at construction
// time and read-only afterwards.
type Registry struct {
	bindings map[job.Kind]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[job.Kind]Binding)}
}

// Register binds a handler to a kind. The whole handler is retried on a
// transient failure.
func (r *Registry) Register(kind job.Kind, dependency string, h Handler) error {
	return r.bind(kind, Binding{Dependency: dependency, Handler: h})
}

// RegisterPerCall binds a handler that makes several external calls and
// guards each of them with Call.
func (r *Registry) RegisterPerCall(kind job.Kind, dependency string, h Handler) error {
	return r.bind(kind, Binding{Dependency: dependency, Handler: h, PerCall: true})
}

func (r *Registry) bind(kind job.Kind, b Binding) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if b.Dependency == "" {
		return fmt.Errorf("handler for %s must name a dependency", kind)
	}
	if _, exists := r.bindings[kind]; exists {
		return fmt.Errorf("handler for %s already registered", kind)
	}
	r.bindings[kind] = b
	return nil
}

// Lookup returns the binding for kind.
func (r *Registry) Lookup(kind job.Kind) (Binding, bool) {
	b, ok := r.bindings[kind]
	return b, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []job.Kind {
	kinds := make([]job.Kind, 0, len(r.bindings))
	for k := range r.bindings {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
