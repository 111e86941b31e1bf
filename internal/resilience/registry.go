package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry hands out one shared Breaker per dependency key. It is injected
// into every worker so breakers are shared across the pool but fresh per
// test.
type Registry struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	breakers sync.Map // string -> *Breaker
}

// NewRegistry creates a registry whose breakers use the given settings.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the registry's time source. Breakers already handed out
// keep theirs.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker)
	}
	nb := NewBreaker(r.threshold, r.cooldown)
	nb.now = r.now
	b, _ := r.breakers.LoadOrStore(key, nb)
	return b.(*Breaker)
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Key      string     `json:"key"`
	State    string     `json:"state"`
	Failures int        `json:"failures"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the state of every breaker, sorted by key.
func (r *Registry) Snapshot() []BreakerStats {
	out := []BreakerStats{}
	r.breakers.Range(func(k, v any) bool {
		b := v.(*Breaker)
		s := BreakerStats{
			Key:      k.(string),
			State:    b.State().String(),
			Failures: b.Failures(),
		}
		if t := b.OpenedAt(); !t.IsZero() {
			s.OpenedAt = &t
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
