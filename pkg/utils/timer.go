package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase records the duration of a named training or prediction stage.
type Phase struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	done     bool
}

// Timer accumulates named phases (presort, sampling, per-level splitting,
// consumption) so a session can report where training time went. Safe for
// concurrent use; per-tree phases are recorded under distinct names.
type Timer struct {
	mu     sync.Mutex
	name   string
	start  time.Time
	phases []*Phase
	index  map[string]*Phase
}

// NewTimer creates a Timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
		index: make(map[string]*Phase),
	}
}

// Start begins timing a phase. Stop it via the returned function, typically
// with defer.
func (t *Timer) Start(phaseName string) func() time.Duration {
	t.mu.Lock()
	p := &Phase{Name: phaseName, Start: time.Now()}
	t.phases = append(t.phases, p)
	t.index[phaseName] = p
	t.mu.Unlock()

	return func() time.Duration {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !p.done {
			p.Duration = time.Since(p.Start)
			p.done = true
		}
		return p.Duration
	}
}

// Duration returns the recorded duration of a phase, or zero if unknown.
func (t *Timer) Duration(phaseName string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.index[phaseName]; ok {
		return p.Duration
	}
	return 0
}

// Total returns the elapsed time since the timer was created.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Summary returns a formatted listing of all phases in insertion order.
func (t *Timer) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s timing ===\n", t.name)
	for _, p := range t.phases {
		fmt.Fprintf(&sb, "  %s: %v\n", p.Name, p.Duration)
	}
	fmt.Fprintf(&sb, "  total: %v\n", time.Since(t.start))
	return sb.String()
}
