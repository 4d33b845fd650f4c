package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrTooManyRuns is returned when every run slot stays busy past the wait timeout.
var ErrTooManyRuns = errors.New("too many runs in progress, please try again later")

const (
	// DefaultMaxConcurrentRuns serialises runs: two imports over the same
	// tables would race on the entity cache.
	DefaultMaxConcurrentRuns = 1

	// DefaultMaxWaitTime is how long a run queues for a slot.
	DefaultMaxWaitTime = 30 * time.Second
)

// RunSlot describes the run holding a limiter slot.
type RunSlot struct {
	ID      string    `json:"id"`
	Kind    RunKind   `json:"kind"`
	Models  []string  `json:"models"`
	Started time.Time `json:"started"`
}

func (s RunSlot) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Kind, strings.Join(s.Models, ","), s.ID)
}

// RunLimiter hands out a fixed number of run slots and remembers which run
// holds each one, so a rejected caller and /healthz can name them.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu   sync.Mutex
	seq  uint64
	held map[uint64]RunSlot
	idle chan struct{} // closed while no slot is held
}

// NewRunLimiter creates a limiter allowing maxConcurrent simultaneous runs.
// Non-positive arguments select the defaults.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	idle := make(chan struct{})
	close(idle)
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		held:    make(map[uint64]RunSlot),
		idle:    idle,
	}
}

// Acquire queues for a slot for at most the limiter's wait time. The
// returned release func frees the slot; calling it twice is harmless.
func (l *RunLimiter) Acquire(ctx context.Context, run RunSlot) (release func(), err error) {
	if release, ok := l.TryAcquire(run); ok {
		return release, nil
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.hold(run), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: waited %s behind %s", ErrTooManyRuns, l.maxWait, l.holders())
	}
}

// TryAcquire takes a slot without waiting.
func (l *RunLimiter) TryAcquire(run RunSlot) (release func(), ok bool) {
	select {
	case l.slots <- struct{}{}:
		return l.hold(run), true
	default:
		return nil, false
	}
}

func (l *RunLimiter) hold(run RunSlot) func() {
	l.mu.Lock()
	l.seq++
	key := l.seq
	if len(l.held) == 0 {
		l.idle = make(chan struct{})
	}
	l.held[key] = run
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			if len(l.held) == 0 {
				close(l.idle)
			}
			l.mu.Unlock()
			<-l.slots
		})
	}
}

func (l *RunLimiter) holders() string {
	runs := l.Runs()
	if len(runs) == 0 {
		return "a finishing run"
	}
	names := make([]string, len(runs))
	for i, r := range runs {
		names[i] = r.String()
	}
	return strings.Join(names, "; ")
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Runs returns the runs holding a slot, oldest first.
func (l *RunLimiter) Runs() []RunSlot {
	l.mu.Lock()
	runs := make([]RunSlot, 0, len(l.held))
	for _, r := range l.held {
		runs = append(runs, r)
	}
	l.mu.Unlock()

	slices.SortFunc(runs, func(a, b RunSlot) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunLimiterStatus is a snapshot of the limiter.
type RunLimiterStatus struct {
	Active        int       `json:"active"`
	Available     int       `json:"available"`
	MaxConcurrent int       `json:"max_concurrent"`
	Runs          []RunSlot `json:"runs"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	runs := l.Runs()
	return RunLimiterStatus{
		Active:        len(runs),
		Available:     cap(l.slots) - len(runs),
		MaxConcurrent: cap(l.slots),
		Runs:          runs,
	}
}
