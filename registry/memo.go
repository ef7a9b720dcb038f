package registry

import (
	"context"
	"golang.org/x/sync/singleflight"
	"sync"
	"text2phenotype.com/seqtag/utils"
)

type outcome[T any] struct {
	value T
	err   error
}

// memo runs at most one load per key at a time and remembers outcomes.
// Failures are remembered only when keepFailures is set.
type memo[T any] struct {
	keepFailures bool
	group        singleflight.Group
	mu           sync.Mutex
	done         map[string]outcome[T]
	loading      map[string]bool
}

func newMemo[T any](keepFailures bool) *memo[T] {
	return &memo[T]{
		keepFailures: keepFailures,
		done:         make(map[string]outcome[T]),
		loading:      make(map[string]bool),
	}
}

func (m *memo[T]) lookup(key string) (outcome[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.done[key]
	return o, ok
}

// state reports whether key has a remembered outcome and whether a load is in flight.
func (m *memo[T]) state(key string) (o outcome[T], done bool, loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, done = m.done[key]
	return o, done, m.loading[key]
}

// get returns the remembered outcome for key or joins/starts its load. The load itself
// runs detached from ctx; a cancelled caller stops waiting and gets ctx.Err().
func (m *memo[T]) get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if o, ok := m.lookup(key); ok {
		return o.value, o.err
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		if o, ok := m.lookup(key); ok {
			return o, nil
		}
		m.mu.Lock()
		m.loading[key] = true
		m.mu.Unlock()

		o := m.run(loadCtx, load)

		m.mu.Lock()
		delete(m.loading, key)
		if o.err == nil || m.keepFailures {
			m.done[key] = o
		}
		m.mu.Unlock()
		return o, nil
	})
	select {
	case res := <-ch:
		o := res.Val.(outcome[T])
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (m *memo[T]) run(ctx context.Context, load func(context.Context) (T, error)) (o outcome[T]) {
	defer utils.RecoverWithError(&o.err)
	o.value, o.err = load(ctx)
	return o
}

func (m *memo[T]) values() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, 0, len(m.done))
	for _, o := range m.done {
		if o.err == nil {
			out = append(out, o.value)
		}
	}
	return out
}
