package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	name    string
	payload any
}

// recorder captures events and optionally reacts to them.
type recorder struct {
	mu     sync.Mutex
	events []emitted
	on     func(name string, payload any)
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) Emit(name string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, emitted{name: name, payload: payload})
	on := r.on
	r.mu.Unlock()

	if on != nil {
		on(name, payload)
	}
}

func (r *recorder) payloads(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) count(name string) int {
	return len(r.payloads(name))
}

func (r *recorder) waitFor(t *testing.T, name string, n int) []any {
	t.Helper()

	require.Eventually(t, func() bool {
		return r.count(name) >= n
	}, 5*time.Second, 10*time.Millisecond, "waiting for %d %s events", n, name)

	return r.payloads(name)
}
