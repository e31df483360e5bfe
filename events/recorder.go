package events

import "sync"

// Recorder is a Listener that keeps every event it receives. Useful for
// tests and for UIs that poll instead of reacting.
type Recorder struct {
	mu     sync.Mutex
	events []SessionExpired
}

func (r *Recorder) Listen(e SessionExpired) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []SessionExpired {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionExpired(nil), r.events...)
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
