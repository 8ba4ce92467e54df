package jobs

import "sync"

// inflight allows at most one running check per target.
type inflight struct {
	mu      sync.Mutex
	targets map[uint]struct{}
}

func newInflight() *inflight {
	return &inflight{targets: make(map[uint]struct{})}
}

// acquire returns false when a check for id is already running.
func (f *inflight) acquire(id uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.targets[id]; busy {
		return false
	}
	f.targets[id] = struct{}{}
	return true
}

func (f *inflight) release(id uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.targets, id)
}

func (f *inflight) running(id uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.targets[id]
	return busy
}
