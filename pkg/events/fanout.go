package events

import "sync"

// Fanout forwards every event to all current subscribers.
type Fanout struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Observer
}

func NewFanout(observers ...Observer) *Fanout {
	f := &Fanout{subs: make(map[int]Observer)}
	for _, o := range observers {
		f.Subscribe(o)
	}
	return f
}

// Subscribe adds an observer and returns the func that removes it.
func (f *Fanout) Subscribe(o Observer) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = o
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *Fanout) Notify(e Event) {
	f.mu.RLock()
	subs := make([]Observer, 0, len(f.subs))
	for _, o := range f.subs {
		subs = append(subs, o)
	}
	f.mu.RUnlock()

	for _, o := range subs {
		o.Notify(e)
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
