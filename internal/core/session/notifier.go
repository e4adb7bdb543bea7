package session

import (
	"sync"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// notifier fans session events out to subscribers.
//
// Events are queued while the session lock is held and delivered after it is
// released. deliverMu serialises delivery so subscribers see events in the order
// they were queued. Subscribers must not mutate the session from the callback.
type notifier struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func(domain.Event)
	pending []domain.Event

	deliverMu sync.Mutex
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]func(domain.Event))}
}

func (n *notifier) subscribe(fn func(domain.Event)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) queue(ev domain.Event) {
	n.mu.Lock()
	n.pending = append(n.pending, ev)
	n.mu.Unlock()
}

func (n *notifier) flush() {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	for {
		n.mu.Lock()
		if len(n.pending) == 0 {
			n.mu.Unlock()
			return
		}
		events := n.pending
		n.pending = nil
		subs := make([]func(domain.Event), 0, len(n.subs))
		for _, fn := range n.subs {
			subs = append(subs, fn)
		}
		n.mu.Unlock()

		for _, ev := range events {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}
