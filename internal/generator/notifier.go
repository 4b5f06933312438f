package generator

import (
	"sync"
	"time"
)

// Event is one progress update on a generation, streamed to websocket
// subscribers.
type Event struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Kind      string    `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	At        time.Time `json:"at"`
}

const (
	StageAcquired  = "session_acquired"
	StageSubmitted = "submitted"
	StagePolling   = "polling"
	StageFinished  = "finished"
)

// Notifier fans events out to subscribers. Publishing never blocks; slow
// subscribers lose events rather than stalling a generation.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
