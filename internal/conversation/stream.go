package conversation

import (
	"sync"
	"time"

	"github.com/fluxion/voice-agent/internal/domain"
)

// TurnEvent is what live subscribers (the desktop shell) receive for each
// processed turn.
type TurnEvent struct {
	SessionID     string               `json:"session_id"`
	TurnNumber    int                  `json:"turn_number"`
	UserInput     string               `json:"user_input"`
	Response      string               `json:"response"`
	Intent        domain.Intent        `json:"intent"`
	Layer         domain.Layer         `json:"layer"`
	BookingAction domain.BookingAction `json:"booking_action,omitempty"`
	BookingState  string               `json:"booking_state"`
	Escalated     bool                 `json:"escalated"`
	SessionState  domain.SessionState  `json:"session_state"`
	LatencyMs     int64                `json:"latency_ms"`
	Timestamp     time.Time            `json:"timestamp"`
}

func newTurnEvent(s *domain.Session, t *domain.Turn) TurnEvent {
	evt := TurnEvent{
		SessionID:    s.ID,
		BookingState: s.Booking.State.String(),
		SessionState: s.State,
	}
	if t != nil {
		evt.TurnNumber = t.Number
		evt.UserInput = t.UserInput
		evt.Response = t.Response
		evt.Intent = t.Intent
		evt.Layer = t.Layer
		evt.BookingAction = t.BookingAction
		evt.Escalated = t.Escalated
		evt.LatencyMs = t.LatencyMs
		evt.Timestamp = t.Timestamp
	}
	return evt
}

// Broadcaster fans turn events out to subscribers. A subscriber that does
// not keep up loses events rather than slowing the pipeline.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan TurnEvent
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]chan TurnEvent{}}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan TurnEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan TurnEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers evt to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(evt TurnEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers is the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
