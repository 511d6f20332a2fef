package device

import (
	"sync"
	"time"
)

// EventType names a kind of device event.
type EventType string

const (
	EventState  EventType = "state"
	EventLED    EventType = "led"
	EventUpdate EventType = "update"
	EventButton EventType = "button"
)

// Event is published to subscribers of a Bus.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// StateChange is the payload of EventState.
type StateChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	SSID   string `json:"ssid,omitempty"`
}

// LEDStatus is the payload of EventLED.
type LEDStatus struct {
	IsOn       bool   `json:"isOn"`
	Brightness uint8  `json:"brightness"`
	R          uint8  `json:"r"`
	G          uint8  `json:"g"`
	B          uint8  `json:"b"`
	W          uint8  `json:"w"`
	Pattern    string `json:"pattern"`
}

// ButtonEvent is the payload of EventButton.
type ButtonEvent struct {
	Action string `json:"action"`
	HeldMS int64  `json:"held_ms"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	dropped uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
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

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
