package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/indicator"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]func(Message)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]func(Message))}
}

func (c *fakeConn) Publish(topic string, retained bool, payload []byte) error {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic, retained, payload})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Subscribe(topic string, handler func(Message)) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) handler(topic string) func(Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeConn) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

type fakeDevice struct {
	bus *device.Bus

	mu      sync.Mutex
	changes []device.LEDChange
}

func (d *fakeDevice) SetLED(_ context.Context, c device.LEDChange) (indicator.State, error) {
	d.mu.Lock()
	d.changes = append(d.changes, c)
	d.mu.Unlock()
	return indicator.State{}, nil
}

func (d *fakeDevice) Events() *device.Bus { return d.bus }

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.changes)
}

func startBridge(t *testing.T) (*Bridge, *fakeConn, *fakeDevice) {
	t.Helper()
	conn := newFakeConn()
	dev := &fakeDevice{bus: device.NewBus()}
	b := NewBridge(conn, dev, "home/lights/", "Lumen-12ABCD")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for conn.handler(b.Topic("led", "set")) == nil {
		if time.Now().After(deadline) {
			t.Fatal("bridge never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	return b, conn, dev
}

func TestTopics(t *testing.T) {
	b := NewBridge(newFakeConn(), &fakeDevice{bus: device.NewBus()}, "", "Lumen-12ABCD")

	if got := b.Topic("led", "set"); got != "lumen/lumen-12abcd/led/set" {
		t.Errorf("Topic() = %q", got)
	}
	if got := AvailabilityTopic("/site/", "Lumen-12ABCD"); got != "site/lumen-12abcd/availability" {
		t.Errorf("AvailabilityTopic() = %q", got)
	}
}

func TestForwardsEvents(t *testing.T) {
	b, conn, dev := startBridge(t)

	dev.bus.Publish(device.Event{Type: device.EventState, Data: device.StateChange{From: "attaching", To: "attached"}})
	dev.bus.Publish(device.Event{Type: device.EventLED, Data: device.LEDStatus{IsOn: true, Brightness: 40}})

	var got []published
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		got = conn.published()
	}
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}

	if got[0].topic != b.Topic("state") || !got[0].retained {
		t.Errorf("state message = %+v", got[0])
	}
	var sc device.StateChange
	if err := json.Unmarshal(got[0].payload, &sc); err != nil || sc.To != "attached" {
		t.Errorf("state payload = %s", got[0].payload)
	}

	if got[1].topic != "home/lights/lumen-12abcd/led" {
		t.Errorf("led topic = %q", got[1].topic)
	}
}

func TestLEDSetCommands(t *testing.T) {
	b, conn, dev := startBridge(t)
	h := conn.handler(b.Topic("led", "set"))

	h(Message{Payload: []byte(`{"state":"on","brightness":30}`)})
	h(Message{Payload: []byte(`{"state":"on"}`), Retained: true})
	h(Message{Payload: []byte(`not json`)})
	h(Message{Payload: []byte(`{"brightness":250}`)})
	h(Message{Payload: []byte(`{}`)})

	if got := dev.count(); got != 1 {
		t.Fatalf("applied %d commands, want 1", got)
	}
	c := dev.changes[0]
	if c.Power == nil || !*c.Power || c.Brightness == nil || *c.Brightness != 30 {
		t.Errorf("applied change = %+v", c)
	}
}
