package renderevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

func TestPublisher_SendsJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, NewConfig())
	got := make(chan *sarama.ProducerMessage, 1)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		got <- m
		return nil
	})

	p := NewWithProducer(logger.Discard(), prod, "map-render-events", 4)
	p.Publish(Event{MapID: 2, Map: "teyvat", Resource: "Sweet Flower", Outcome: "built", DurationMS: 12})

	var msg *sarama.ProducerMessage
	select {
	case msg = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no message produced")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if msg.Topic != "map-render-events" {
		t.Fatalf("topic=%q", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "2/Sweet Flower" {
		t.Fatalf("key=%q", key)
	}
	b, _ := msg.Value.Encode()
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Map != "teyvat" || ev.Outcome != "built" || ev.DurationMS != 12 || ev.TS.IsZero() {
		t.Fatalf("event=%+v", ev)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	// no forwarding goroutine: the queue only drains if someone reads it
	p := &Publisher{events: make(chan Event, 1)}

	done := make(chan struct{})
	go func() {
		for range 50 {
			p.Publish(Event{MapID: 2})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if len(p.events) != 1 {
		t.Fatalf("queued=%d want 1", len(p.events))
	}
}

func TestNoop(t *testing.T) {
	var s Sink = Noop{}
	s.Publish(Event{})
}
