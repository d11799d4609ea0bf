// Package bus provides the in-process event fan-out used to stream
// execution progress and log lines to observers. Delivery is
// best-effort: subscribers receive events published after they join;
// history must be read from the store
package bus

import (
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/runhawk/engine/pkg/api"
)

type (
	// Bus fans out execution events to any number of subscribers, keyed
	// by execution id
	Bus struct {
		mu     sync.Mutex
		topics map[api.ExecutionID]*executionTopic
	}

	// Subscription is one observer's feed of events for an execution
	Subscription struct {
		consumer  topic.Consumer[*api.Event]
		closeOnce sync.Once
	}

	executionTopic struct {
		topic    topic.Topic[*api.Event]
		producer topic.Producer[*api.Event]
	}
)

// New creates an empty event bus
func New() *Bus {
	return &Bus{
		topics: map[api.ExecutionID]*executionTopic{},
	}
}

// Publish delivers an event to all current subscribers of its execution
func (b *Bus) Publish(ev *api.Event) {
	b.mu.Lock()
	et, ok := b.topics[ev.ExecutionID]
	if !ok {
		et = newExecutionTopic()
		b.topics[ev.ExecutionID] = et
	}
	b.mu.Unlock()

	et.producer.Send() <- ev
}

// Subscribe joins the event feed for one execution. The subscription
// only sees events published after it is created
func (b *Bus) Subscribe(execID api.ExecutionID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	et, ok := b.topics[execID]
	if !ok {
		et = newExecutionTopic()
		b.topics[execID] = et
	}
	return &Subscription{
		consumer: et.topic.NewConsumer(),
	}
}

// Release tears down the topic for a terminal execution. Subscriber
// channels close once buffered events drain
func (b *Bus) Release(execID api.ExecutionID) {
	b.mu.Lock()
	et, ok := b.topics[execID]
	if ok {
		delete(b.topics, execID)
	}
	b.mu.Unlock()

	if ok {
		et.producer.Close()
	}
}

// Receive returns the subscriber's event channel
func (s *Subscription) Receive() <-chan *api.Event {
	return s.consumer.Receive()
}

// Close leaves the feed
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.consumer.Close()
	})
}

func newExecutionTopic() *executionTopic {
	t := caravan.NewTopic[*api.Event]()
	return &executionTopic{
		topic:    t,
		producer: t.NewProducer(),
	}
}
