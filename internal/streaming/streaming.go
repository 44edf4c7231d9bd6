// package streaming is an in-process event mux. Committed activity,
// object and actor changes are published here for out-of-band
// consumers such as the search indexer; publishing never blocks.
package streaming

import "sync"

type Payload struct {
	Event string
	Data  any
}

type Mux struct {
	mu            sync.Mutex
	subscriptions map[*Subscription]chan<- Payload
}

// Publish delivers the payload to every subscriber. Subscribers that
// cannot keep up are dropped rather than slowing the publisher.
func (m *Mux) Publish(event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub, ch := range m.subscriptions {
		select {
		case ch <- Payload{Event: event, Data: data}:
		default:
			// too slow, unsubscribe
			m.cancel(sub)
		}
	}
}

func (m *Mux) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Payload, 16)
	sub := &Subscription{
		mux: m,
		C:   ch,
	}
	if m.subscriptions == nil {
		m.subscriptions = make(map[*Subscription]chan<- Payload)
	}
	m.subscriptions[sub] = ch
	return sub
}

// cancel removes the subscription. Callers must hold m.mu.
func (m *Mux) cancel(sub *Subscription) {
	ch, ok := m.subscriptions[sub]
	if ok {
		delete(m.subscriptions, sub)
		close(ch)
	}
}

type Subscription struct {
	mux *Mux
	C   <-chan Payload
}

func (s *Subscription) Cancel() {
	s.mux.mu.Lock()
	defer s.mux.mu.Unlock()
	s.mux.cancel(s)
}
