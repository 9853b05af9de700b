package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// AllChannels subscribes to events on every channel.
const AllChannels = "*"

// Bus is an in-process transport for front ends linked into the same binary
// and for tests. Requests are plain calls; events fan out to subscribers.
type Bus struct {
	router

	mu     sync.Mutex
	subs   map[string]map[chan Message]struct{}
	closed bool
}

// NewBus creates an in-process transport.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Message]struct{})}
}

// Subscribe returns a channel receiving events sent on channel, or on every
// channel for AllChannels. Events are dropped while the buffer is full. The
// returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(channel string, buffer int) (<-chan Message, func()) {
	ch := make(chan Message, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Message]struct{})
	}
	b.subs[channel][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[channel][ch]; ok {
				delete(b.subs[channel], ch)
				close(ch)
			}
		})
	}
}

// Send publishes an event to the subscribers of channel.
func (b *Bus) Send(channel string, payload any) error {
	msg, err := event(channel, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{channel, AllChannels} {
		for ch := range b.subs[key] {
			select {
			case ch <- msg:
			default:
				logger.WithField("channel", channel).Debug("subscriber full, dropping event")
			}
		}
	}
	return nil
}

// Request calls the handler for channel with payload and returns the encoded
// reply.
func (b *Bus) Request(ctx context.Context, channel string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	reply := b.dispatch(ctx, Message{Type: TypeRequest, Channel: channel, Payload: data})
	return reply.Payload, nil
}

// Serve blocks until ctx ends, then closes every subscription.
func (b *Bus) Serve(ctx context.Context) error {
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for key, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, key)
	}
	return nil
}
