// Package bridge carries service requests and events between the engine and
// a front end. Every transport speaks the same envelope.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/distantorigin/gamesync/internal/logging"
)

var logger = logging.For("bridge")

// Message types.
const (
	TypeRequest = "request"
	TypeReply   = "reply"
	TypeEvent   = "event"
)

// Message is the envelope exchanged with a front end. Requests carry an id
// that their reply echoes; events have none.
type Message struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler serves requests on one channel. The returned value is sent back as
// the reply payload.
type Handler func(ctx context.Context, payload json.RawMessage) any

// Transport connects handlers to a front end.
type Transport interface {
	// Handle registers h for requests on channel.
	Handle(channel string, h Handler)
	// Send pushes an event to the front end.
	Send(channel string, payload any) error
	// Serve processes requests until ctx ends or the front end goes away.
	Serve(ctx context.Context) error
}

type errorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// router is the handler table shared by all transports.
type router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (r *router) Handle(channel string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[channel] = h
}

func (r *router) handler(channel string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[channel]
	return h, ok
}

// dispatch runs the handler for msg and builds the reply.
func (r *router) dispatch(ctx context.Context, msg Message) Message {
	reply := Message{Type: TypeReply, ID: msg.ID, Channel: msg.Channel}

	var result any
	if h, ok := r.handler(msg.Channel); ok {
		result = h(ctx, msg.Payload)
	} else {
		logger.WithField("channel", msg.Channel).Warn("request on unknown channel")
		result = errorReply{Error: fmt.Sprintf("unknown channel %q", msg.Channel), Kind: "not_found"}
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.WithField("channel", msg.Channel).WithError(err).Error("failed to encode reply")
		data, _ = json.Marshal(errorReply{Error: "failed to encode reply", Kind: "internal"})
	}
	reply.Payload = data
	return reply
}

func event(channel string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return Message{Type: TypeEvent, Channel: channel, Payload: data}, nil
}
