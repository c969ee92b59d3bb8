package conn

import (
	"encoding/json"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/internal/bus"
	"github.com/mbeoliero/prolinq/pkg/errcode"
)

// Envelope is the wire format for all socket traffic, both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TypingPayload carries a typing indicator. Inbound it identifies the
// sender; outbound it identifies the receiver.
type TypingPayload struct {
	SenderID   int64 `json:"sender_id,omitempty"`
	ReceiverID int64 `json:"receiver_id,omitempty"`
	IsTyping   bool  `json:"is_typing"`
}

// MessageReadPayload carries a read receipt
type MessageReadPayload struct {
	MessageID int64 `json:"message_id"`
}

// Encode encodes an outbound envelope
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// decodeAndPublish demultiplexes one inbound envelope onto the bus. Payload
// types per event: EventNewMessage carries *api.Message, EventNotification
// carries *api.Notification, EventTyping carries *TypingPayload,
// EventMessageRead carries *MessageReadPayload.
func decodeAndPublish(b *bus.Bus, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errcode.ErrMalformedPayload.Wrap(err)
	}

	switch bus.Event(env.Event) {
	case bus.EventNewMessage:
		var msg api.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return errcode.ErrMalformedPayload.Wrap(err)
		}
		b.Publish(bus.EventNewMessage, &msg)
		// Broadcast as a signal too, so components with no socket
		// subscription (navigation badges) can react.
		b.Publish(bus.SignalNewMessage, &msg)
	case bus.EventNotification:
		var n api.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return errcode.ErrMalformedPayload.Wrap(err)
		}
		b.Publish(bus.EventNotification, &n)
		b.Publish(bus.SignalNotification, &n)
	case bus.EventTyping:
		var t TypingPayload
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return errcode.ErrMalformedPayload.Wrap(err)
		}
		b.Publish(bus.EventTyping, &t)
	case bus.EventMessageRead:
		var r MessageReadPayload
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return errcode.ErrMalformedPayload.Wrap(err)
		}
		b.Publish(bus.EventMessageRead, &r)
	default:
		return errcode.ErrUnknownEvent
	}
	return nil
}
