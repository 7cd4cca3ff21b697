// Package notify turns diff results and reminders into grouped messages for
// the change channel.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"calsync/internal/model"
)

// Kind is the grouping key of a notification on the channel.
type Kind string

const (
	KindNew      Kind = "new_calendar_event"
	KindUpdated  Kind = "updated_calendar_event"
	KindDeleted  Kind = "deleted_calendar_event"
	KindTomorrow Kind = "event_is_tomorrow"
)

// Kinds lists every grouping key.
var Kinds = []Kind{KindNew, KindUpdated, KindDeleted, KindTomorrow}

// Notification is one of NewEvent, UpdatedEvent, DeletedEvent or
// EventTomorrow. The set is closed.
type Notification interface {
	Kind() Kind
	Accept(ctx context.Context, h Handler) error
	sealed()
}

// Handler consumes notifications. Adding a variant adds a method here, so
// every consumer has to handle it.
type Handler interface {
	HandleNew(ctx context.Context, n NewEvent) error
	HandleUpdated(ctx context.Context, n UpdatedEvent) error
	HandleDeleted(ctx context.Context, n DeletedEvent) error
	HandleTomorrow(ctx context.Context, n EventTomorrow) error
}

type NewEvent struct{ Event model.CalendarEvent }

type UpdatedEvent struct{ Old, New model.CalendarEvent }

type DeletedEvent struct{ Event model.CalendarEvent }

// EventTomorrow is the daily reminder for an event starting the next day.
type EventTomorrow struct{ Event model.CalendarEvent }

func (NewEvent) Kind() Kind      { return KindNew }
func (UpdatedEvent) Kind() Kind  { return KindUpdated }
func (DeletedEvent) Kind() Kind  { return KindDeleted }
func (EventTomorrow) Kind() Kind { return KindTomorrow }

func (n NewEvent) Accept(ctx context.Context, h Handler) error      { return h.HandleNew(ctx, n) }
func (n UpdatedEvent) Accept(ctx context.Context, h Handler) error  { return h.HandleUpdated(ctx, n) }
func (n DeletedEvent) Accept(ctx context.Context, h Handler) error  { return h.HandleDeleted(ctx, n) }
func (n EventTomorrow) Accept(ctx context.Context, h Handler) error { return h.HandleTomorrow(ctx, n) }

func (NewEvent) sealed()      {}
func (UpdatedEvent) sealed()  {}
func (DeletedEvent) sealed()  {}
func (EventTomorrow) sealed() {}

// Message is a notification as carried by the channel. DedupID is derived
// from Body, so redelivering the same content yields the same id.
type Message struct {
	Group   Kind
	DedupID string
	Body    []byte
}

type singleBody struct {
	Event model.Record `json:"event"`
}

type changeBody struct {
	OldEvent model.Record `json:"old_event"`
	NewEvent model.Record `json:"new_event"`
}

// Encode serializes n into a Message.
func Encode(n Notification) (Message, error) {
	var body any
	switch v := n.(type) {
	case NewEvent:
		body = singleBody{Event: model.Serialize(v.Event)}
	case DeletedEvent:
		body = singleBody{Event: model.Serialize(v.Event)}
	case EventTomorrow:
		body = singleBody{Event: model.Serialize(v.Event)}
	case UpdatedEvent:
		body = changeBody{OldEvent: model.Serialize(v.Old), NewEvent: model.Serialize(v.New)}
	default:
		return Message{}, fmt.Errorf("notify: unknown notification %T", n)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Descriptions carry HTML; keep it readable on the wire.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return Message{}, fmt.Errorf("notify: encode %s: %w", n.Kind(), err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	sum := sha256.Sum256(data)
	return Message{
		Group:   n.Kind(),
		DedupID: hex.EncodeToString(sum[:]),
		Body:    data,
	}, nil
}

// Decode is the inverse of Encode.
func Decode(m Message) (Notification, error) {
	switch m.Group {
	case KindNew, KindDeleted, KindTomorrow:
		var raw struct {
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(m.Body, &raw); err != nil {
			return nil, fmt.Errorf("notify: decode %s: %w", m.Group, err)
		}
		e, err := model.Deserialize(raw.Event)
		if err != nil {
			return nil, fmt.Errorf("notify: decode %s: %w", m.Group, err)
		}
		switch m.Group {
		case KindNew:
			return NewEvent{Event: e}, nil
		case KindDeleted:
			return DeletedEvent{Event: e}, nil
		default:
			return EventTomorrow{Event: e}, nil
		}

	case KindUpdated:
		var raw struct {
			OldEvent json.RawMessage `json:"old_event"`
			NewEvent json.RawMessage `json:"new_event"`
		}
		if err := json.Unmarshal(m.Body, &raw); err != nil {
			return nil, fmt.Errorf("notify: decode %s: %w", m.Group, err)
		}
		oldEv, err := model.Deserialize(raw.OldEvent)
		if err != nil {
			return nil, fmt.Errorf("notify: decode %s old_event: %w", m.Group, err)
		}
		newEv, err := model.Deserialize(raw.NewEvent)
		if err != nil {
			return nil, fmt.Errorf("notify: decode %s new_event: %w", m.Group, err)
		}
		return UpdatedEvent{Old: oldEv, New: newEv}, nil
	}
	return nil, fmt.Errorf("notify: unknown group %q", m.Group)
}
