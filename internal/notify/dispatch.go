package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"calsync/internal/diff"
	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Publisher delivers a message to the change channel.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, m Message) error

func (f PublisherFunc) Publish(ctx context.Context, m Message) error { return f(ctx, m) }

// Report counts delivered notifications per kind. Failed deliveries are
// listed in Errors; they do not stop the remaining ones.
type Report struct {
	Published map[Kind]int
	Errors    []error
}

// Err aggregates Errors, or returns nil.
func (r Report) Err() error {
	return multierr.Combine(r.Errors...)
}

// Total is the number of delivered notifications.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Published {
		n += c
	}
	return n
}

// Dispatcher publishes notifications one by one, without retries.
type Dispatcher struct {
	Publisher Publisher
}

// Dispatch publishes a notification for every classified event of res:
// new first, then updated, then deleted.
func (d Dispatcher) Dispatch(ctx context.Context, res *diff.Result) Report {
	var ns []Notification
	for _, e := range res.New {
		ns = append(ns, NewEvent{Event: e})
	}
	for _, c := range res.Updated {
		ns = append(ns, UpdatedEvent{Old: c.Old, New: c.New})
	}
	for _, e := range res.Deleted {
		ns = append(ns, DeletedEvent{Event: e})
	}
	return d.send(ctx, ns)
}

// Remind publishes an event_is_tomorrow notification for each event.
func (d Dispatcher) Remind(ctx context.Context, events []model.CalendarEvent) Report {
	ns := make([]Notification, 0, len(events))
	for _, e := range events {
		ns = append(ns, EventTomorrow{Event: e})
	}
	return d.send(ctx, ns)
}

func (d Dispatcher) send(ctx context.Context, ns []Notification) Report {
	rep := Report{Published: make(map[Kind]int)}
	for _, n := range ns {
		uid := subjectUID(n)
		msg, err := Encode(n)
		if err == nil {
			err = d.Publisher.Publish(ctx, msg)
		}
		if err != nil {
			appLog.Error("notification not delivered", err, "kind", string(n.Kind()), "uid", uid)
			rep.Errors = append(rep.Errors, fmt.Errorf("%s %s: %w", n.Kind(), uid, err))
			continue
		}
		appLog.Info("notification published", "kind", string(n.Kind()), "uid", uid)
		rep.Published[n.Kind()]++
	}
	return rep
}

func subjectUID(n Notification) string {
	switch v := n.(type) {
	case NewEvent:
		return v.Event.UID
	case UpdatedEvent:
		return v.New.UID
	case DeletedEvent:
		return v.Event.UID
	case EventTomorrow:
		return v.Event.UID
	}
	return ""
}
