package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"
)

// Record is the wire form of a CalendarEvent as stored in events.json,
// index.json, pages and notification payloads.
type Record struct {
	UID         string `json:"uid"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Duration    string `json:"duration"`
	Created     string `json:"created"`
	Name        string `json:"name"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	RRule       string `json:"rrule"`
	Status      string `json:"status"`
}

// ValidationError reports a record that cannot become a CalendarEvent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record can not be converted to CalendarEvent: %s: %s", e.Field, e.Reason)
}

// RecordError ties a ValidationError to its position in a record list.
// UID is filled in when the record carried a readable uid.
type RecordError struct {
	Index int
	UID   string
	Err   error
}

func (e RecordError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("record %d (uid %s): %v", e.Index, e.UID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Serialize converts e to its wire form. Besides the stored fields it
// emits the derived duration and a name duplicating summary.
func Serialize(e CalendarEvent) Record {
	return Record{
		UID:         e.UID,
		Start:       FormatTime(e.Start),
		End:         FormatTime(e.End),
		Duration:    FormatDuration(e.Duration()),
		Created:     FormatTime(e.Created),
		Name:        e.Summary,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		RRule:       e.RRule,
		Status:      e.Status,
	}
}

// SerializeAll serializes events in order. A nil slice yields an empty one
// so that JSON output is [] rather than null.
func SerializeAll(events []CalendarEvent) []Record {
	out := make([]Record, 0, len(events))
	for _, e := range events {
		out = append(out, Serialize(e))
	}
	return out
}

// Marshal encodes events as a JSON array of records.
func Marshal(events []CalendarEvent) ([]byte, error) {
	return json.Marshal(SerializeAll(events))
}

// requiredFields lists the record keys Deserialize insists on, in
// validation order.
var requiredFields = []string{
	"uid", "start", "end", "created", "summary", "description", "location", "rrule", "status",
}

// Deserialize decodes and validates a single JSON record. Derived fields
// (duration, name) are ignored.
func Deserialize(data []byte) (CalendarEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return CalendarEvent{}, &ValidationError{Field: "record", Reason: "not a JSON object"}
	}

	values := make(map[string]string, len(requiredFields))
	for _, field := range requiredFields {
		msg, ok := raw[field]
		if !ok {
			return CalendarEvent{}, &ValidationError{Field: field, Reason: "missing"}
		}
		var s string
		if err := json.Unmarshal(msg, &s); err != nil || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			return CalendarEvent{}, &ValidationError{Field: field, Reason: "must be a string"}
		}
		values[field] = s
	}

	times := make(map[string]time.Time, 3)
	for _, field := range []string{"start", "end", "created"} {
		t, err := ParseTime(values[field])
		if err != nil {
			return CalendarEvent{}, &ValidationError{Field: field, Reason: "not an ISO-8601 timestamp"}
		}
		times[field] = t
	}

	return CalendarEvent{
		UID:         values["uid"],
		Start:       times["start"],
		End:         times["end"],
		Created:     times["created"],
		Summary:     values["summary"],
		Description: values["description"],
		Location:    values["location"],
		RRule:       values["rrule"],
		Status:      values["status"],
	}, nil
}

// DeserializeRecords decodes a JSON array of records. Each element is
// validated on its own: bad elements are reported as RecordError and the
// rest are still returned. Only a payload that is not an array fails as a
// whole.
func DeserializeRecords(data []byte) ([]CalendarEvent, []RecordError, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, &ValidationError{Field: "records", Reason: "not a JSON array"}
	}

	events := make([]CalendarEvent, 0, len(items))
	var rejected []RecordError
	for i, item := range items {
		ev, err := Deserialize(item)
		if err != nil {
			rejected = append(rejected, RecordError{Index: i, UID: peekUID(item), Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, rejected, nil
}

func peekUID(item json.RawMessage) string {
	var probe struct {
		UID any `json:"uid"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return ""
	}
	if s, ok := probe.UID.(string); ok {
		return s
	}
	return ""
}

// FormatTime renders t as RFC 3339, keeping its offset.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime accepts the ISO-8601 shapes found in stored records: RFC 3339
// with or without fraction, a naive date-time (read as UTC) and a bare date.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatDuration renders d as an ISO-8601 duration such as P1DT2H30M.
// Sub-second precision is dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	iso := duration.Duration{
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	}
	if iso == (duration.Duration{}) {
		return "PT0S"
	}
	return iso.String()
}

// ParseDuration reads an ISO-8601 duration (ICS DURATION property or the
// record's duration field).
func ParseDuration(s string) (time.Duration, error) {
	d, err := duration.FromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.ToDuration(), nil
}
