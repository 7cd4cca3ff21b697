package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Properties without a stable golang-ical constant are addressed by name.
const (
	propCreated      ical.ComponentProperty = "CREATED"
	propDtstamp      ical.ComponentProperty = "DTSTAMP"
	propStatus       ical.ComponentProperty = "STATUS"
	propDuration     ical.ComponentProperty = "DURATION"
	propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"
)

// Calendar-level properties every feed must carry.
var requiredMetadata = []string{
	"PRODID", "VERSION", "CALSCALE", "X-WR-TIMEZONE", "X-WR-CALNAME", "X-WR-CALDESC",
}

// MetadataError reports calendar-level properties missing from a feed.
type MetadataError struct {
	Missing []string
}

func (e *MetadataError) Error() string {
	return "calendar metadata missing: " + strings.Join(e.Missing, ", ")
}

// ParsedCalendar is a feed after parsing and before expansion.
type ParsedCalendar struct {
	ProdID      string
	Version     string
	Scale       string
	Timezone    string
	Name        string
	Description string

	// Location is the zone floating times and all-day dates are placed in:
	// X-WR-TIMEZONE when it names a known zone, the configured zone otherwise.
	Location *time.Location

	Events []ParsedEvent
}

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string
	Status      string

	// Created is CREATED, else DTSTAMP, else zero.
	Created time.Time

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// Parse parses a single ICS payload. loc is used when the feed does not name
// a usable X-WR-TIMEZONE.
//
//   - Missing calendar metadata fails the whole parse with *MetadataError.
//   - VEVENTs without UID or DTSTART are logged and skipped.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded; expansion
//     is done in expand.go.
func Parse(body []byte, loc *time.Location) (*ParsedCalendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	meta := make(map[string]string, len(requiredMetadata))
	for _, p := range cal.CalendarProperties {
		meta[strings.ToUpper(p.IANAToken)] = p.Value
	}
	var missing []string
	for _, name := range requiredMetadata {
		if _, ok := meta[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MetadataError{Missing: missing}
	}

	out := &ParsedCalendar{
		ProdID:      meta["PRODID"],
		Version:     meta["VERSION"],
		Scale:       meta["CALSCALE"],
		Timezone:    meta["X-WR-TIMEZONE"],
		Name:        meta["X-WR-CALNAME"],
		Description: meta["X-WR-CALDESC"],
		Location:    loc,
	}
	if calLoc, err := time.LoadLocation(out.Timezone); err == nil && out.Timezone != "" {
		out.Location = calLoc
	} else {
		appLog.Warn("ics calendar timezone unknown; using configured zone",
			"x_wr_timezone", out.Timezone, "zone", loc.String())
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, out.Location)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "reason", perr.Error())
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Info("ics parse completed", "calendar", out.Name, "event_count", len(out.Events))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Status = propValue(ve, propStatus)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, fmt.Errorf("uid %s: missing DTSTART", out.UID)
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay
	out.End = eventEnd(ve, out, loc)

	for _, name := range []ical.ComponentProperty{propCreated, propDtstamp} {
		if p := ve.GetProperty(name); p != nil && p.Value != "" {
			if t, _, err := propTime(p, loc); err == nil {
				out.Created = t
				break
			}
		}
	}

	// RRULE (we only keep raw string here; expansion will be in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE (can appear multiple times, each with a comma separated list)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		zone := propLocation(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, zone); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty(propRecurrenceID); ridProp != nil {
		if t, _, err := propTime(ridProp, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// eventEnd resolves DTEND, then DURATION, then the default length: one day
// for all-day events, zero otherwise. The result is never before Start.
func eventEnd(ve *ical.VEvent, ev ParsedEvent, loc *time.Location) time.Time {
	end := ev.Start
	if ev.AllDay {
		end = ev.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil && p.Value != "" {
		if t, _, err := propTime(p, loc); err == nil {
			end = t
		} else {
			appLog.Warn("ics DTEND unreadable", "uid", ev.UID, "value", p.Value)
		}
	} else if p := ve.GetProperty(propDuration); p != nil && p.Value != "" {
		if d, err := model.ParseDuration(p.Value); err == nil {
			end = ev.Start.Add(d)
		} else {
			appLog.Warn("ics DURATION unreadable", "uid", ev.UID, "value", p.Value)
		}
	}

	if end.Before(ev.Start) {
		return ev.Start
	}
	return end
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// propTime reads a DATE or DATE-TIME property, honoring its TZID parameter.
// Floating times and dates are placed in loc.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	val := strings.TrimSpace(p.Value)

	// VALUE=DATE or no 'T' in the value -> all-day
	allDay := !strings.Contains(val, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}

	t, err := parseICSTime(val, propLocation(p, loc))
	return t, allDay, err
}

func propLocation(p *ical.IANAProperty, loc *time.Location) *time.Location {
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 {
		return loc
	}
	tzid := strings.Trim(tzs[0], `"`)
	zone, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Warn("ics unknown TZID; using calendar zone", "tzid", tzid)
		return loc
	}
	return zone
}

// parseICSTime parses a basic ICS date/date-time string. Values without a
// trailing Z are read as wall time in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}
