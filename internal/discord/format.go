package discord

import (
	"strings"
	"time"

	"calsync/internal/model"
	"calsync/internal/notify"
)

// MaxContentLength is Discord's limit for a message body.
const MaxContentLength = 2000

const (
	titleNew      = ":calendar_spiral: Et nytt arrangement har blitt opprettet :calendar_spiral:"
	titleDeleted  = ":calendar_spiral: Et arrangement har blitt slettet :calendar_spiral:"
	titleUpdated  = ":calendar_spiral: Et arrangement har blitt endret :calendar_spiral:"
	titleTomorrow = "@here\n:calendar_spiral: Påminnelse: Arrangement i morgen :calendar_spiral:"
)

// Formatter renders notifications as Discord messages. Times are shown in
// Location.
type Formatter struct {
	Location *time.Location
}

func (f Formatter) loc() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

// Format renders n, truncated to MaxContentLength.
func (f Formatter) Format(n notify.Notification) string {
	var content string
	switch v := n.(type) {
	case notify.NewEvent:
		content = f.single(titleNew, v.Event, false)
	case notify.DeletedEvent:
		content = f.single(titleDeleted, v.Event, true)
	case notify.EventTomorrow:
		content = f.single(titleTomorrow, v.Event, false)
	case notify.UpdatedEvent:
		content = f.updated(v.Old, v.New)
	}
	return truncate(content, MaxContentLength)
}

func (f Formatter) single(title string, e model.CalendarEvent, struck bool) string {
	strike := func(s string) string {
		if struck {
			return "~~" + s + "~~"
		}
		return s
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n**" + e.Summary + "**\n")
	b.WriteString("\n" + strike("**Tid:** "+f.timeString(e.Start, e.End)))
	if e.Location != "" {
		b.WriteString("\n" + strike("**Sted:** "+e.Location))
	}
	if e.RRule != "" {
		b.WriteString("\n" + strike("**Gjentakelse:** "+DescribeRRule(e.RRule, f.loc())))
	}
	b.WriteString("\n\n" + htmlToText(e.Description))
	return b.String()
}

func (f Formatter) updated(oldEv, newEv model.CalendarEvent) string {
	var changed []string
	for _, c := range []struct {
		label    string
		old, new string
	}{
		{"navn", oldEv.Summary, newEv.Summary},
		{"beskrivelse", oldEv.Description, newEv.Description},
		{"sted", oldEv.Location, newEv.Location},
		{"gjentakelse", oldEv.RRule, newEv.RRule},
		{"status", oldEv.Status, newEv.Status},
	} {
		if c.old != c.new {
			changed = append(changed, c.label)
		}
	}
	if !oldEv.Start.Equal(newEv.Start) || !oldEv.End.Equal(newEv.End) {
		changed = append(changed, "tid")
	}

	var b strings.Builder
	b.WriteString(titleUpdated)
	b.WriteString("\n\nEndret: " + strings.Join(changed, ", ") + "\n")

	summary := "**" + newEv.Summary + "**"
	if oldEv.Summary != newEv.Summary {
		summary = "~~" + oldEv.Summary + "~~ " + summary
	}
	b.WriteString("\n" + summary + "\n")
	b.WriteString("\n**Tid:** " + f.timeChangedString(oldEv, newEv))

	if line, ok := changedLine(oldEv.Location, newEv.Location); ok {
		b.WriteString("\n**Sted:** " + line)
	}
	oldRule := DescribeRRule(oldEv.RRule, f.loc())
	newRule := DescribeRRule(newEv.RRule, f.loc())
	if line, ok := changedLine(oldRule, newRule); ok {
		b.WriteString("\n**Gjentakelse:** " + line)
	}

	b.WriteString("\n\n" + htmlToText(newEv.Description))
	return b.String()
}

// changedLine strikes the old value when it was set and differs. ok is
// false when both are empty.
func changedLine(oldVal, newVal string) (string, bool) {
	if oldVal == "" && newVal == "" {
		return "", false
	}
	if oldVal != "" && oldVal != newVal {
		return "~~" + oldVal + "~~ " + newVal, true
	}
	return newVal, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// timeString renders "dd/mm/yyyy, HH:MM - HH:MM", or both full timestamps
// when the event spans days.
func (f Formatter) timeString(start, end time.Time) string {
	start, end = start.In(f.loc()), end.In(f.loc())
	if !sameDay(start, end) {
		return start.Format("02/01/2006 15:04") + " - " + end.Format("02/01/2006 15:04")
	}
	return start.Format("02/01/2006") + ", " + start.Format("15:04") + " - " + end.Format("15:04")
}

func (f Formatter) timeChangedString(oldEv, newEv model.CalendarEvent) string {
	if oldEv.Start.Equal(newEv.Start) && oldEv.End.Equal(newEv.End) {
		return f.timeString(newEv.Start, newEv.End)
	}

	loc := f.loc()
	os, oe := oldEv.Start.In(loc), oldEv.End.In(loc)
	ns, ne := newEv.Start.In(loc), newEv.End.In(loc)
	if sameDay(os, oe) && sameDay(ns, ne) && sameDay(os, ns) {
		return ns.Format("02/01/2006") + ", " +
			"~~" + os.Format("15:04") + " - " + oe.Format("15:04") + "~~ " +
			ns.Format("15:04") + " - " + ne.Format("15:04")
	}
	return "~~" + f.timeString(os, oe) + "~~ " + f.timeString(ns, ne)
}

// truncate cuts s to max runes, ending with "..." when shortened.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) < max {
		return s
	}
	return string(r[:max-3]) + "..."
}
