package discord

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/teambition/rrule-go"
)

var frequencies = map[rrule.Frequency]string{
	rrule.SECONDLY: "sekund",
	rrule.MINUTELY: "minutt",
	rrule.HOURLY:   "time",
	rrule.DAILY:    "dag",
	rrule.WEEKLY:   "uke",
	rrule.MONTHLY:  "måned",
	rrule.YEARLY:   "år",
}

// Neuter nouns take "hvert", the others "hver".
var neuterFrequency = map[rrule.Frequency]bool{
	rrule.SECONDLY: true,
	rrule.MINUTELY: true,
	rrule.YEARLY:   true,
}

// Indexed by rrule-go's weekday number, Monday first.
var weekDays = []string{"mandag", "tirsdag", "onsdag", "torsdag", "fredag", "lørdag", "søndag"}

var positions = map[int]string{
	-2: "nest siste ",
	-1: "siste ",
	1:  "første ",
	2:  "andre ",
	3:  "tredje ",
	4:  "fjerde ",
}

var months = []string{
	"januar", "februar", "mars", "april", "mai", "juni",
	"juli", "august", "september", "oktober", "november", "desember",
}

// DescribeRRule renders an RRULE in Norwegian, for example
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=TU" becomes "Tirsdag, annenhver uke".
// UNTIL is shown in loc. A rule that does not parse is returned unchanged.
func DescribeRRule(rule string, loc *time.Location) string {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return ""
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return rule
	}
	if loc == nil {
		loc = time.UTC
	}

	parts := []string{
		bydayString(opt.Byweekday),
		freqString(opt.Freq, opt.Interval),
		countString(opt.Count),
		ordinalList(opt.Bymonthday, "dag i måneden"),
		ordinalList(opt.Byyearday, "dag i året"),
		ordinalList(opt.Byweekno, "uke i året"),
		bymonthString(opt.Bymonth),
		untilString(rule, opt.Until, loc),
	}

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return capitalize(strings.Join(kept, ", "))
}

func freqString(freq rrule.Frequency, interval int) string {
	name, ok := frequencies[freq]
	if !ok {
		return ""
	}
	prefix := "hver"
	if neuterFrequency[freq] {
		prefix = "hvert"
	}
	switch {
	case interval == 2:
		return "annen" + prefix + " " + name
	case interval >= 3:
		return fmt.Sprintf("%s %d. %s", prefix, interval, name)
	default:
		return prefix + " " + name
	}
}

func countString(count int) string {
	if count <= 0 {
		return ""
	}
	return fmt.Sprintf("%d ganger", count)
}

func bydayString(days []rrule.Weekday) string {
	out := make([]string, 0, len(days))
	for _, wd := range days {
		day := weekDays[wd.Day()]
		n := wd.N()
		switch {
		case n == 0:
			out = append(out, day)
		case positions[n] != "":
			out = append(out, positions[n]+day)
		case n < 0:
			out = append(out, fmt.Sprintf("hver %d. siste %s", -n, day))
		default:
			out = append(out, fmt.Sprintf("hver %d. %s", n, day))
		}
	}
	return strings.Join(out, ", ")
}

func ordinalList(values []int, suffix string) string {
	if len(values) == 0 {
		return ""
	}
	items := make([]string, 0, len(values))
	for _, v := range values {
		items = append(items, fmt.Sprintf("%d.", v))
	}
	return joinAnd(items) + " " + suffix
}

func bymonthString(values []int) string {
	items := make([]string, 0, len(values))
	for _, m := range values {
		if m >= 1 && m <= 12 {
			items = append(items, months[m-1])
		}
	}
	return joinAnd(items)
}

// untilString shows dates without a clock time when the rule's UNTIL is a
// bare date.
func untilString(rule string, until time.Time, loc *time.Location) string {
	if until.IsZero() {
		return ""
	}
	for _, part := range strings.Split(strings.ToUpper(rule), ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok && !strings.Contains(v, "T") {
			return "frem til " + until.Format("02/01/2006")
		}
	}
	return "frem til " + until.In(loc).Format("02/01/2006 15:04")
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " og " + items[len(items)-1]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
