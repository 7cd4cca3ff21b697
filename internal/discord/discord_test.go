package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/bus"
	"calsync/internal/model"
	"calsync/internal/notify"
)

var oslo, _ = time.LoadLocation("Europe/Oslo")

func quiz() model.CalendarEvent {
	start := time.Date(2026, 3, 14, 18, 30, 0, 0, oslo)
	return model.CalendarEvent{
		UID:         "quiz",
		Start:       start,
		End:         start.Add(2 * time.Hour),
		Created:     start.AddDate(0, -1, 0),
		Summary:     "Quiz",
		Description: "<p>Ta med <b>lag</b></p>",
		Location:    "Kjelleren",
	}
}

func TestDescribeRRule(t *testing.T) {
	testCases := []struct {
		rule string
		want string
	}{
		{"FREQ=WEEKLY;BYDAY=SA", "Lørdag, hver uke"},
		{"FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH;COUNT=5", "Tirsdag, torsdag, annenhver uke, 5 ganger"},
		{"FREQ=MONTHLY;BYDAY=-1FR", "Siste fredag, hver måned"},
		{"FREQ=YEARLY;BYMONTH=5;BYMONTHDAY=17", "Hvert år, 17. dag i måneden, mai"},
		{"FREQ=DAILY;INTERVAL=3;UNTIL=20260401", "Hver 3. dag, frem til 01/04/2026"},
		{"FREQ=DAILY;UNTIL=20260401T220000Z", "Hver dag, frem til 02/04/2026 00:00"},
		{"FREQ=MONTHLY;BYMONTHDAY=1,15", "Hver måned, 1. og 15. dag i måneden"},
		{"", ""},
		{"NOT A RULE", "NOT A RULE"},
	}
	for _, tc := range testCases {
		t.Run(tc.rule, func(t *testing.T) {
			assert.Equal(t, tc.want, DescribeRRule(tc.rule, oslo))
		})
	}
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "Ta med **lag**", htmlToText("<p>Ta med <b>lag</b></p>"))
	assert.Equal(t, "Linje 1\nLinje 2", htmlToText("Linje 1<br>Linje 2"))
	assert.Equal(t, "Se nettsiden", htmlToText(`Se <a href="https://example.com">nettsiden</a>`))
	assert.Equal(t, "Liste:\n\n* en\n* to", htmlToText("Liste:<ul><li>en</li><li>to</li></ul>"))
	assert.Equal(t, "", htmlToText("   "))
}

func TestFormat_NewEvent(t *testing.T) {
	e := quiz()
	e.RRule = "FREQ=WEEKLY;BYDAY=SA"
	got := Formatter{Location: oslo}.Format(notify.NewEvent{Event: e})

	want := ":calendar_spiral: Et nytt arrangement har blitt opprettet :calendar_spiral:\n" +
		"\n**Quiz**\n" +
		"\n**Tid:** 14/03/2026, 18:30 - 20:30" +
		"\n**Sted:** Kjelleren" +
		"\n**Gjentakelse:** Lørdag, hver uke" +
		"\n\nTa med **lag**"
	assert.Equal(t, want, got)
}

func TestFormat_DeletedStrikesThrough(t *testing.T) {
	got := Formatter{Location: oslo}.Format(notify.DeletedEvent{Event: quiz()})
	assert.Contains(t, got, "~~**Tid:** 14/03/2026, 18:30 - 20:30~~")
	assert.Contains(t, got, "~~**Sted:** Kjelleren~~")
	assert.NotContains(t, got, "Gjentakelse")
}

func TestFormat_Tomorrow(t *testing.T) {
	got := Formatter{Location: oslo}.Format(notify.EventTomorrow{Event: quiz()})
	assert.True(t, strings.HasPrefix(got, "@here\n:calendar_spiral: Påminnelse"))
}

func TestFormat_Updated(t *testing.T) {
	oldEv := quiz()
	newEv := quiz()
	newEv.Summary = "Storquiz"
	newEv.Start = oldEv.Start.Add(30 * time.Minute)
	newEv.End = oldEv.End.Add(30 * time.Minute)
	newEv.Location = "Salen"

	got := Formatter{Location: oslo}.Format(notify.UpdatedEvent{Old: oldEv, New: newEv})

	assert.Contains(t, got, "Endret: navn, sted, tid")
	assert.Contains(t, got, "~~Quiz~~ **Storquiz**")
	assert.Contains(t, got, "**Tid:** 14/03/2026, ~~18:30 - 20:30~~ 19:00 - 21:00")
	assert.Contains(t, got, "**Sted:** ~~Kjelleren~~ Salen")
}

func TestFormat_UpdatedAcrossDays(t *testing.T) {
	oldEv := quiz()
	newEv := quiz()
	newEv.Start = oldEv.Start.AddDate(0, 0, 1)
	newEv.End = oldEv.End.AddDate(0, 0, 1)

	got := Formatter{Location: oslo}.Format(notify.UpdatedEvent{Old: oldEv, New: newEv})
	assert.Contains(t, got, "~~14/03/2026, 18:30 - 20:30~~ 15/03/2026, 18:30 - 20:30")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("æ", 2500)
	got := truncate(long, MaxContentLength)
	assert.Equal(t, MaxContentLength, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "kort", truncate("kort", MaxContentLength))
}

func TestNotifier_PostsThroughBus(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body.Content)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := bus.New()
	Subscribe(b, NewNotifier(srv.URL, oslo, time.Second))

	msg, err := notify.Encode(notify.NewEvent{Event: quiz()})
	require.NoError(t, err)
	require.NoError(t, bus.NewPublisher(b, 0, nil).Publish(context.Background(), msg))

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "**Quiz**")
}

func TestNotifier_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, oslo, time.Second)
	err := n.HandleNew(context.Background(), notify.NewEvent{Event: quiz()})

	var whErr *WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusTooManyRequests, whErr.Status)
}
