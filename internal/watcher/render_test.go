package watcher

import (
	"strings"
	"testing"
	"time"

	"ctawatch/internal/feed"
)

var testStart = time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

func TestRenderMessageBasics(t *testing.T) {
	end := feed.NewDateTime(time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC))
	a := feed.Alert{
		ID:               42,
		Headline:         "Red Line delayed",
		ShortDescription: "Trains are standing at Howard.",
		EventStart:       feed.NewDateTime(testStart),
		EventEnd:         &end,
		AlertURL:         "http://example.com/alert/42",
		ImpactedServices: []feed.Service{
			{Type: feed.TrainRoute, ID: "Red", Name: "Red Line"},
			{Type: feed.TrainRoute, ID: "Blue", Name: "Blue Line"},
		},
	}

	msg := RenderMessage(a)
	for _, want := range []string{
		"Red Line delayed",
		"Trains are standing at Howard.",
		"Starts: Sat Mar 1 2025, 2:30 PM",
		"Ends: Sun Mar 2 2025, 6:00 AM",
		"Affected: Red Line, Blue Line",
		"http://example.com/alert/42",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "⚠️") {
		t.Fatalf("non-major alert must not carry the warning prefix:\n%s", msg)
	}
}

func TestRenderMessageMajorPrefix(t *testing.T) {
	a := feed.Alert{
		Headline:   "Service suspended",
		EventStart: feed.NewDateTime(testStart),
		MajorAlert: true,
	}
	if msg := RenderMessage(a); !strings.HasPrefix(msg, "⚠️ Service suspended") {
		t.Fatalf("expected warning prefix:\n%s", msg)
	}
}

func TestRenderMessageTBDWinsOverEventEnd(t *testing.T) {
	end := feed.NewDateTime(time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC))
	a := feed.Alert{
		Headline:   "x",
		EventStart: feed.NewDateTime(testStart),
		EventEnd:   &end,
		TBD:        true,
	}
	msg := RenderMessage(a)
	if !strings.Contains(msg, "Ends: TBD") {
		t.Fatalf("TBD flag must render the literal:\n%s", msg)
	}
	if strings.Contains(msg, "6:00 AM") {
		t.Fatalf("TBD must suppress the end timestamp:\n%s", msg)
	}
}

func TestRenderMessageOpenEnded(t *testing.T) {
	a := feed.Alert{Headline: "x", EventStart: feed.NewDateTime(testStart)}
	if msg := RenderMessage(a); !strings.Contains(msg, "Ends: open-ended") {
		t.Fatalf("nil EventEnd without TBD must render open-ended:\n%s", msg)
	}
}

func TestRenderMessageDateOnlyStart(t *testing.T) {
	a := feed.Alert{
		Headline:   "x",
		EventStart: feed.NewDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	msg := RenderMessage(a)
	if !strings.Contains(msg, "Starts: Sat Mar 1 2025") {
		t.Fatalf("date-only start missing:\n%s", msg)
	}
	if strings.Contains(msg, "12:00 AM") {
		t.Fatalf("date-only start must not render a clock:\n%s", msg)
	}
}
