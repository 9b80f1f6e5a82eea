package watcher

import (
	"strings"

	"ctawatch/internal/feed"
)

const (
	renderDateTime = "Mon Jan 2 2006, 3:04 PM"
	renderDate     = "Mon Jan 2 2006"
)

// RenderMessage formats one alert for delivery. Plain text; the start time
// renders without a clock when the feed supplied only a date, and the end
// line shows a literal "TBD" whenever the flag is set, regardless of any
// EventEnd value the feed happened to include.
func RenderMessage(a feed.Alert) string {
	var b strings.Builder

	if a.MajorAlert {
		b.WriteString("⚠️ ")
	}
	b.WriteString(a.Headline)
	b.WriteString("\n")
	if a.ShortDescription != "" {
		b.WriteString(a.ShortDescription)
		b.WriteString("\n")
	}

	b.WriteString("\nStarts: ")
	b.WriteString(renderWhen(a.EventStart))

	b.WriteString("\nEnds: ")
	switch {
	case a.TBD:
		b.WriteString("TBD")
	case a.EventEnd == nil:
		b.WriteString("open-ended")
	default:
		b.WriteString(renderWhen(*a.EventEnd))
	}

	if names := serviceNames(a.ImpactedServices); names != "" {
		b.WriteString("\nAffected: ")
		b.WriteString(names)
	}
	if a.AlertURL != "" {
		b.WriteString("\n")
		b.WriteString(a.AlertURL)
	}
	return b.String()
}

func renderWhen(d feed.DateOrDateTime) string {
	if d.DateOnly() {
		return d.Time().Format(renderDate)
	}
	return d.Time().Format(renderDateTime)
}

func serviceNames(services []feed.Service) string {
	if len(services) == 0 {
		return ""
	}
	names := make([]string, 0, len(services))
	for _, s := range services {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return strings.Join(names, ", ")
}
