package storage

import (
	"errors"
	"time"

	"ctawatch/internal/feed"
)

// ErrAlertExists is returned by InsertAlert when a row with the same alert id
// is already persisted. The reconciler must never insert an id it already
// looked up, so hitting this indicates a caller bug or a concurrent writer.
var ErrAlertExists = errors.New("alert already persisted")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process store, state lost on restart
//   - "sqlite": SQLite database file
//
// Empty driver defaults to memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PersistedAlert is the durable counterpart of feed.Alert: the same
// descriptive fields denormalized into a row, plus the cumulative count of
// recipients successfully notified.
//
// At most one row exists per alert id. Once written, the row is the source of
// truth for "has this alert already been announced". Rows are never deleted
// here; retention is an operator concern.
type PersistedAlert struct {
	ID               int
	Headline         string
	ShortDescription string
	FullDescription  string
	SeverityScore    int
	SeverityColor    string
	Impact           string
	TBD              bool
	MajorAlert       bool
	AlertURL         string
	ImpactedServices []feed.Service
	PublishedTo      int
}

// Recipient is one destination eligible for alert delivery. Rows are owned by
// the registry side; this pipeline only reads them.
//
// AccessibilityAlerts, PlannedAlerts and RouteIDs are carried for the fetch
// parameter construction and as extension points for per-recipient filtering;
// the fan-out itself does not filter on them.
type Recipient struct {
	RecipientID         int64
	Name                string
	HasAlerts           bool
	AlertChannel        *int64
	AccessibilityAlerts bool
	PlannedAlerts       bool
	RouteIDs            []string
}

// FromAlert builds the persisted row for an alert first seen this cycle.
func FromAlert(a feed.Alert, publishedTo int) PersistedAlert {
	return PersistedAlert{
		ID:               a.ID,
		Headline:         a.Headline,
		ShortDescription: a.ShortDescription,
		FullDescription:  a.FullDescription,
		SeverityScore:    a.SeverityScore,
		SeverityColor:    a.SeverityColor,
		Impact:           a.Impact,
		TBD:              a.TBD,
		MajorAlert:       a.MajorAlert,
		AlertURL:         a.AlertURL,
		ImpactedServices: a.ImpactedServices,
		PublishedTo:      publishedTo,
	}
}
