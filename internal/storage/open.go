package storage

import (
	"context"
	"errors"
	"strings"

	logx "ctawatch/pkg/logx"
)

// Store is the persistence boundary of the alert pipeline: previously
// announced alerts plus the read side of the recipient registry.
type Store interface {
	// AlertsByIDs returns the persisted rows matching ids; missing ids are
	// simply absent from the result.
	AlertsByIDs(ctx context.Context, ids []int) ([]PersistedAlert, error)
	// InsertAlert records an alert's first announcement. A duplicate id is
	// ErrAlertExists; the existing row (and its publish count) is untouched.
	InsertAlert(ctx context.Context, rec PersistedAlert) error
	// UpdateAlert refreshes the descriptive fields of an existing row and
	// adds addPublished to the cumulative publish count. The count never
	// decreases.
	UpdateAlert(ctx context.Context, rec PersistedAlert, addPublished int) error
	// SubscribedRecipients returns recipients opted in to alert delivery
	// (has_alerts = true only).
	SubscribedRecipients(ctx context.Context) ([]Recipient, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
