package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"ctawatch/internal/feed"
	logx "ctawatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. Reads during
	// lookup still proceed under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const alertColumns = `alert_id, headline, short_description, full_description,
	severity_score, severity_color, impact, tbd, major_alert, alert_url,
	impacted_services, published_to`

func (s *sqliteStore) AlertsByIDs(ctx context.Context, ids []int) ([]PersistedAlert, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM current_alerts WHERE alert_id IN (`+strings.Join(ph, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup alerts: %w", err)
	}
	defer rows.Close()

	var out []PersistedAlert
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("lookup alerts: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup alerts: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) InsertAlert(ctx context.Context, rec PersistedAlert) error {
	services, err := json.Marshal(rec.ImpactedServices)
	if err != nil {
		return fmt.Errorf("insert alert %d: encode services: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO current_alerts(`+alertColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Headline, rec.ShortDescription, rec.FullDescription,
		rec.SeverityScore, rec.SeverityColor, rec.Impact,
		boolInt(rec.TBD), boolInt(rec.MajorAlert), rec.AlertURL,
		string(services), rec.PublishedTo,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert alert %d: %w", rec.ID, ErrAlertExists)
		}
		return fmt.Errorf("insert alert %d: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteStore) UpdateAlert(ctx context.Context, rec PersistedAlert, addPublished int) error {
	if addPublished < 0 {
		addPublished = 0
	}
	services, err := json.Marshal(rec.ImpactedServices)
	if err != nil {
		return fmt.Errorf("update alert %d: encode services: %w", rec.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE current_alerts SET
			headline = ?, short_description = ?, full_description = ?,
			severity_score = ?, severity_color = ?, impact = ?,
			tbd = ?, major_alert = ?, alert_url = ?, impacted_services = ?,
			published_to = published_to + ?
		 WHERE alert_id = ?`,
		rec.Headline, rec.ShortDescription, rec.FullDescription,
		rec.SeverityScore, rec.SeverityColor, rec.Impact,
		boolInt(rec.TBD), boolInt(rec.MajorAlert), rec.AlertURL, string(services),
		addPublished, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert %d: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update alert %d: no such row", rec.ID)
	}
	return nil
}

func (s *sqliteStore) SubscribedRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, name, has_alerts, alert_channel,
			accessibility_alerts, planned_alerts, route_ids
		 FROM recipients WHERE has_alerts = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var (
			r        Recipient
			name     sql.NullString
			channel  sql.NullInt64
			routeIDs sql.NullString
			hasA, ac, pl int
		)
		if err := rows.Scan(&r.RecipientID, &name, &hasA, &channel, &ac, &pl, &routeIDs); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		r.Name = name.String
		r.HasAlerts = hasA != 0
		r.AccessibilityAlerts = ac != 0
		r.PlannedAlerts = pl != 0
		if channel.Valid {
			v := channel.Int64
			r.AlertChannel = &v
		}
		if routeIDs.Valid && strings.TrimSpace(routeIDs.String) != "" {
			if err := json.Unmarshal([]byte(routeIDs.String), &r.RouteIDs); err != nil {
				return nil, fmt.Errorf("list recipients: route_ids for %d: %w", r.RecipientID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return out, nil
}

func scanAlert(rows *sql.Rows) (PersistedAlert, error) {
	var (
		rec      PersistedAlert
		tbd, maj int
		services string
	)
	if err := rows.Scan(
		&rec.ID, &rec.Headline, &rec.ShortDescription, &rec.FullDescription,
		&rec.SeverityScore, &rec.SeverityColor, &rec.Impact,
		&tbd, &maj, &rec.AlertURL, &services, &rec.PublishedTo,
	); err != nil {
		return PersistedAlert{}, err
	}
	rec.TBD = tbd != 0
	rec.MajorAlert = maj != 0
	if strings.TrimSpace(services) != "" {
		var list []feed.Service
		if err := json.Unmarshal([]byte(services), &list); err != nil {
			return PersistedAlert{}, fmt.Errorf("decode services for alert %d: %w", rec.ID, err)
		}
		rec.ImpactedServices = list
	}
	return rec, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
