package watcher

import (
	"ctawatch/internal/feed"
	"ctawatch/internal/storage"
)

// Changed pairs a freshly fetched alert with the row it diverged from.
type Changed struct {
	Alert    feed.Alert
	Previous storage.PersistedAlert
}

// Partition is the outcome of reconciling one fetched batch against the store.
type Partition struct {
	// Untracked alerts have no persisted row yet: first-time distribution
	// candidates.
	Untracked []feed.Alert
	// Changed alerts are tracked but their headline or short description
	// differs from the persisted value (exact inequality, case-sensitive).
	Changed []Changed
	// Unchanged is the count of tracked alerts needing no action.
	Unchanged int
	// DuplicateIDs lists ids that appeared more than once within the batch.
	// Ids are assumed unique per fetch; repeats are a feed data error, the
	// first occurrence wins and later ones are skipped.
	DuplicateIDs []int
}

// Reconcile classifies fetched alerts against previously persisted rows.
// Comparison is keyed purely on id.
func Reconcile(fetched []feed.Alert, known []storage.PersistedAlert) Partition {
	byID := make(map[int]storage.PersistedAlert, len(known))
	for _, rec := range known {
		byID[rec.ID] = rec
	}

	var p Partition
	seen := make(map[int]bool, len(fetched))
	for _, a := range fetched {
		if seen[a.ID] {
			p.DuplicateIDs = append(p.DuplicateIDs, a.ID)
			continue
		}
		seen[a.ID] = true

		prev, tracked := byID[a.ID]
		switch {
		case !tracked:
			p.Untracked = append(p.Untracked, a)
		case prev.Headline != a.Headline || prev.ShortDescription != a.ShortDescription:
			p.Changed = append(p.Changed, Changed{Alert: a, Previous: prev})
		default:
			p.Unchanged++
		}
	}
	return p
}

// IDs collects the alert ids of a fetched batch for the store lookup.
func IDs(fetched []feed.Alert) []int {
	out := make([]int, 0, len(fetched))
	for _, a := range fetched {
		out = append(out, a.ID)
	}
	return out
}
