package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ctawatch/internal/feed"
	"ctawatch/internal/kit"
	"ctawatch/internal/storage"
	logx "ctawatch/pkg/logx"
)

type fakeFetcher struct {
	alerts []feed.Alert
	err    error
}

func (f *fakeFetcher) Active(ctx context.Context, opt feed.Options) ([]feed.Alert, error) {
	return f.alerts, f.err
}

type fakeSender struct {
	mu      sync.Mutex
	failFor map[int64]bool
	sent    []int64
	texts   []string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to.ChatID] {
		return kit.MessageRef{}, errors.New("send failed")
	}
	f.sent = append(f.sent, to.ChatID)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func chanID(id int64) *int64 { return &id }

func seedRecipients(m *storage.Memory) {
	m.SetRecipients([]storage.Recipient{
		{RecipientID: 1, Name: "one", HasAlerts: true, AlertChannel: chanID(101)},
		{RecipientID: 2, Name: "two", HasAlerts: true, AlertChannel: chanID(102)},
		{RecipientID: 3, Name: "three", HasAlerts: true, AlertChannel: chanID(103)},
	})
}

func newTestService(fetcher Fetcher, store storage.Store, sender kit.Sender, cfg Config) *Service {
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	return New(cfg, fetcher, store, sender, nil, logx.Nop())
}

func TestRunOnceAnnouncesUntrackedWithExactCount(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(42, "Red Line delayed", "standing at Howard")}}
	sender := &fakeSender{failFor: map[int64]bool{102: true}}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())

	rec, ok := store.Alert(42)
	if !ok {
		t.Fatalf("alert 42 not persisted")
	}
	if rec.PublishedTo != 2 {
		t.Fatalf("published_to: got %d, want 2 (one recipient failed)", rec.PublishedTo)
	}
	if sender.count() != 2 {
		t.Fatalf("sends: got %d, want 2", sender.count())
	}
}

func TestRunOnceUnchangedIsSilent(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(42, "h", "s")}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())
	first := sender.count()

	s.RunOnce(context.Background())
	if sender.count() != first {
		t.Fatalf("unchanged alert must not be redelivered: %d -> %d", first, sender.count())
	}
	rec, _ := store.Alert(42)
	if rec.PublishedTo != 3 {
		t.Fatalf("published_to must be untouched, got %d", rec.PublishedTo)
	}
}

func TestRunOnceChangedAnnounceOncePolicy(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(42, "original", "s")}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())
	first := sender.count()

	fetcher.alerts = []feed.Alert{mkAlert(42, "amended", "s")}
	s.RunOnce(context.Background())

	if sender.count() != first {
		t.Fatalf("changed alert must not be redelivered under announce-once: %d -> %d", first, sender.count())
	}
	rec, _ := store.Alert(42)
	if rec.Headline != "original" {
		t.Fatalf("announce-once must not rewrite the stored row, got %q", rec.Headline)
	}
}

func TestRunOnceChangedRedistributePolicy(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(42, "original", "s")}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{RedistributeChanged: true})
	s.RunOnce(context.Background())

	fetcher.alerts = []feed.Alert{mkAlert(42, "amended", "s")}
	s.RunOnce(context.Background())

	if sender.count() != 6 {
		t.Fatalf("redistribute must redeliver to all recipients: got %d sends", sender.count())
	}
	rec, _ := store.Alert(42)
	if rec.Headline != "amended" {
		t.Fatalf("redistribute must refresh the stored row, got %q", rec.Headline)
	}
	if rec.PublishedTo != 6 {
		t.Fatalf("published_to must accumulate, got %d", rec.PublishedTo)
	}
}

func TestRunOnceFetchErrorSkipsCycle(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())

	if sender.count() != 0 {
		t.Fatalf("a failed fetch must not deliver anything")
	}
}

func TestRunOnceNoEligibleRecipients(t *testing.T) {
	store := storage.NewMemory()
	store.SetRecipients([]storage.Recipient{
		{RecipientID: 1, HasAlerts: true, AlertChannel: nil},
		{RecipientID: 2, HasAlerts: false, AlertChannel: chanID(200)},
	})
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(7, "h", "s")}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())

	if sender.count() != 0 {
		t.Fatalf("no sends expected, got %d", sender.count())
	}
	rec, ok := store.Alert(7)
	if !ok {
		t.Fatalf("alert must still be marked announced with zero recipients")
	}
	if rec.PublishedTo != 0 {
		t.Fatalf("published_to: got %d, want 0", rec.PublishedTo)
	}
}

type failingStore struct {
	*storage.Memory
}

func (f *failingStore) SubscribedRecipients(ctx context.Context) ([]storage.Recipient, error) {
	return nil, errors.New("directory unavailable")
}

func TestRunOnceDirectoryErrorLeavesAlertUntracked(t *testing.T) {
	store := &failingStore{Memory: storage.NewMemory()}
	fetcher := &fakeFetcher{alerts: []feed.Alert{mkAlert(9, "h", "s")}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())

	if _, ok := store.Alert(9); ok {
		t.Fatalf("a directory failure must leave the alert untracked for retry")
	}
	if sender.count() != 0 {
		t.Fatalf("no sends expected, got %d", sender.count())
	}
}

func TestRunOnceDuplicateIDsProcessedOnce(t *testing.T) {
	store := storage.NewMemory()
	seedRecipients(store)
	fetcher := &fakeFetcher{alerts: []feed.Alert{
		mkAlert(5, "first", "s"),
		mkAlert(5, "second", "s"),
	}}
	sender := &fakeSender{}

	s := newTestService(fetcher, store, sender, Config{})
	s.RunOnce(context.Background())

	if sender.count() != 3 {
		t.Fatalf("duplicate id must be delivered once per recipient set, got %d sends", sender.count())
	}
	rec, _ := store.Alert(5)
	if rec.Headline != "first" {
		t.Fatalf("first occurrence must win, got %q", rec.Headline)
	}
}
