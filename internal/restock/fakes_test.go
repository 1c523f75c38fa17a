package restock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"restock-bot/internal/restock"
	"restock-bot/internal/storage"
)

type fetchResult struct {
	snapshot restock.Snapshot
	err      error
}

type fakeFetcher struct {
	results map[string]fetchResult
	calls   map[string]int
	hook    func(id string)
	mu      sync.Mutex
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]fetchResult),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) set(id, title string, purchasable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = fetchResult{snapshot: restock.Snapshot{Title: title, Purchasable: purchasable}}
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = fetchResult{err: err}
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (restock.Snapshot, error) {
	f.mu.Lock()
	f.calls[id]++
	result, ok := f.results[id]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	if !ok {
		return restock.Snapshot{}, restock.ErrUnknownItem
	}

	return result.snapshot, result.err
}

func (f *fakeFetcher) Link(id string) string {
	return "https://catalog.test/catalog/" + id + "/"
}

type recordingNotifier struct {
	sent    map[restock.SubscriberID][]string
	failing map[restock.SubscriberID]bool
	gone    map[restock.SubscriberID]bool
	mu      sync.Mutex
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		sent:    make(map[restock.SubscriberID][]string),
		failing: make(map[restock.SubscriberID]bool),
		gone:    make(map[restock.SubscriberID]bool),
	}
}

func (n *recordingNotifier) Notify(ctx context.Context, subscriber restock.SubscriberID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing[subscriber] {
		return errors.New("too many requests")
	}

	if n.gone[subscriber] {
		return errors.Wrap(restock.ErrSubscriberGone, "Forbidden: bot was blocked by the user")
	}

	n.sent[subscriber] = append(n.sent[subscriber], text)
	return nil
}

func (n *recordingNotifier) messages(subscriber restock.SubscriberID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[subscriber]...)
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, messages := range n.sent {
		total += len(messages)
	}

	return total
}

// countingStore counts writes going to the wrapped store.
type countingStore struct {
	restock.Store
	setStatus int32
	upserts   int32
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewMemCache()}
}

func (s *countingStore) SetStatus(ctx context.Context, id string, status bool, title string, checkedAt time.Time) (bool, *restock.Item, error) {
	atomic.AddInt32(&s.setStatus, 1)
	return s.Store.SetStatus(ctx, id, status, title, checkedAt)
}

func (s *countingStore) UpsertSubscription(ctx context.Context, id string, subscriber restock.SubscriberID, snapshot restock.Snapshot, checkedAt time.Time) (*restock.Item, restock.SubscribeOutcome, error) {
	atomic.AddInt32(&s.upserts, 1)
	return s.Store.UpsertSubscription(ctx, id, subscriber, snapshot, checkedAt)
}

func (s *countingStore) writes() int32 {
	return atomic.LoadInt32(&s.setStatus)
}
