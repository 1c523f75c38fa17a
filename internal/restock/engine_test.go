package restock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restock-bot/internal/restock"
)

func seed(t *testing.T, store restock.Store, id, title string, status bool, subscribers ...restock.SubscriberID) {
	t.Helper()
	for _, subscriber := range subscribers {
		_, _, err := store.UpsertSubscription(context.Background(), id, subscriber, restock.Snapshot{Title: title, Purchasable: status}, time.Now())
		require.NoError(t, err)
	}
}

func TestEngine_UnchangedStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1, 2)
	seed(t, store, "B2", "Gadget", true, 1)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", false)
	fetcher.set("B2", "Gadget", true)
	notifier := newRecordingNotifier()

	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	report := engine.Tick(ctx)

	assert.Equal(t, 2, report.Checked)
	assert.Zero(t, report.Transitions)
	assert.Zero(t, store.writes())
	assert.Zero(t, notifier.total())
}

func TestEngine_TransitionNotifiesActiveSubscribersOnce(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1, 2, 3)
	ok, err := store.Deactivate(ctx, "A1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget Pro", true)
	notifier := newRecordingNotifier()

	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	report := engine.Tick(ctx)

	assert.Equal(t, 1, report.Transitions)
	assert.Equal(t, 2, report.Notified)
	assert.EqualValues(t, 1, store.writes())
	for _, subscriber := range []restock.SubscriberID{1, 2} {
		messages := notifier.messages(subscriber)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Widget Pro [A1] is now available for purchase")
		assert.Contains(t, messages[0], fetcher.Link("A1"))
	}

	assert.Empty(t, notifier.messages(3))

	item, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, item.Status)
	assert.Equal(t, "Widget Pro", item.Title)

	report = engine.Tick(ctx)
	assert.Zero(t, report.Transitions)
	assert.Equal(t, 2, notifier.total())
	assert.EqualValues(t, 1, store.writes())
}

func TestEngine_FetchFailureLeavesStatusUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", true, 1)
	seed(t, store, "B2", "Gadget", false, 1)

	fetcher := newFakeFetcher()
	fetcher.fail("A1", errors.New("connection reset by peer"))
	fetcher.set("B2", "Gadget", true)
	notifier := newRecordingNotifier()

	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	report := engine.Tick(ctx)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Transitions)

	item, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, item.Status)

	messages := notifier.messages(1)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "[B2]")
}

func TestEngine_DeliveryFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", true, 1, 2)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", false)
	notifier := newRecordingNotifier()
	notifier.failing[1] = true

	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	report := engine.Tick(ctx)

	assert.Equal(t, 1, report.Undelivered)
	assert.Equal(t, 1, report.Notified)
	require.Len(t, notifier.messages(2), 1)
	assert.Contains(t, notifier.messages(2)[0], "not available for purchase anymore")

	item, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, item.Status)

	report = engine.Tick(ctx)
	assert.Zero(t, report.Undelivered)
	assert.Zero(t, report.Notified)
}

func TestEngine_GoneSubscriberIsDeactivated(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1, 2, 3)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", true)
	notifier := newRecordingNotifier()
	notifier.gone[2] = true
	notifier.failing[3] = true

	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	report := engine.Tick(ctx)

	assert.Equal(t, 1, report.Notified)
	assert.Equal(t, 2, report.Undelivered)
	assert.Equal(t, 1, report.Dropped)

	item, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, []restock.SubscriberID{1, 3}, item.Active())

	fetcher.set("A1", "Widget", false)
	report = engine.Tick(ctx)
	assert.Equal(t, 1, report.Transitions)
	assert.Zero(t, report.Dropped)
	assert.Len(t, notifier.messages(1), 2)
}

func TestEngine_ConcurrentTicksNotifyOnce(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1, 2)

	var arrived sync.WaitGroup
	arrived.Add(2)
	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", true)
	fetcher.hook = func(string) {
		arrived.Done()
		arrived.Wait()
	}

	notifier := newRecordingNotifier()
	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})

	reports := make([]restock.TickReport, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = engine.Tick(ctx)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, reports[0].Transitions+reports[1].Transitions)
	assert.EqualValues(t, 2, store.writes())
	assert.Len(t, notifier.messages(1), 1)
	assert.Len(t, notifier.messages(2), 1)
}

func TestEngine_SubscriberJoiningAfterTransitionIsNotNotified(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", true)
	notifier := newRecordingNotifier()
	engine := restock.NewEngine(store, fetcher, notifier, nil, restock.EngineConfig{})
	engine.Tick(ctx)

	seed(t, store, "A1", "Widget", false, 2)
	engine.Tick(ctx)

	assert.Len(t, notifier.messages(1), 1)
	assert.Empty(t, notifier.messages(2))
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	fetcher := newFakeFetcher()
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		seed(t, store, id, id, false, 1)
		fetcher.set(id, id, false)
	}

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)

	fetcher.hook = func(string) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	engine := restock.NewEngine(store, fetcher, newRecordingNotifier(), nil, restock.EngineConfig{Concurrency: 2})
	report := engine.Tick(ctx)

	assert.Equal(t, 6, report.Checked)
	assert.LessOrEqual(t, peak, 2)
}

func TestEngine_CancelledTickStopsLaunchingFetches(t *testing.T) {
	store := newCountingStore()
	fetcher := newFakeFetcher()
	for _, id := range []string{"A", "B", "C"} {
		seed(t, store, id, id, false, 1)
		fetcher.set(id, id, true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := restock.NewEngine(store, fetcher, newRecordingNotifier(), nil, restock.EngineConfig{Concurrency: 1})
	report := engine.Tick(ctx)

	assert.Zero(t, report.Checked)
	assert.Zero(t, store.writes())
}

func TestEngine_Prune(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1)
	seed(t, store, "B2", "Gadget", false, 2)
	_, err := store.Deactivate(ctx, "A1", 1)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", false)
	fetcher.set("B2", "Gadget", false)

	engine := restock.NewEngine(store, fetcher, newRecordingNotifier(), nil, restock.EngineConfig{Retention: time.Millisecond})
	report := engine.Tick(ctx)
	assert.Equal(t, 1, report.Pruned)

	_, err = store.Get(ctx, "A1")
	assert.ErrorIs(t, err, restock.ErrNotFound)
	_, err = store.Get(ctx, "B2")
	assert.NoError(t, err)
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, "A1", "Widget", false, 1, 2)
	seed(t, store, "B2", "Gadget", false, 1)

	fetcher := newFakeFetcher()
	fetcher.set("A1", "Widget", true)
	fetcher.fail("B2", errors.New("timeout"))
	seed(t, store, "C3", "Gizmo", false, 3)
	fetcher.set("C3", "Gizmo", true)
	notifier := newRecordingNotifier()
	notifier.failing[2] = true
	notifier.gone[3] = true

	metrics := restock.NewMetrics(prometheus.NewRegistry())
	engine := restock.NewEngine(store, fetcher, notifier, metrics, restock.EngineConfig{})
	engine.Tick(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Ticks))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Checked))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FetchErrors))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Transitions))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications.WithLabelValues("sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Notifications.WithLabelValues("gone")))
}
