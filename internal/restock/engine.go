package restock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 4

type EngineConfig struct {
	// Concurrency caps parallel fetches within one tick.
	Concurrency int64
	// Retention enables pruning of abandoned items when positive.
	Retention time.Duration
}

// TickReport summarises one reconciliation pass.
type TickReport struct {
	Checked     int
	Failed      int
	Transitions int
	Notified    int
	Undelivered int
	Dropped     int
	Pruned      int
}

func (r *TickReport) add(other TickReport) {
	r.Checked += other.Checked
	r.Failed += other.Failed
	r.Transitions += other.Transitions
	r.Notified += other.Notified
	r.Undelivered += other.Undelivered
	r.Dropped += other.Dropped
	r.Pruned += other.Pruned
}

func (r TickReport) fields() log.Fields {
	return log.Fields{
		"checked":     r.Checked,
		"failed":      r.Failed,
		"transitions": r.Transitions,
		"notified":    r.Notified,
		"undelivered": r.Undelivered,
		"dropped":     r.Dropped,
		"pruned":      r.Pruned,
	}
}

// Engine re-fetches every tracked item and notifies subscribers about
// status transitions.
//
// The stored title is refreshed only together with a status transition: a
// re-fetch that observes the same status writes nothing, even when the page
// title has changed since. Subscribers whose chats are gone for good
// (ErrSubscriberGone) are deactivated.
type Engine struct {
	store    Store
	fetcher  Fetcher
	notifier Notifier
	metrics  *Metrics
	config   EngineConfig
	now      func() time.Time
}

func NewEngine(store Store, fetcher Fetcher, notifier Notifier, metrics *Metrics, config EngineConfig) *Engine {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Engine{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  metrics,
		config:   config,
		now:      time.Now,
	}
}

// Tick runs one reconciliation pass over a snapshot of all items.
// A failure with one item or one subscriber never affects the others.
func (e *Engine) Tick(ctx context.Context) TickReport {
	start := time.Now()
	logger := log.WithField("tick", uuid.NewString())
	e.metrics.Ticks.Inc()
	defer func() {
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	var report TickReport
	items, err := e.store.ListAll(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to list items")
		return report
	}

	logger.WithField("items", len(items)).Info("tick started")

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(e.config.Concurrency)
	)

	for _, item := range items {
		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("tick interrupted")
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			logger.WithError(err).Warn("tick interrupted")
			break
		}

		wg.Add(1)
		go func(item *Item) {
			defer wg.Done()
			defer sem.Release(1)
			result := e.reconcile(ctx, logger.WithField("item", item.ID), item)
			mu.Lock()
			report.add(result)
			mu.Unlock()
		}(item)
	}

	wg.Wait()

	if e.config.Retention > 0 && ctx.Err() == nil {
		pruned, err := e.store.Prune(ctx, e.now().Add(-e.config.Retention))
		if err != nil {
			logger.WithError(err).Error("failed to prune items")
		}

		report.Pruned = pruned
	}

	logger.WithFields(report.fields()).
		WithField("duration", time.Since(start).String()).
		Info("tick finished")

	return report
}

func (e *Engine) reconcile(ctx context.Context, logger *log.Entry, item *Item) (report TickReport) {
	snapshot, err := e.fetcher.Fetch(ctx, item.ID)
	if err != nil {
		e.metrics.FetchErrors.Inc()
		logger.WithError(err).Warn("fetch failed, item skipped")
		report.Failed = 1
		return
	}

	e.metrics.Checked.Inc()
	report.Checked = 1
	if snapshot.Purchasable == item.Status {
		return
	}

	previous, current, err := e.store.SetStatus(ctx, item.ID, snapshot.Purchasable, snapshot.Title, e.now())
	if err != nil {
		logger.WithError(err).Error("failed to store status")
		report.Failed = 1
		return
	}

	if previous == snapshot.Purchasable {
		logger.Debug("transition already stored")
		return
	}

	e.metrics.Transitions.Inc()
	report.Transitions = 1
	logger.WithFields(log.Fields{
		"previous": previous,
		"status":   current.Status,
	}).Info("status changed")

	text := NotificationText(current, e.fetcher.Link(current.ID))
	for _, subscriber := range current.Active() {
		if err := e.notifier.Notify(ctx, subscriber, text); err != nil {
			report.Undelivered++
			if errors.Is(err, ErrSubscriberGone) {
				e.metrics.Notifications.WithLabelValues("gone").Inc()
				report.Dropped += e.drop(ctx, logger.WithField("subscriber", subscriber), current.ID, subscriber, err)
				continue
			}

			e.metrics.Notifications.WithLabelValues("failed").Inc()
			logger.WithError(err).WithField("subscriber", subscriber).Warn("notification failed")
			continue
		}

		e.metrics.Notifications.WithLabelValues("sent").Inc()
		report.Notified++
	}

	return
}

// drop deactivates a subscriber that can no longer receive messages.
func (e *Engine) drop(ctx context.Context, logger *log.Entry, id string, subscriber SubscriberID, cause error) int {
	logger.WithError(cause).Info("subscriber is gone, deactivating")
	ok, err := e.store.Deactivate(ctx, id, subscriber)
	if err != nil {
		logger.WithError(err).Error("failed to deactivate gone subscriber")
		return 0
	}

	if !ok {
		return 0
	}

	return 1
}
