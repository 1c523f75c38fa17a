package storage

import (
	"context"
	"sync"
	"time"

	"restock-bot/internal/restock"
)

// MemCache keeps items in process memory. It is not durable and is meant
// for tests and dry runs.
type MemCache struct {
	items map[string]*restock.Item
	mu    sync.Mutex
}

func NewMemCache() *MemCache {
	return &MemCache{
		items: make(map[string]*restock.Item),
	}
}

func (c *MemCache) Get(ctx context.Context, id string) (*restock.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return nil, restock.ErrNotFound
	}

	return item.Clone(), nil
}

func (c *MemCache) UpsertSubscription(ctx context.Context, id string, subscriber restock.SubscriberID, snapshot restock.Snapshot, checkedAt time.Time) (*restock.Item, restock.SubscribeOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		item = &restock.Item{
			ID:          id,
			Title:       snapshot.Title,
			Status:      snapshot.Purchasable,
			CheckedAt:   checkedAt,
			Subscribers: make(map[restock.SubscriberID]bool),
		}

		c.items[id] = item
	}

	outcome := subscribeOutcome(item.Subscribers, subscriber)
	if outcome != restock.AlreadySubscribed {
		item.Subscribers[subscriber] = true
		item.UpdatedAt = checkedAt
	}

	return item.Clone(), outcome, nil
}

func (c *MemCache) Deactivate(ctx context.Context, id string, subscriber restock.SubscriberID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok || !item.Subscribers[subscriber] {
		return false, nil
	}

	item.Subscribers[subscriber] = false
	item.UpdatedAt = time.Now()
	return true, nil
}

func (c *MemCache) SetStatus(ctx context.Context, id string, status bool, title string, checkedAt time.Time) (bool, *restock.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return false, nil, restock.ErrNotFound
	}

	previous := item.Status
	if previous != status {
		item.Status = status
		item.CheckedAt = checkedAt
		if title != "" {
			item.Title = title
		}
	}

	return previous, item.Clone(), nil
}

func (c *MemCache) ListAll(ctx context.Context) ([]*restock.Item, error) {
	return c.filter(func(*restock.Item) bool { return true }), nil
}

func (c *MemCache) FindBySubscriber(ctx context.Context, subscriber restock.SubscriberID) ([]*restock.Item, error) {
	return c.filter(func(item *restock.Item) bool { return item.IsActive(subscriber) }), nil
}

func (c *MemCache) Prune(ctx context.Context, before time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := 0
	for id, item := range c.items {
		if abandoned(item, before) {
			delete(c.items, id)
			pruned++
		}
	}

	return pruned, nil
}

func (c *MemCache) Close() error {
	return nil
}

func (c *MemCache) filter(accept func(*restock.Item) bool) []*restock.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]*restock.Item, 0, len(c.items))
	for _, item := range c.items {
		if accept(item) {
			items = append(items, item.Clone())
		}
	}

	restock.SortByID(items)
	return items
}

func subscribeOutcome(subscribers map[restock.SubscriberID]bool, subscriber restock.SubscriberID) restock.SubscribeOutcome {
	active, known := subscribers[subscriber]
	switch {
	case active:
		return restock.AlreadySubscribed
	case known:
		return restock.Resubscribed
	default:
		return restock.Subscribed
	}
}

func abandoned(item *restock.Item, before time.Time) bool {
	return len(item.Active()) == 0 && item.UpdatedAt.Before(before)
}
