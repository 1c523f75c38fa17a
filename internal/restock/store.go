package restock

import (
	"context"
	"time"
)

// Store persists items together with their subscribers.
//
// Every mutation is atomic for a single item, and concurrent mutations of
// the same item are serialized. Returned items are copies.
type Store interface {
	Get(ctx context.Context, id string) (*Item, error)

	// UpsertSubscription sets the subscriber flag, creating the item from
	// snapshot if it does not exist yet. The status and title of an existing
	// item are left as they are: only SetStatus writes them.
	UpsertSubscription(ctx context.Context, id string, subscriber SubscriberID, snapshot Snapshot, checkedAt time.Time) (*Item, SubscribeOutcome, error)

	// Deactivate clears the subscriber flag. It returns false if the item
	// does not exist or the subscriber was not active.
	Deactivate(ctx context.Context, id string, subscriber SubscriberID) (bool, error)

	// SetStatus stores a freshly fetched status and returns the previous one
	// along with the item as it is after the write. Nothing is written if the
	// status has not changed.
	SetStatus(ctx context.Context, id string, status bool, title string, checkedAt time.Time) (bool, *Item, error)

	ListAll(ctx context.Context) ([]*Item, error)
	FindBySubscriber(ctx context.Context, subscriber SubscriberID) ([]*Item, error)

	// Prune deletes items without active subscribers whose subscriptions
	// have not changed since before.
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}

// Fetcher reads the current state of a catalog item.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Snapshot, error)
	Link(id string) string
}

// Notifier delivers a message to a subscriber.
type Notifier interface {
	Notify(ctx context.Context, subscriber SubscriberID, text string) error
}
