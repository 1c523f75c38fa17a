package restock

import (
	"sort"
	"time"
)

// SubscriberID identifies a chat that receives notifications.
type SubscriberID int64

// Item is a tracked catalog entry.
type Item struct {
	ID          string
	Title       string
	Status      bool
	CheckedAt   time.Time
	UpdatedAt   time.Time
	Subscribers map[SubscriberID]bool
}

// Snapshot is the result of one successful page fetch.
type Snapshot struct {
	Title       string
	Purchasable bool
}

// SubscribeOutcome tells how a subscribe request changed the subscriber flag.
type SubscribeOutcome int

const (
	Subscribed SubscribeOutcome = iota
	Resubscribed
	AlreadySubscribed
)

func (o SubscribeOutcome) String() string {
	switch o {
	case Subscribed:
		return "subscribed"
	case Resubscribed:
		return "resubscribed"
	case AlreadySubscribed:
		return "already subscribed"
	default:
		return "unknown"
	}
}

// Active returns the subscribers with a set flag in ascending order.
func (item *Item) Active() []SubscriberID {
	active := make([]SubscriberID, 0, len(item.Subscribers))
	for id, ok := range item.Subscribers {
		if ok {
			active = append(active, id)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i] < active[j]
	})

	return active
}

func (item *Item) IsActive(subscriber SubscriberID) bool {
	return item.Subscribers[subscriber]
}

func (item *Item) Clone() *Item {
	clone := *item
	clone.Subscribers = make(map[SubscriberID]bool, len(item.Subscribers))
	for id, ok := range item.Subscribers {
		clone.Subscribers[id] = ok
	}

	return &clone
}

// SortByID orders items by catalog id in place.
func SortByID(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
}
