package restock

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by a Store when no record exists for an id.
	ErrNotFound = errors.New("item not found")

	// ErrUnknownItem is returned by a Fetcher when the catalog has no such item.
	ErrUnknownItem = errors.New("item does not exist")

	// ErrUnreadableItem is returned by a Fetcher when the item page exists
	// but does not look like a product page.
	ErrUnreadableItem = errors.New("item page is unreadable")

	// ErrSubscriberGone is returned by a Notifier when the subscriber chat
	// no longer accepts messages (deleted, blocked the bot, bot removed).
	ErrSubscriberGone = errors.New("subscriber is gone")

	ErrInvalidID            = errors.New("invalid catalog id")
	ErrNothingToUnsubscribe = errors.New("nothing to unsubscribe")
)

// IsValidation reports whether err rejects a subscribe request for good.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownItem) || errors.Is(err, ErrInvalidID)
}

// FetchError reports that an item could not be fetched.
type FetchError struct {
	ID  string
	Err error
}

func (e *FetchError) Error() string {
	return "fetch " + e.ID + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
