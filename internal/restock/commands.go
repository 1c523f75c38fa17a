package restock

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

const (
	catalogPath   = "/catalog/"
	invalidIDText = "Unable to parse the catalog id. Send me an id like MLP23RU-A."
)

// NormalizeID accepts a bare catalog id or a catalog link and returns the id.
// Query and fragment of a link are ignored.
func NormalizeID(text string) (string, error) {
	id := strings.TrimSpace(text)
	if strings.Contains(id, catalogPath) {
		link, err := url.Parse(id)
		if err != nil {
			return "", errors.Wrapf(ErrInvalidID, "%q: %v", text, err)
		}

		idx := strings.Index(link.Path, catalogPath)
		if idx < 0 {
			return "", errors.Wrapf(ErrInvalidID, "%q", text)
		}

		id = strings.SplitN(strings.TrimLeft(link.Path[idx+len(catalogPath):], "/"), "/", 2)[0]
	}

	if !idRegexp.MatchString(id) {
		return "", errors.Wrapf(ErrInvalidID, "%q", text)
	}

	return id, nil
}

// Popularity is an item with its number of active subscribers.
type Popularity struct {
	Item  *Item
	Count int
}

// Commands implements the subscriber-facing operations on top of a Store.
type Commands struct {
	store   Store
	fetcher Fetcher
	now     func() time.Time
}

func NewCommands(store Store, fetcher Fetcher) *Commands {
	return &Commands{
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// Subscribe validates id against the catalog and activates the subscription.
// Nothing is stored if the validation fetch fails.
func (c *Commands) Subscribe(ctx context.Context, subscriber SubscriberID, id string) (*Item, SubscribeOutcome, error) {
	snapshot, err := c.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, 0, &FetchError{ID: id, Err: err}
	}

	item, outcome, err := c.store.UpsertSubscription(ctx, id, subscriber, snapshot, c.now())
	if err != nil {
		return nil, 0, errors.Wrapf(err, "subscribe %d to %s", subscriber, id)
	}

	return item, outcome, nil
}

func (c *Commands) Unsubscribe(ctx context.Context, subscriber SubscriberID, id string) error {
	ok, err := c.store.Deactivate(ctx, id, subscriber)
	if err != nil {
		return errors.Wrapf(err, "unsubscribe %d from %s", subscriber, id)
	}

	if !ok {
		return ErrNothingToUnsubscribe
	}

	return nil
}

func (c *Commands) ListSubscriptions(ctx context.Context, subscriber SubscriberID) ([]*Item, error) {
	items, err := c.store.FindBySubscriber(ctx, subscriber)
	if err != nil {
		return nil, errors.Wrapf(err, "list subscriptions of %d", subscriber)
	}

	SortByID(items)
	return items, nil
}

// Top returns up to n items with the most active subscribers.
func (c *Commands) Top(ctx context.Context, n int) ([]Popularity, error) {
	items, err := c.store.ListAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}

	top := make([]Popularity, 0, len(items))
	for _, item := range items {
		if count := len(item.Active()); count > 0 {
			top = append(top, Popularity{Item: item, Count: count})
		}
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}

		return top[i].Item.ID < top[j].Item.ID
	})

	if len(top) > n {
		top = top[:n]
	}

	return top, nil
}

// Handlers

func (c *Commands) HandleSubscribe(ctx context.Context, subscriber SubscriberID, text string) string {
	id, err := NormalizeID(text)
	if err != nil {
		return invalidIDText
	}

	logger := log.WithFields(log.Fields{"subscriber": subscriber, "item": id})
	item, outcome, err := c.Subscribe(ctx, subscriber, id)
	if err == nil {
		logger.WithField("outcome", outcome).Info("subscribed")
		return subscribeText(item, outcome)
	}

	if IsValidation(err) {
		logger.WithError(err).Info("subscription rejected")
	} else {
		logger.WithError(err).Warn("subscription failed")
	}

	var fetchErr *FetchError
	switch {
	case errors.Is(err, ErrUnknownItem):
		return fmt.Sprintf("Catalog id [%s] does not exist, check %s", id, c.fetcher.Link(id))
	case errors.Is(err, ErrUnreadableItem):
		return fmt.Sprintf("Catalog item [%s] exists but its page could not be read. Try again later.", id)
	case errors.As(err, &fetchErr):
		return fmt.Sprintf("Unable to check [%s] right now. Try again later.", id)
	default:
		return "Subscribe failed."
	}
}

func (c *Commands) HandleUnsubscribe(ctx context.Context, subscriber SubscriberID, text string) string {
	id, err := NormalizeID(text)
	if err != nil {
		return invalidIDText
	}

	logger := log.WithFields(log.Fields{"subscriber": subscriber, "item": id})
	switch err := c.Unsubscribe(ctx, subscriber, id); {
	case err == nil:
		logger.Info("unsubscribed")
		return fmt.Sprintf("Unsubscribed from [%s].", id)
	case errors.Is(err, ErrNothingToUnsubscribe):
		return "Nothing to unsubscribe."
	default:
		logger.WithError(err).Warn("unsubscribe failed")
		return "Unsubscribe failed."
	}
}

func (c *Commands) HandleList(ctx context.Context, subscriber SubscriberID) string {
	items, err := c.ListSubscriptions(ctx, subscriber)
	if err != nil {
		log.WithError(err).WithField("subscriber", subscriber).Warn("list failed")
		return "Oops, something wrong happened."
	}

	return listText(items)
}

func (c *Commands) HandleTop(ctx context.Context, n int) string {
	top, err := c.Top(ctx, n)
	if err != nil {
		log.WithError(err).Warn("top failed")
		return "Oops, something wrong happened."
	}

	return topText(top)
}
