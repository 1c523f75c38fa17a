package storage

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"restock-bot/internal/restock"
)

const itemsCollection = "items"

type itemDoc struct {
	ID          string          `firestore:"id"`
	Title       string          `firestore:"title"`
	Status      bool            `firestore:"status"`
	CheckedAt   time.Time       `firestore:"checked-at"`
	UpdatedAt   time.Time       `firestore:"updated-at"`
	Subscribers map[string]bool `firestore:"subscribers"`
}

func (doc *itemDoc) item() (*restock.Item, error) {
	item := &restock.Item{
		ID:          doc.ID,
		Title:       doc.Title,
		Status:      doc.Status,
		CheckedAt:   doc.CheckedAt,
		UpdatedAt:   doc.UpdatedAt,
		Subscribers: make(map[restock.SubscriberID]bool, len(doc.Subscribers)),
	}

	for key, active := range doc.Subscribers {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "item %s: subscriber key %q", doc.ID, key)
		}

		item.Subscribers[restock.SubscriberID(id)] = active
	}

	return item, nil
}

func subscriberKey(subscriber restock.SubscriberID) string {
	return strconv.FormatInt(int64(subscriber), 10)
}

// Firebase stores items as documents in a Cloud Firestore collection.
type Firebase struct {
	firestore *firestore.Client
}

// OpenFirebase connects with a service account JSON credential.
func OpenFirebase(ctx context.Context, credential []byte) (*Firebase, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON(credential))
	if err != nil {
		return nil, errors.Wrap(err, "create firebase app")
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create firestore client")
	}

	log.Info("firestore initialized")
	return NewFirebase(client), nil
}

func NewFirebase(client *firestore.Client) *Firebase {
	return &Firebase{firestore: client}
}

func (fb *Firebase) ref(id string) *firestore.DocumentRef {
	return fb.firestore.Collection(itemsCollection).Doc(id)
}

func (fb *Firebase) Get(ctx context.Context, id string) (*restock.Item, error) {
	dsnap, err := fb.ref(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, restock.ErrNotFound
		}

		return nil, errors.Wrapf(err, "get %s", id)
	}

	return decode(dsnap)
}

func (fb *Firebase) UpsertSubscription(ctx context.Context, id string, subscriber restock.SubscriberID, snapshot restock.Snapshot, checkedAt time.Time) (item *restock.Item, outcome restock.SubscribeOutcome, err error) {
	ref := fb.ref(id)
	key := subscriberKey(subscriber)
	err = fb.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc itemDoc
		dsnap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := dsnap.DataTo(&doc); err != nil {
				return errors.Wrapf(err, "decode %s", id)
			}
		case status.Code(err) == codes.NotFound:
			doc = itemDoc{
				ID:        id,
				Title:     snapshot.Title,
				Status:    snapshot.Purchasable,
				CheckedAt: checkedAt,
			}
		default:
			return errors.Wrapf(err, "get %s", id)
		}

		if doc.Subscribers == nil {
			doc.Subscribers = make(map[string]bool)
		}

		active, known := doc.Subscribers[key]
		switch {
		case active:
			outcome = restock.AlreadySubscribed
		case known:
			outcome = restock.Resubscribed
		default:
			outcome = restock.Subscribed
		}

		if outcome != restock.AlreadySubscribed {
			doc.Subscribers[key] = true
			doc.UpdatedAt = checkedAt
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}

		item, err = doc.item()
		return err
	})

	return
}

func (fb *Firebase) Deactivate(ctx context.Context, id string, subscriber restock.SubscriberID) (ok bool, err error) {
	ref := fb.ref(id)
	key := subscriberKey(subscriber)
	err = fb.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ok = false
		dsnap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}

			return errors.Wrapf(err, "get %s", id)
		}

		var doc itemDoc
		if err := dsnap.DataTo(&doc); err != nil {
			return errors.Wrapf(err, "decode %s", id)
		}

		if !doc.Subscribers[key] {
			return nil
		}

		ok = true
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{"subscribers", key}, Value: false},
			{FieldPath: firestore.FieldPath{"updated-at"}, Value: time.Now()},
		})
	})

	return
}

func (fb *Firebase) SetStatus(ctx context.Context, id string, purchasable bool, title string, checkedAt time.Time) (previous bool, item *restock.Item, err error) {
	ref := fb.ref(id)
	err = fb.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dsnap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return restock.ErrNotFound
			}

			return errors.Wrapf(err, "get %s", id)
		}

		var doc itemDoc
		if err := dsnap.DataTo(&doc); err != nil {
			return errors.Wrapf(err, "decode %s", id)
		}

		previous = doc.Status
		if previous != purchasable {
			doc.Status = purchasable
			doc.CheckedAt = checkedAt
			updates := []firestore.Update{
				{FieldPath: firestore.FieldPath{"status"}, Value: purchasable},
				{FieldPath: firestore.FieldPath{"checked-at"}, Value: checkedAt},
			}

			if title != "" {
				doc.Title = title
				updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"title"}, Value: title})
			}

			if err := tx.Update(ref, updates); err != nil {
				return err
			}
		}

		item, err = doc.item()
		return err
	})

	return
}

func (fb *Firebase) ListAll(ctx context.Context) ([]*restock.Item, error) {
	return collect(fb.firestore.Collection(itemsCollection).Documents(ctx))
}

func (fb *Firebase) FindBySubscriber(ctx context.Context, subscriber restock.SubscriberID) ([]*restock.Item, error) {
	query := fb.firestore.Collection(itemsCollection).
		WherePath(firestore.FieldPath{"subscribers", subscriberKey(subscriber)}, "==", true)
	return collect(query.Documents(ctx))
}

func (fb *Firebase) Prune(ctx context.Context, before time.Time) (int, error) {
	candidates, err := collect(fb.firestore.Collection(itemsCollection).
		WherePath(firestore.FieldPath{"updated-at"}, "<", before).
		Documents(ctx))
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, candidate := range candidates {
		ref := fb.ref(candidate.ID)
		deleted := false
		err := fb.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			deleted = false
			dsnap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return nil
				}

				return err
			}

			item, err := decode(dsnap)
			if err != nil {
				return err
			}

			if !abandoned(item, before) {
				return nil
			}

			deleted = true
			return tx.Delete(ref)
		})

		if err != nil {
			return pruned, errors.Wrapf(err, "prune %s", candidate.ID)
		}

		if deleted {
			pruned++
		}
	}

	return pruned, nil
}

func (fb *Firebase) Close() error {
	return fb.firestore.Close()
}

func decode(dsnap *firestore.DocumentSnapshot) (*restock.Item, error) {
	var doc itemDoc
	if err := dsnap.DataTo(&doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", dsnap.Ref.ID)
	}

	return doc.item()
}

func collect(iter *firestore.DocumentIterator) ([]*restock.Item, error) {
	defer iter.Stop()
	items := make([]*restock.Item, 0)
	for {
		dsnap, err := iter.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, err
		}

		item, err := decode(dsnap)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	restock.SortByID(items)
	return items, nil
}
