package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"restock-bot/internal/restock"
)

type itemRow struct {
	ID        string `gorm:"primaryKey"`
	Title     string
	Status    bool
	CheckedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index"`
}

func (itemRow) TableName() string {
	return "items"
}

type subscriberRow struct {
	ItemID       string `gorm:"primaryKey"`
	SubscriberID int64  `gorm:"primaryKey;autoIncrement:false;index"`
	Active       bool
}

func (subscriberRow) TableName() string {
	return "item_subscribers"
}

// SQL stores items in an SQLite database.
//
// All statements go through a single connection, so transactions on the
// same item never interleave.
type SQL struct {
	db *gorm.DB
}

func OpenSQL(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: GormLogger,
	})

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db")
	}

	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(new(itemRow), new(subscriberRow)); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	return &SQL{db: db}, nil
}

func (s *SQL) Get(ctx context.Context, id string) (*restock.Item, error) {
	return load(s.db.WithContext(ctx), id)
}

func (s *SQL) UpsertSubscription(ctx context.Context, id string, subscriber restock.SubscriberID, snapshot restock.Snapshot, checkedAt time.Time) (item *restock.Item, outcome restock.SubscribeOutcome, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := itemRow{
			ID:        id,
			Title:     snapshot.Title,
			Status:    snapshot.Purchasable,
			CheckedAt: checkedAt.UTC(),
			UpdatedAt: checkedAt.UTC(),
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return errors.Wrap(err, "create item")
		}

		var sub subscriberRow
		err := tx.Where("item_id = ? AND subscriber_id = ?", id, int64(subscriber)).Take(&sub).Error
		switch {
		case err == nil && sub.Active:
			outcome = restock.AlreadySubscribed
		case err == nil:
			outcome = restock.Resubscribed
		case errors.Is(err, gorm.ErrRecordNotFound):
			outcome = restock.Subscribed
		default:
			return errors.Wrap(err, "find subscriber")
		}

		if outcome != restock.AlreadySubscribed {
			sub = subscriberRow{ItemID: id, SubscriberID: int64(subscriber), Active: true}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "item_id"}, {Name: "subscriber_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"active"}),
			}).Create(&sub).Error; err != nil {
				return errors.Wrap(err, "activate subscriber")
			}

			if err := touch(tx, id, checkedAt); err != nil {
				return err
			}
		}

		item, err = load(tx, id)
		return err
	})

	return
}

func (s *SQL) Deactivate(ctx context.Context, id string, subscriber restock.SubscriberID) (ok bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(new(subscriberRow)).
			Where("item_id = ? AND subscriber_id = ? AND active = ?", id, int64(subscriber), true).
			Update("active", false)
		if result.Error != nil {
			return errors.Wrap(result.Error, "deactivate subscriber")
		}

		ok = result.RowsAffected > 0
		if !ok {
			return nil
		}

		return touch(tx, id, time.Now())
	})

	return
}

func (s *SQL) SetStatus(ctx context.Context, id string, status bool, title string, checkedAt time.Time) (previous bool, item *restock.Item, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row itemRow
		if err := tx.Take(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return restock.ErrNotFound
			}

			return errors.Wrap(err, "find item")
		}

		previous = row.Status
		if previous != status {
			updates := map[string]interface{}{
				"status":     status,
				"checked_at": checkedAt.UTC(),
			}

			if title != "" {
				updates["title"] = title
			}

			if err := tx.Model(new(itemRow)).Where("id = ?", id).Updates(updates).Error; err != nil {
				return errors.Wrap(err, "update status")
			}
		}

		var err error
		item, err = load(tx, id)
		return err
	})

	return
}

func (s *SQL) ListAll(ctx context.Context) ([]*restock.Item, error) {
	tx := s.db.WithContext(ctx)
	var rows []itemRow
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list items")
	}

	return assemble(tx, rows)
}

func (s *SQL) FindBySubscriber(ctx context.Context, subscriber restock.SubscriberID) ([]*restock.Item, error) {
	tx := s.db.WithContext(ctx)
	active := tx.Model(new(subscriberRow)).
		Select("item_id").
		Where("subscriber_id = ? AND active = ?", int64(subscriber), true)

	var rows []itemRow
	if err := tx.Where("id IN (?)", active).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "find items by subscriber")
	}

	return assemble(tx, rows)
}

func (s *SQL) Prune(ctx context.Context, before time.Time) (pruned int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(new(itemRow)).
			Where("updated_at < ?", before.UTC()).
			Where("NOT EXISTS (SELECT 1 FROM item_subscribers s WHERE s.item_id = items.id AND s.active = ?)", true).
			Pluck("id", &ids).Error; err != nil {
			return errors.Wrap(err, "find abandoned items")
		}

		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("item_id IN ?", ids).Delete(new(subscriberRow)).Error; err != nil {
			return errors.Wrap(err, "delete subscribers")
		}

		if err := tx.Where("id IN ?", ids).Delete(new(itemRow)).Error; err != nil {
			return errors.Wrap(err, "delete items")
		}

		pruned = len(ids)
		return nil
	})

	return
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func touch(tx *gorm.DB, id string, now time.Time) error {
	if err := tx.Model(new(itemRow)).Where("id = ?", id).Update("updated_at", now.UTC()).Error; err != nil {
		return errors.Wrap(err, "touch item")
	}

	return nil
}

func load(tx *gorm.DB, id string) (*restock.Item, error) {
	var row itemRow
	if err := tx.Take(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, restock.ErrNotFound
		}

		return nil, errors.Wrapf(err, "get %s", id)
	}

	items, err := assemble(tx, []itemRow{row})
	if err != nil {
		return nil, err
	}

	return items[0], nil
}

func assemble(tx *gorm.DB, rows []itemRow) ([]*restock.Item, error) {
	items := make([]*restock.Item, len(rows))
	if len(rows) == 0 {
		return items, nil
	}

	ids := make([]string, len(rows))
	index := make(map[string]*restock.Item, len(rows))
	for i, row := range rows {
		items[i] = &restock.Item{
			ID:          row.ID,
			Title:       row.Title,
			Status:      row.Status,
			CheckedAt:   row.CheckedAt,
			UpdatedAt:   row.UpdatedAt,
			Subscribers: make(map[restock.SubscriberID]bool),
		}

		ids[i] = row.ID
		index[row.ID] = items[i]
	}

	var subs []subscriberRow
	if err := tx.Where("item_id IN ?", ids).Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "load subscribers")
	}

	for _, sub := range subs {
		index[sub.ItemID].Subscribers[restock.SubscriberID(sub.SubscriberID)] = sub.Active
	}

	return items, nil
}
