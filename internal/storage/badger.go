package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
)

var deliveryPrefix = []byte("delivery:")

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerRepository opens the database at dbPath.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
	}, nil
}

// Close closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed")
	return nil
}

// deliveryKey orders records by delivery time.
// Format: delivery:{zero padded unix nano}:{id}
func deliveryKey(d domain.Delivery) []byte {
	return []byte(fmt.Sprintf("delivery:%020d:%s", d.DeliveredAt.UnixNano(), d.ID))
}

// SaveDelivery stores a record. Missing ID and delivery time are filled in.
func (r *BadgerRepository) SaveDelivery(ctx context.Context, d domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now()
	}
	log := r.log.WithFields(logrus.Fields{"id": d.ID, "link": d.Link})

	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(deliveryKey(d), val))
	})
	if err != nil {
		log.WithError(err).Error("Failed to save delivery to BadgerDB")
		return fmt.Errorf("failed to save delivery: %w", err)
	}
	log.Debug("Delivery saved")
	return nil
}

// ListDeliveries walks the delivery keys in reverse.
func (r *BadgerRepository) ListDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	var out []domain.Delivery

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = deliveryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key not above the seek key.
		seek := append(append([]byte{}, deliveryPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(deliveryPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var d domain.Delivery
				if err := json.Unmarshal(val, &d); err != nil {
					return fmt.Errorf("failed to unmarshal delivery for key %s: %w", item.Key(), err)
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to list deliveries from BadgerDB")
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return out, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
