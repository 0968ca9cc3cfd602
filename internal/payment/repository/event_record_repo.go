package repository

import (
	"context"
	"time"

	"github.com/railzwaylabs/deskbill/internal/payment/domain"
	"gorm.io/gorm"
)

type eventRecordRepo struct {
	db *gorm.DB
}

func NewEventRecordRepository(db *gorm.DB) domain.EventRecordRepository {
	return &eventRecordRepo{
		db: db,
	}
}

func (r *eventRecordRepo) Insert(ctx context.Context, db *gorm.DB, record *domain.EventRecord) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(record).Error
}

// FindByProviderEventID returns every delivery of one processor event, oldest
// first.
func (r *eventRecordRepo) FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) ([]domain.EventRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []domain.EventRecord
	if err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Order("received_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *eventRecordRepo) DeleteReceivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	result := db.WithContext(ctx).Delete(&domain.EventRecord{}, "received_at < ?", cutoff)
	return result.RowsAffected, result.Error
}
