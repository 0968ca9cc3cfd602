package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/deskbill/internal/booking/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, billing *domain.BookingBilling) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(billing).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, billing *domain.BookingBilling) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Save(billing).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BookingBilling, error) {
	if db == nil {
		db = r.db
	}
	var billing domain.BookingBilling
	if err := db.WithContext(ctx).First(&billing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &billing, nil
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, ref string) (*domain.BookingBilling, error) {
	if db == nil {
		db = r.db
	}
	var billing domain.BookingBilling
	if err := db.WithContext(ctx).Where("booking_ref = ?", ref).First(&billing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &billing, nil
}
