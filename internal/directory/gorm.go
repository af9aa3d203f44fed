package directory

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type partyCode struct {
	Code      string    `gorm:"primaryKey;size:8"`
	PeerID    string    `gorm:"size:255;not null"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (partyCode) TableName() string { return "party_codes" }

// GormStore keeps registrations in a party_codes table.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects with a postgres DSN and migrates the schema.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&partyCode{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Insert(ctx context.Context, r Registration, now time.Time) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("code = ? AND expires_at <= ?", r.Code, now).Delete(&partyCode{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&partyCode{
			Code:      r.Code,
			PeerID:    r.PeerID,
			CreatedAt: now,
			ExpiresAt: r.ExpiresAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeTaken
		}
		return nil
	})
}

func (g *GormStore) Get(ctx context.Context, code string, now time.Time) (Registration, error) {
	var row partyCode
	err := g.db.WithContext(ctx).Where("code = ? AND expires_at > ?", code, now).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, err
	}
	return Registration{Code: row.Code, PeerID: row.PeerID, ExpiresAt: row.ExpiresAt}, nil
}

func (g *GormStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&partyCode{})
	return res.RowsAffected, res.Error
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
