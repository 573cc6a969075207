package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLNotificationRepository stores notification rows in the relational
// database the rest of the marketplace uses.
type SQLNotificationRepository struct {
	db *gorm.DB
}

func OpenSQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

func NewSQLNotificationRepository(db *gorm.DB) (*SQLNotificationRepository, error) {
	if err := db.AutoMigrate(&domain.Notification{}); err != nil {
		return nil, err
	}
	return &SQLNotificationRepository{db: db}, nil
}

func (r *SQLNotificationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).Select("id").Where("id = ?", id).Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLNotificationRepository) Insert(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *SQLNotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	out := []domain.Notification{}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
