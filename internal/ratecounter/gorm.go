package ratecounter

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Cyvadra/tv-alert-relay/internal/models"
)

const consumeSQL = `INSERT INTO alert_counts (account_id, day, count, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (account_id, day) DO UPDATE
SET count = alert_counts.count + 1, updated_at = excluded.updated_at
WHERE alert_counts.count < ?
RETURNING count`

// GormCounter stores counts in the alert_counts table. The increment is a single
// conditional upsert, so concurrent callers are serialised by the database.
type GormCounter struct {
	db  *gorm.DB
	cal Calendar
}

var _ Counter = (*GormCounter)(nil)

// NewGormCounter creates a counter backed by db
func NewGormCounter(db *gorm.DB, cal Calendar) *GormCounter {
	return &GormCounter{db: db, cal: cal}
}

// TryConsume takes one unit of today's quota if any is left
func (c *GormCounter) TryConsume(ctx context.Context, accountID string, limit int) (Result, error) {
	if limit <= 0 {
		used, err := c.Usage(ctx, accountID)
		if err != nil {
			return Result{}, err
		}
		return result(false, used, limit), nil
	}

	day := c.cal.Today()
	rows, err := c.db.WithContext(ctx).Raw(consumeSQL, accountID, day, c.cal.Now(), limit).Rows()
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment alert count: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var used int
		if err := rows.Scan(&used); err != nil {
			return Result{}, fmt.Errorf("failed to read alert count: %w", err)
		}
		return result(true, used, limit), nil
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to increment alert count: %w", err)
	}
	rows.Close()

	// No row returned: the WHERE clause rejected the update, quota is exhausted.
	used, err := c.usage(ctx, accountID, day)
	if err != nil {
		return Result{}, err
	}
	return result(false, used, limit), nil
}

// Usage returns today's count without changing it
func (c *GormCounter) Usage(ctx context.Context, accountID string) (int, error) {
	return c.usage(ctx, accountID, c.cal.Today())
}

func (c *GormCounter) usage(ctx context.Context, accountID, day string) (int, error) {
	var entry models.AlertCount
	err := c.db.WithContext(ctx).
		Where("account_id = ? AND day = ?", accountID, day).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get alert count: %w", err)
	}
	return entry.Count, nil
}

// PurgeStale deletes every entry whose day is not today
func (c *GormCounter) PurgeStale(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("day <> ?", c.cal.Today()).
		Delete(&models.AlertCount{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge alert counts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
