package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Cyvadra/tv-alert-relay/internal/models"
)

// Recorder persists processed alerts. Implementations only ever insert.
type Recorder interface {
	Record(ctx context.Context, alert *models.Alert) error
}

// AlertService handles alert-related operations
type AlertService struct {
	db *gorm.DB
}

var _ Recorder = (*AlertService)(nil)

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// Record inserts a new alert record
func (s *AlertService) Record(ctx context.Context, alert *models.Alert) error {
	if alert.ID != 0 {
		return ErrAppendOnly
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// GetAlert retrieves one alert of an account by its public ID
func (s *AlertService) GetAlert(ctx context.Context, accountID, publicID string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND public_id = ?", accountID, publicID).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// ListAlerts retrieves an account's alerts with pagination and optional status filter
func (s *AlertService) ListAlerts(ctx context.Context, accountID string, page, limit int, status string) ([]models.Alert, int64, error) {
	var alerts []models.Alert
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Alert{}).Where("account_id = ?", accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	// Get total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	// Get paginated results
	offset := (page - 1) * limit
	if err := query.Offset(offset).Limit(limit).Order("triggered_at DESC, id DESC").Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	return alerts, total, nil
}

// CountSince counts an account's alerts with status triggered at or after since
func (s *AlertService) CountSince(ctx context.Context, accountID string, status models.AlertStatus, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("account_id = ? AND status = ? AND triggered_at >= ?", accountID, status, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}
