package models

import "time"

// AlertCount is the number of accepted alerts for an account on one calendar day
type AlertCount struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"not null;uniqueIndex:ux_alert_counts_account_day,priority:1"`
	Day       string    `json:"day" gorm:"not null;uniqueIndex:ux_alert_counts_account_day,priority:2;index"`
	Count     int       `json:"count" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (AlertCount) TableName() string { return "alert_counts" }
