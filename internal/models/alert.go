package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AlertStatus is the terminal outcome of an inbound alert
type AlertStatus string

const (
	AlertStatusTriggered   AlertStatus = "triggered"
	AlertStatusRateLimited AlertStatus = "rate_limited"
	AlertStatusFailed      AlertStatus = "failed"
)

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusTriggered, AlertStatusRateLimited, AlertStatusFailed:
		return true
	}
	return false
}

// DeliveryResult is the outcome of one channel delivery attempt
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Alert represents a processed TradingView alert. Rows are only ever created.
type Alert struct {
	ID              uint           `json:"-" gorm:"primaryKey"`
	PublicID        string         `json:"id" gorm:"uniqueIndex;not null"`
	AccountID       string         `json:"account_id" gorm:"index;not null"`
	Symbol          string         `json:"symbol"`
	Exchange        string         `json:"exchange"`
	Message         string         `json:"message" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload,omitempty"`
	Status          AlertStatus    `json:"status" gorm:"index;not null"`
	Destinations    datatypes.JSON `json:"destinations"`
	DeliveryResults datatypes.JSON `json:"delivery_results"`
	Error           string         `json:"error,omitempty"`
	TriggeredAt     time.Time      `json:"triggered_at" gorm:"index;not null"`
}

// SetDestinations stores the ordered list of attempted channels
func (a *Alert) SetDestinations(channels []string) {
	if channels == nil {
		channels = []string{}
	}
	data, _ := json.Marshal(channels)
	a.Destinations = datatypes.JSON(data)
}

// GetDestinations decodes the attempted channels
func (a *Alert) GetDestinations() []string {
	out := []string{}
	if len(a.Destinations) == 0 {
		return out
	}
	_ = json.Unmarshal(a.Destinations, &out)
	return out
}

// SetDeliveryResults stores the per-channel outcomes
func (a *Alert) SetDeliveryResults(results map[string]DeliveryResult) {
	if results == nil {
		results = map[string]DeliveryResult{}
	}
	data, _ := json.Marshal(results)
	a.DeliveryResults = datatypes.JSON(data)
}

// GetDeliveryResults decodes the per-channel outcomes
func (a *Alert) GetDeliveryResults() map[string]DeliveryResult {
	out := map[string]DeliveryResult{}
	if len(a.DeliveryResults) == 0 {
		return out
	}
	_ = json.Unmarshal(a.DeliveryResults, &out)
	return out
}
