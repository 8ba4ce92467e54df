package models

import "time"

// ContentCheck is the immutable outcome of one poll of a WatchTarget.
// Status and content fields stay nil when no HTTP response was received.
type ContentCheck struct {
	ID        uint      `gorm:"primaryKey" json:"id" bson:"_id"`
	TargetID  uint      `gorm:"not null;index:idx_content_checks_target_time,priority:1" json:"target_id" bson:"target_id"`
	CheckedAt time.Time `gorm:"not null;index;index:idx_content_checks_target_time,priority:2" json:"checked_at" bson:"checked_at"`

	StatusCode     *int    `json:"status_code" bson:"status_code"`
	ResponseTimeMs float64 `json:"response_time_ms" bson:"response_time_ms"`
	IsSuccess      bool    `gorm:"not null" json:"is_success" bson:"is_success"`
	ErrorMessage   *string `gorm:"type:text" json:"error_message" bson:"error_message"`

	ContentBody    *string `gorm:"type:text" json:"-" bson:"content_body"`
	ContentHash    *string `gorm:"index" json:"content_hash" bson:"content_hash"`
	ContentChanged bool    `gorm:"not null;index" json:"content_changed" bson:"content_changed"`
	ContentType    *string `json:"content_type" bson:"content_type"`
	ContentLength  *int    `json:"content_length" bson:"content_length"`
}

func (c ContentCheck) HasFingerprint() bool {
	return c.ContentHash != nil && *c.ContentHash != ""
}
