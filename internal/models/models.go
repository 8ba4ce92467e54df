package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultCheckInterval = 300
	// MaxCheckInterval is one year, well inside time.Duration.
	MaxCheckInterval = 365 * 24 * 60 * 60
)

type SimpleModel struct {
	ID        uint      `gorm:"primaryKey" json:"id" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// WatchTarget is a URL polled every CheckIntervalSeconds while Enabled.
type WatchTarget struct {
	SimpleModel          `bson:",inline"`
	URL                  string         `gorm:"uniqueIndex;not null" json:"url" bson:"url"`
	Name                 *string        `json:"name" bson:"name,omitempty"`
	CheckIntervalSeconds int            `gorm:"not null" json:"check_interval_seconds" bson:"check_interval_seconds"`
	Enabled              bool           `gorm:"not null;index" json:"enabled" bson:"enabled"`
	Checks               []ContentCheck `gorm:"foreignKey:TargetID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-" bson:"-"`
}

func (t WatchTarget) Interval() time.Duration {
	return time.Duration(t.CheckIntervalSeconds) * time.Second
}

func (t WatchTarget) DisplayName() string {
	if t.Name == nil || *t.Name == "" {
		return "unnamed"
	}
	return *t.Name
}

// TargetPatch carries a partial update; nil fields are left untouched.
// An explicit "name": null sets ClearName.
type TargetPatch struct {
	URL                  *string `json:"url"`
	Name                 *string `json:"name"`
	ClearName            bool    `json:"-"`
	CheckIntervalSeconds *int    `json:"check_interval_seconds"`
	Enabled              *bool   `json:"enabled"`
}

func (p *TargetPatch) UnmarshalJSON(data []byte) error {
	type plain TargetPatch
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["name"]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		p.ClearName = true
	}
	return nil
}

func (p TargetPatch) Empty() bool {
	return p.URL == nil && p.Name == nil && !p.ClearName && p.CheckIntervalSeconds == nil && p.Enabled == nil
}

// Apply copies the set fields of p onto t. UpdatedAt is left to the store.
func (p TargetPatch) Apply(t *WatchTarget) {
	if p.URL != nil {
		t.URL = strings.TrimSpace(*p.URL)
	}
	if p.Name != nil {
		t.Name = p.Name
	}
	if p.ClearName {
		t.Name = nil
	}
	if p.CheckIntervalSeconds != nil {
		t.CheckIntervalSeconds = *p.CheckIntervalSeconds
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
}
