package models

import (
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
)

// An Unprocessable is an inbound payload the state machine could not
// dispatch: an unknown kind, a malformed body, or a target-shape
// violation. Nothing is silently dropped; it lands here instead.
type Unprocessable struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	Raw       []byte `gorm:"not null"`
	Error     string `gorm:"type:text"`
}

type Unprocessables struct {
	db *gorm.DB
}

func NewUnprocessables(db *gorm.DB) *Unprocessables {
	return &Unprocessables{db: db}
}

// Create records the rejected payload together with the reason.
func (u *Unprocessables) Create(raw []byte, reason error) error {
	row := &Unprocessable{
		ID:  snowflake.Now(),
		Raw: raw,
	}
	if reason != nil {
		row.Error = reason.Error()
	}
	return u.db.Create(row).Error
}
