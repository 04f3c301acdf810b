package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the account a policy may point at through CustomerInsurance.UserID.
// Policies never write to it.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	FirstName string    `json:"firstName" gorm:"size:100;not null"`
	LastName  string    `json:"lastName" gorm:"size:100;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Role      string    `json:"role,omitempty" gorm:"size:50;default:'user'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate sets UUID before creating the record.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
