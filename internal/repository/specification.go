package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carinsure/internal/model"
)

// Specification narrows or orders a policy query.
type Specification interface {
	Apply(db *gorm.DB) *gorm.DB
}

func applyAll(specs []Specification) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range specs {
			if s != nil {
				db = s.Apply(db)
			}
		}
		return db
	}
}

// ByStatus filters by review status.
type ByStatus struct {
	Status model.PolicyStatus
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", s.Status)
}

// ByUserID filters by the referenced user.
type ByUserID struct {
	UserID uuid.UUID
}

func (s ByUserID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ?", s.UserID)
}

// ByPolicyNumber filters by exact policy number.
type ByPolicyNumber struct {
	PolicyNumber string
}

func (s ByPolicyNumber) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("policy_number = ?", s.PolicyNumber)
}

// ByLicensePlate filters by exact license plate.
type ByLicensePlate struct {
	LicensePlate string
}

func (s ByLicensePlate) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("license_plate = ?", s.LicensePlate)
}

// ByInsuranceType filters by insurance type.
type ByInsuranceType struct {
	InsuranceType string
}

func (s ByInsuranceType) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("insurance_type = ?", s.InsuranceType)
}

// ActiveOn keeps policies whose coverage period contains Date.
type ActiveOn struct {
	Date time.Time
}

func (s ActiveOn) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("policy_start_date <= ? AND policy_end_date >= ?", s.Date, s.Date)
}

// OrderBy applies ordering. Field must be a trusted column name.
type OrderBy struct {
	Field string
	Desc  bool
}

func (s OrderBy) Apply(db *gorm.DB) *gorm.DB {
	direction := "ASC"
	if s.Desc {
		direction = "DESC"
	}
	return db.Order(fmt.Sprintf("%s %s", s.Field, direction))
}

// Pagination limits the result window.
type Pagination struct {
	Limit  int
	Offset int
}

func (s Pagination) Apply(db *gorm.DB) *gorm.DB {
	return db.Limit(s.Limit).Offset(s.Offset)
}
