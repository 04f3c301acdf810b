package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"carinsure/internal/errors"
	"carinsure/internal/validation"
)

// PolicyStatus represents the review status of an insurance application.
type PolicyStatus string

const (
	PolicyStatusPending  PolicyStatus = "pending"
	PolicyStatusApproved PolicyStatus = "approved"
	PolicyStatusRejected PolicyStatus = "rejected"
)

// Valid reports whether s is one of the three known statuses.
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyStatusPending, PolicyStatusApproved, PolicyStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s PolicyStatus) IsTerminal() bool {
	return s == PolicyStatusApproved || s == PolicyStatusRejected
}

// CanTransitionTo reports whether a policy in status s may move to next.
// Only pending policies move, and only to approved or rejected.
func (s PolicyStatus) CanTransitionTo(next PolicyStatus) bool {
	return s == PolicyStatusPending && next.IsTerminal()
}

// ClaimLimitScale is the number of fractional digits stored for claim limits.
const ClaimLimitScale = 4

// Unique index names, shared by the schema tags and error translation.
const (
	IndexCustomerIns  = "idx_customer_insurances_customer_ins"
	IndexPolicyNumber = "idx_customer_insurances_policy_number"
	IndexLicensePlate = "idx_customer_insurances_license_plate"
)

// UniqueIndexFields maps each unique index to the json name of its field.
var UniqueIndexFields = map[string]string{
	IndexCustomerIns:  "customer_ins",
	IndexPolicyNumber: "policy_number",
	IndexLicensePlate: "license_plate",
}

// CustomerInsurance is one customer's vehicle insurance policy.
// UserID is a weak reference: the user record is looked up, never owned.
type CustomerInsurance struct {
	ID                 uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	CustomerIns        int64           `json:"customer_ins" gorm:"not null;uniqueIndex:idx_customer_insurances_customer_ins" validate:"required"`
	UserID             *uuid.UUID      `json:"user_id,omitempty" gorm:"type:char(36);index"`
	PolicyNumber       string          `json:"policy_number" gorm:"size:64;not null;uniqueIndex:idx_customer_insurances_policy_number" validate:"required,max=64"`
	InsuranceType      string          `json:"insurance_type" gorm:"size:64;not null;index" validate:"required,max=64"`
	PolicyStartDate    time.Time       `json:"policy_start_date" gorm:"not null"`
	PolicyEndDate      time.Time       `json:"policy_end_date" gorm:"not null"`
	CarBrand           string          `json:"car_brand" gorm:"size:100;not null" validate:"required,max=100"`
	CarModel           string          `json:"car_model" gorm:"size:100;not null" validate:"required,max=100"`
	CarYear            int             `json:"car_year" gorm:"not null" validate:"required"`
	LicensePlate       string          `json:"license_plate" gorm:"size:32;not null;uniqueIndex:idx_customer_insurances_license_plate" validate:"required,max=32"`
	ClaimLimit         decimal.Decimal `json:"claim_limit" gorm:"type:decimal(30,4);not null"`
	CoverageDetails    string          `json:"coverage_details,omitempty" gorm:"type:text"`
	Status             PolicyStatus    `json:"status" gorm:"type:varchar(20);not null;default:'pending';index;check:chk_customer_insurances_status,status IN ('pending','approved','rejected')" validate:"enum"`
	RejectionReason    string          `json:"rejection_reason,omitempty" gorm:"type:text"`
	RegisteredCarImage string          `json:"registered_car_image,omitempty" gorm:"size:512" validate:"max=512"`
	FirstName          string          `json:"firstName" gorm:"size:100;not null" validate:"required,max=100"`
	LastName           string          `json:"lastName" gorm:"size:100;not null" validate:"required,max=100"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Validate checks required fields, the status enum and the claim limit.
// With strictDates the end date must also fall after the start date.
func (p *CustomerInsurance) Validate(strictDates bool) error {
	verr := &errors.ValidationError{}

	if err := validation.Struct(p); err != nil {
		fieldErrs, ok := err.(*errors.ValidationError)
		if !ok {
			return err
		}
		verr.Fields = append(verr.Fields, fieldErrs.Fields...)
	}

	if p.PolicyStartDate.IsZero() {
		verr.Add("policy_start_date", "is required")
	}
	if p.PolicyEndDate.IsZero() {
		verr.Add("policy_end_date", "is required")
	}
	if strictDates && !p.PolicyStartDate.IsZero() && !p.PolicyEndDate.IsZero() &&
		!p.PolicyEndDate.After(p.PolicyStartDate) {
		verr.Add("policy_end_date", "must be after policy_start_date")
	}

	switch {
	case !p.ClaimLimit.IsPositive():
		verr.Add("claim_limit", "is required and must be positive")
	case !p.ClaimLimit.Equal(p.ClaimLimit.Truncate(ClaimLimitScale)):
		verr.Add("claim_limit", "must have at most 4 decimal places")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// BeforeCreate sets UUID and the default status, then validates the record.
func (p *CustomerInsurance) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PolicyStatusPending
	}
	return p.Validate(false)
}

// BeforeUpdate re-validates the record on every save.
func (p *CustomerInsurance) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate(false)
}
