package repository

import (
	"context"
	"errors"
	"iter"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carinsure/internal/db"
	apperrors "carinsure/internal/errors"
	"carinsure/internal/model"
)

// PolicyRepository defines customer insurance persistence operations.
type PolicyRepository interface {
	Create(ctx context.Context, policy *model.CustomerInsurance) error
	Save(ctx context.Context, policy *model.CustomerInsurance) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error)
	// Find streams matching policies. Every range over the result runs the
	// query again.
	Find(ctx context.Context, specs ...Specification) iter.Seq2[*model.CustomerInsurance, error]
	Count(ctx context.Context, specs ...Specification) (int64, error)
	// FindConflict returns the json name of the first unique field on which
	// another policy collides with candidate, or "" when there is none.
	FindConflict(ctx context.Context, candidate *model.CustomerInsurance) (string, error)
}

type policyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) Create(ctx context.Context, policy *model.CustomerInsurance) error {
	return translateError(r.db.WithContext(ctx).Create(policy).Error)
}

func (r *policyRepository) Save(ctx context.Context, policy *model.CustomerInsurance) error {
	return translateError(r.db.WithContext(ctx).Save(policy).Error)
}

func (r *policyRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error) {
	var policy model.CustomerInsurance
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Resource: "policy", ID: id.String()}
		}
		return nil, err
	}
	return &policy, nil
}

func (r *policyRepository) query(ctx context.Context, specs []Specification) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.CustomerInsurance{}).Scopes(applyAll(specs))
}

func (r *policyRepository) Find(ctx context.Context, specs ...Specification) iter.Seq2[*model.CustomerInsurance, error] {
	return func(yield func(*model.CustomerInsurance, error) bool) {
		tx := r.query(ctx, specs)
		rows, err := tx.Rows()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var policy model.CustomerInsurance
			if err := tx.ScanRows(rows, &policy); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&policy, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (r *policyRepository) Count(ctx context.Context, specs ...Specification) (int64, error) {
	var total int64
	if err := r.query(ctx, specs).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *policyRepository) FindConflict(ctx context.Context, candidate *model.CustomerInsurance) (string, error) {
	var existing []model.CustomerInsurance
	if err := r.conflictQuery(ctx, candidate).Find(&existing).Error; err != nil {
		return "", err
	}
	return conflictingField(candidate, existing), nil
}

// conflictQuery selects other policies sharing any unique field with
// candidate. At most one row can match per field.
func (r *policyRepository) conflictQuery(ctx context.Context, candidate *model.CustomerInsurance) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.CustomerInsurance{}).
		Select("id", "customer_ins", "policy_number", "license_plate").
		Where("customer_ins = ? OR policy_number = ? OR license_plate = ?",
			candidate.CustomerIns, candidate.PolicyNumber, candidate.LicensePlate).
		Where("id <> ?", candidate.ID).
		Limit(3)
}

// conflictingField reports the first unique field of candidate shared by any
// of the existing records, checked in customer_ins, policy_number,
// license_plate order.
func conflictingField(candidate *model.CustomerInsurance, existing []model.CustomerInsurance) string {
	for _, e := range existing {
		if e.CustomerIns == candidate.CustomerIns {
			return "customer_ins"
		}
	}
	for _, e := range existing {
		if e.PolicyNumber == candidate.PolicyNumber {
			return "policy_number"
		}
	}
	for _, e := range existing {
		if e.LicensePlate == candidate.LicensePlate {
			return "license_plate"
		}
	}
	return ""
}

// translateError turns driver unique violations into
// *apperrors.UniqueConstraintViolation.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if index, ok := db.UniqueViolation(err); ok {
		return &apperrors.UniqueConstraintViolation{Field: model.UniqueIndexFields[index]}
	}
	return err
}
