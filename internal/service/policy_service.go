package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carinsure/internal/cache"
	"carinsure/internal/errors"
	"carinsure/internal/model"
	"carinsure/internal/repository"
)

const (
	policyCacheTTL  = 5 * time.Minute
	defaultPageSize = 20
	maxPageSize     = 100
)

// PolicyService exposes customer insurance operations.
type PolicyService interface {
	Create(ctx context.Context, policy *model.CustomerInsurance) (*model.CustomerInsurance, error)
	Get(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error)
	Update(ctx context.Context, id uuid.UUID, changes PolicyChanges) (*model.CustomerInsurance, error)
	Find(ctx context.Context, filter PolicyFilter) iter.Seq2[*model.CustomerInsurance, error]
	List(ctx context.Context, filter PolicyFilter, page Page) (*PolicyPage, error)
	Approve(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*model.CustomerInsurance, error)
	Owner(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// PolicyChanges is a partial update. Nil fields are left untouched; a non-nil
// UserID pointing at uuid.Nil clears the reference.
type PolicyChanges struct {
	CustomerIns        *int64
	UserID             *uuid.UUID
	PolicyNumber       *string
	InsuranceType      *string
	PolicyStartDate    *time.Time
	PolicyEndDate      *time.Time
	CarBrand           *string
	CarModel           *string
	CarYear            *int
	LicensePlate       *string
	ClaimLimit         *decimal.Decimal
	CoverageDetails    *string
	Status             *model.PolicyStatus
	RejectionReason    *string
	RegisteredCarImage *string
	FirstName          *string
	LastName           *string
}

// apply writes the set fields onto p and reports whether a unique field changed.
func (c PolicyChanges) apply(p *model.CustomerInsurance) (uniqueTouched bool) {
	if c.CustomerIns != nil && *c.CustomerIns != p.CustomerIns {
		p.CustomerIns = *c.CustomerIns
		uniqueTouched = true
	}
	if c.PolicyNumber != nil && *c.PolicyNumber != p.PolicyNumber {
		p.PolicyNumber = *c.PolicyNumber
		uniqueTouched = true
	}
	if c.LicensePlate != nil && *c.LicensePlate != p.LicensePlate {
		p.LicensePlate = *c.LicensePlate
		uniqueTouched = true
	}
	if c.UserID != nil {
		if *c.UserID == uuid.Nil {
			p.UserID = nil
		} else {
			id := *c.UserID
			p.UserID = &id
		}
	}
	setIf(&p.InsuranceType, c.InsuranceType)
	setIf(&p.PolicyStartDate, c.PolicyStartDate)
	setIf(&p.PolicyEndDate, c.PolicyEndDate)
	setIf(&p.CarBrand, c.CarBrand)
	setIf(&p.CarModel, c.CarModel)
	setIf(&p.CarYear, c.CarYear)
	setIf(&p.ClaimLimit, c.ClaimLimit)
	setIf(&p.CoverageDetails, c.CoverageDetails)
	setIf(&p.Status, c.Status)
	setIf(&p.RejectionReason, c.RejectionReason)
	setIf(&p.RegisteredCarImage, c.RegisteredCarImage)
	setIf(&p.FirstName, c.FirstName)
	setIf(&p.LastName, c.LastName)
	return uniqueTouched
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// PolicyFilter selects policies. Zero fields match everything.
type PolicyFilter struct {
	Status        model.PolicyStatus
	UserID        *uuid.UUID
	InsuranceType string
	PolicyNumber  string
	LicensePlate  string
	ActiveOn      *time.Time
}

func (f PolicyFilter) specs() ([]repository.Specification, error) {
	var specs []repository.Specification
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, errors.NewValidationError("status", "has an unsupported value")
		}
		specs = append(specs, repository.ByStatus{Status: f.Status})
	}
	if f.UserID != nil {
		specs = append(specs, repository.ByUserID{UserID: *f.UserID})
	}
	if f.InsuranceType != "" {
		specs = append(specs, repository.ByInsuranceType{InsuranceType: f.InsuranceType})
	}
	if f.PolicyNumber != "" {
		specs = append(specs, repository.ByPolicyNumber{PolicyNumber: f.PolicyNumber})
	}
	if f.LicensePlate != "" {
		specs = append(specs, repository.ByLicensePlate{LicensePlate: f.LicensePlate})
	}
	if f.ActiveOn != nil {
		specs = append(specs, repository.ActiveOn{Date: *f.ActiveOn})
	}
	return specs, nil
}

// Page selects a window of a listing. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// PolicyPage is one page of a listing.
type PolicyPage struct {
	Items    []*model.CustomerInsurance `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// Options tunes PolicyService behavior.
type Options struct {
	// StrictDates rejects policies whose end date is not after the start date.
	StrictDates bool
}

type policyService struct {
	policies repository.PolicyRepository
	users    repository.UserRepository
	cache    *cache.Client
	log      *zap.Logger
	opts     Options
}

// NewPolicyService builds a PolicyService. cache may be nil.
func NewPolicyService(
	policies repository.PolicyRepository,
	users repository.UserRepository,
	cache *cache.Client,
	log *zap.Logger,
	opts Options,
) PolicyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &policyService{
		policies: policies,
		users:    users,
		cache:    cache,
		log:      log.Named("policy"),
		opts:     opts,
	}
}

func (s *policyService) cacheKey(id uuid.UUID) string {
	return s.cache.Key("policy", id.String())
}

// Create validates and stores a new policy. Status defaults to pending.
func (s *policyService) Create(ctx context.Context, policy *model.CustomerInsurance) (*model.CustomerInsurance, error) {
	if policy.Status == "" {
		policy.Status = model.PolicyStatusPending
	}
	if err := policy.Validate(s.opts.StrictDates); err != nil {
		return nil, err
	}

	field, err := s.policies.FindConflict(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("check unique fields: %w", err)
	}
	if field != "" {
		return nil, &errors.UniqueConstraintViolation{Field: field}
	}

	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, err
	}

	s.log.Info("policy created",
		zap.String("policy_id", policy.ID.String()),
		zap.String("policy_number", policy.PolicyNumber),
		zap.String("status", string(policy.Status)),
	)
	return policy, nil
}

// Get returns a policy by id, reading through the cache.
func (s *policyService) Get(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error) {
	var cached model.CustomerInsurance
	if s.cache.GetJSON(ctx, s.cacheKey(id), &cached) {
		return &cached, nil
	}

	policy, err := s.policies.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.SetJSON(ctx, s.cacheKey(id), policy, policyCacheTTL)
	return policy, nil
}

// Update applies a partial update. It never changes the status; that is left
// to Approve and Reject.
func (s *policyService) Update(ctx context.Context, id uuid.UUID, changes PolicyChanges) (*model.CustomerInsurance, error) {
	return s.update(ctx, id, changes, false)
}

// update loads, patches, validates and saves a policy. With review set the
// status must move out of pending, so approving twice is an error. Without it
// the status must stay put.
func (s *policyService) update(ctx context.Context, id uuid.UUID, changes PolicyChanges, review bool) (*model.CustomerInsurance, error) {
	policy, err := s.policies.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := policy.Status
	uniqueTouched := changes.apply(policy)

	if err := policy.Validate(s.opts.StrictDates); err != nil {
		return nil, err
	}
	switch {
	case review && !previous.CanTransitionTo(policy.Status):
		return nil, fmt.Errorf("%w: %s -> %s", errors.ErrInvalidStatusTransition, previous, policy.Status)
	case !review && policy.Status != previous:
		// status only moves through Approve and Reject
		return nil, fmt.Errorf("%w: %s -> %s requires review", errors.ErrInvalidStatusTransition, previous, policy.Status)
	}

	if uniqueTouched {
		field, err := s.policies.FindConflict(ctx, policy)
		if err != nil {
			return nil, fmt.Errorf("check unique fields: %w", err)
		}
		if field != "" {
			return nil, &errors.UniqueConstraintViolation{Field: field}
		}
	}

	if err := s.policies.Save(ctx, policy); err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, s.cacheKey(id))

	s.log.Info("policy updated",
		zap.String("policy_id", id.String()),
		zap.String("status", string(policy.Status)),
	)
	return policy, nil
}

// Find streams policies matching filter.
func (s *policyService) Find(ctx context.Context, filter PolicyFilter) iter.Seq2[*model.CustomerInsurance, error] {
	specs, err := filter.specs()
	if err != nil {
		return func(yield func(*model.CustomerInsurance, error) bool) {
			yield(nil, err)
		}
	}
	specs = append(specs, repository.OrderBy{Field: "created_at"})
	return s.policies.Find(ctx, specs...)
}

// List returns one page of policies matching filter, newest first.
func (s *policyService) List(ctx context.Context, filter PolicyFilter, page Page) (*PolicyPage, error) {
	specs, err := filter.specs()
	if err != nil {
		return nil, err
	}
	page = page.normalize()

	total, err := s.policies.Count(ctx, specs...)
	if err != nil {
		return nil, fmt.Errorf("count policies: %w", err)
	}

	result := &PolicyPage{
		Items:    make([]*model.CustomerInsurance, 0, page.Size),
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}
	window := append(specs,
		repository.OrderBy{Field: "created_at", Desc: true},
		repository.Pagination{Limit: page.Size, Offset: (page.Number - 1) * page.Size},
	)
	for policy, err := range s.policies.Find(ctx, window...) {
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
		result.Items = append(result.Items, policy)
	}
	return result, nil
}

// Approve moves a pending policy to approved.
func (s *policyService) Approve(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error) {
	status := model.PolicyStatusApproved
	empty := ""
	return s.update(ctx, id, PolicyChanges{Status: &status, RejectionReason: &empty}, true)
}

// Reject moves a pending policy to rejected with an optional reason.
func (s *policyService) Reject(ctx context.Context, id uuid.UUID, reason string) (*model.CustomerInsurance, error) {
	status := model.PolicyStatusRejected
	return s.update(ctx, id, PolicyChanges{Status: &status, RejectionReason: &reason}, true)
}

// Owner resolves the user a policy references.
func (s *policyService) Owner(ctx context.Context, id uuid.UUID) (*model.User, error) {
	policy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy.UserID == nil {
		return nil, errors.ErrNoLinkedUser
	}
	return s.users.FindByID(ctx, *policy.UserID)
}
