package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carinsure/internal/auth"
	"carinsure/internal/errors"
	"carinsure/internal/model"
	"carinsure/internal/service"
)

// Accepted date layouts for policy dates, tried in order.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// PolicyHandler handles customer insurance endpoints.
type PolicyHandler struct {
	policyService service.PolicyService
	log           *zap.Logger
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(policyService service.PolicyService, log *zap.Logger) *PolicyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PolicyHandler{policyService: policyService, log: log.Named("policy")}
}

// CreatePolicyRequest represents an insurance application.
type CreatePolicyRequest struct {
	CustomerIns        int64           `json:"customer_ins"`
	UserID             string          `json:"user_id,omitempty"`
	PolicyNumber       string          `json:"policy_number"`
	InsuranceType      string          `json:"insurance_type"`
	PolicyStartDate    string          `json:"policy_start_date" example:"2024-01-01"`
	PolicyEndDate      string          `json:"policy_end_date" example:"2025-01-01"`
	CarBrand           string          `json:"car_brand"`
	CarModel           string          `json:"car_model"`
	CarYear            int             `json:"car_year"`
	LicensePlate       string          `json:"license_plate"`
	ClaimLimit         decimal.Decimal `json:"claim_limit" swaggertype:"string" example:"50000.00"`
	CoverageDetails    string          `json:"coverage_details,omitempty"`
	Status             string          `json:"status,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	RegisteredCarImage string          `json:"registered_car_image,omitempty"`
	FirstName          string          `json:"firstName"`
	LastName           string          `json:"lastName"`
}

// UpdatePolicyRequest represents a partial update; omitted fields are kept.
// An empty user_id clears the user reference. Status is not accepted here,
// see the approve and reject routes.
type UpdatePolicyRequest struct {
	CustomerIns        *int64           `json:"customer_ins,omitempty"`
	UserID             *string          `json:"user_id,omitempty"`
	PolicyNumber       *string          `json:"policy_number,omitempty"`
	InsuranceType      *string          `json:"insurance_type,omitempty"`
	PolicyStartDate    *string          `json:"policy_start_date,omitempty"`
	PolicyEndDate      *string          `json:"policy_end_date,omitempty"`
	CarBrand           *string          `json:"car_brand,omitempty"`
	CarModel           *string          `json:"car_model,omitempty"`
	CarYear            *int             `json:"car_year,omitempty"`
	LicensePlate       *string          `json:"license_plate,omitempty"`
	ClaimLimit         *decimal.Decimal `json:"claim_limit,omitempty" swaggertype:"string"`
	CoverageDetails    *string          `json:"coverage_details,omitempty"`
	RejectionReason    *string          `json:"rejection_reason,omitempty"`
	RegisteredCarImage *string          `json:"registered_car_image,omitempty"`
	FirstName          *string          `json:"firstName,omitempty"`
	LastName           *string          `json:"lastName,omitempty"`
}

// RejectRequest carries the optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// ListPoliciesQuery represents list filters and paging.
type ListPoliciesQuery struct {
	Status        string `query:"status"`
	UserID        string `query:"user_id"`
	InsuranceType string `query:"insurance_type"`
	PolicyNumber  string `query:"policy_number"`
	LicensePlate  string `query:"license_plate"`
	ActiveOn      string `query:"active_on"`
	Page          int    `query:"page" validate:"gte=0"`
	PageSize      int    `query:"page_size" validate:"gte=0,lte=100"`
}

// Create godoc
// @Summary Submit an insurance application
// @Tags policies
// @Accept json
// @Produce json
// @Param request body CreatePolicyRequest true "Policy data"
// @Success 201 {object} model.CustomerInsurance
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /policies [post]
func (h *PolicyHandler) Create(c echo.Context) error {
	var req CreatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(errors.NewValidationError("body", "malformed JSON or mistyped field"))
	}

	policy, err := req.toModel()
	if err != nil {
		return respondError(err)
	}

	created, err := h.policyService.Create(c.Request().Context(), policy)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Get godoc
// @Summary Get a policy by id
// @Tags policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} model.CustomerInsurance
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /policies/{id} [get]
func (h *PolicyHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	policy, err := h.policyService.Get(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, policy)
}

// List godoc
// @Summary List policies
// @Tags policies
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Param user_id query string false "User ID"
// @Param insurance_type query string false "Insurance type"
// @Param policy_number query string false "Policy number"
// @Param license_plate query string false "License plate"
// @Param active_on query string false "Date the policy must cover (YYYY-MM-DD)"
// @Param page query int false "Page number, from 1"
// @Param page_size query int false "Page size, at most 100"
// @Success 200 {object} service.PolicyPage
// @Failure 400 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /policies [get]
func (h *PolicyHandler) List(c echo.Context) error {
	var q ListPoliciesQuery
	if err := c.Bind(&q); err != nil {
		return respondError(errors.NewValidationError("query", "mistyped query parameter"))
	}
	if err := c.Validate(&q); err != nil {
		return respondError(err)
	}

	filter, err := q.toFilter()
	if err != nil {
		return respondError(err)
	}

	page, err := h.policyService.List(c.Request().Context(), filter, service.Page{Number: q.Page, Size: q.PageSize})
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// Update godoc
// @Summary Partially update a policy
// @Tags policies
// @Accept json
// @Produce json
// @Param id path string true "Policy ID"
// @Param request body UpdatePolicyRequest true "Fields to change"
// @Success 200 {object} model.CustomerInsurance
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /policies/{id} [patch]
func (h *PolicyHandler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req UpdatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(errors.NewValidationError("body", "malformed JSON or mistyped field"))
	}

	changes, err := req.toChanges()
	if err != nil {
		return respondError(err)
	}

	updated, err := h.policyService.Update(c.Request().Context(), id, changes)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Approve godoc
// @Summary Approve a pending policy
// @Tags review
// @Produce json
// @Security BearerAuth
// @Param id path string true "Policy ID"
// @Success 200 {object} model.CustomerInsurance
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /policies/{id}/approve [post]
func (h *PolicyHandler) Approve(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	policy, err := h.policyService.Approve(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	h.logReview(c, policy)
	return c.JSON(http.StatusOK, policy)
}

// Reject godoc
// @Summary Reject a pending policy
// @Tags review
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Policy ID"
// @Param request body RejectRequest false "Rejection reason"
// @Success 200 {object} model.CustomerInsurance
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /policies/{id}/reject [post]
func (h *PolicyHandler) Reject(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req RejectRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return respondError(errors.NewValidationError("body", "malformed JSON or mistyped field"))
		}
	}
	if err := c.Validate(&req); err != nil {
		return respondError(err)
	}

	policy, err := h.policyService.Reject(c.Request().Context(), id, req.Reason)
	if err != nil {
		return respondError(err)
	}
	h.logReview(c, policy)
	return c.JSON(http.StatusOK, policy)
}

// Owner godoc
// @Summary Get the user a policy references
// @Tags policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} model.User
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /policies/{id}/owner [get]
func (h *PolicyHandler) Owner(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := h.policyService.Owner(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (r CreatePolicyRequest) toModel() (*model.CustomerInsurance, error) {
	verr := &errors.ValidationError{}

	policy := &model.CustomerInsurance{
		CustomerIns:        r.CustomerIns,
		PolicyNumber:       r.PolicyNumber,
		InsuranceType:      r.InsuranceType,
		PolicyStartDate:    parseDate(verr, "policy_start_date", r.PolicyStartDate),
		PolicyEndDate:      parseDate(verr, "policy_end_date", r.PolicyEndDate),
		CarBrand:           r.CarBrand,
		CarModel:           r.CarModel,
		CarYear:            r.CarYear,
		LicensePlate:       r.LicensePlate,
		ClaimLimit:         r.ClaimLimit,
		CoverageDetails:    r.CoverageDetails,
		Status:             model.PolicyStatus(r.Status),
		RejectionReason:    r.RejectionReason,
		RegisteredCarImage: r.RegisteredCarImage,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
	}
	if r.UserID != "" {
		if id, err := uuid.Parse(r.UserID); err != nil {
			verr.Add("user_id", "must be a valid UUID")
		} else {
			policy.UserID = &id
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return policy, nil
}

func (r UpdatePolicyRequest) toChanges() (service.PolicyChanges, error) {
	verr := &errors.ValidationError{}
	changes := service.PolicyChanges{
		CustomerIns:        r.CustomerIns,
		PolicyNumber:       r.PolicyNumber,
		InsuranceType:      r.InsuranceType,
		CarBrand:           r.CarBrand,
		CarModel:           r.CarModel,
		CarYear:            r.CarYear,
		LicensePlate:       r.LicensePlate,
		ClaimLimit:         r.ClaimLimit,
		CoverageDetails:    r.CoverageDetails,
		RejectionReason:    r.RejectionReason,
		RegisteredCarImage: r.RegisteredCarImage,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
	}

	if r.UserID != nil {
		id := uuid.Nil
		if *r.UserID != "" {
			parsed, err := uuid.Parse(*r.UserID)
			if err != nil {
				verr.Add("user_id", "must be a valid UUID")
			}
			id = parsed
		}
		changes.UserID = &id
	}
	if r.PolicyStartDate != nil {
		d := parseDate(verr, "policy_start_date", *r.PolicyStartDate)
		changes.PolicyStartDate = &d
	}
	if r.PolicyEndDate != nil {
		d := parseDate(verr, "policy_end_date", *r.PolicyEndDate)
		changes.PolicyEndDate = &d
	}

	if verr.HasErrors() {
		return service.PolicyChanges{}, verr
	}
	return changes, nil
}

func (q ListPoliciesQuery) toFilter() (service.PolicyFilter, error) {
	verr := &errors.ValidationError{}
	filter := service.PolicyFilter{
		Status:        model.PolicyStatus(q.Status),
		InsuranceType: q.InsuranceType,
		PolicyNumber:  q.PolicyNumber,
		LicensePlate:  q.LicensePlate,
	}
	if q.UserID != "" {
		if id, err := uuid.Parse(q.UserID); err != nil {
			verr.Add("user_id", "must be a valid UUID")
		} else {
			filter.UserID = &id
		}
	}
	if q.ActiveOn != "" {
		d := parseDate(verr, "active_on", q.ActiveOn)
		filter.ActiveOn = &d
	}

	if verr.HasErrors() {
		return service.PolicyFilter{}, verr
	}
	return filter, nil
}

// parseDate parses s with dateLayouts. Empty input yields the zero time so
// that required-field validation reports it; bad input is recorded on verr.
func parseDate(verr *errors.ValidationError, field, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	verr.Add(field, "must be a date (YYYY-MM-DD or RFC 3339)")
	return time.Time{}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid policy ID",
			Code:  "INVALID_UUID",
		})
	}
	return id, nil
}

func respondError(err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

func (h *PolicyHandler) logReview(c echo.Context, policy *model.CustomerInsurance) {
	reviewer := "unknown"
	if claims := auth.ClaimsFrom(c); claims != nil {
		reviewer = claims.UserID.String()
	}
	h.log.Info("policy reviewed",
		zap.String("policy_id", policy.ID.String()),
		zap.String("status", string(policy.Status)),
		zap.String("reviewer", reviewer),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
	)
}
