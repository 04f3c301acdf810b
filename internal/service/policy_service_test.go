package service

import (
	"context"
	stderrors "errors"
	"iter"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carinsure/internal/errors"
	"carinsure/internal/model"
	"carinsure/internal/repository"
)

// MockPolicyRepository is a mock implementation of PolicyRepository.
type MockPolicyRepository struct {
	mock.Mock
}

func (m *MockPolicyRepository) Create(ctx context.Context, policy *model.CustomerInsurance) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

func (m *MockPolicyRepository) Save(ctx context.Context, policy *model.CustomerInsurance) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

func (m *MockPolicyRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.CustomerInsurance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CustomerInsurance), args.Error(1)
}

func (m *MockPolicyRepository) Find(ctx context.Context, specs ...repository.Specification) iter.Seq2[*model.CustomerInsurance, error] {
	args := m.Called(ctx, specs)
	return args.Get(0).(iter.Seq2[*model.CustomerInsurance, error])
}

func (m *MockPolicyRepository) Count(ctx context.Context, specs ...repository.Specification) (int64, error) {
	args := m.Called(ctx, specs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPolicyRepository) FindConflict(ctx context.Context, candidate *model.CustomerInsurance) (string, error) {
	args := m.Called(ctx, candidate)
	return args.String(0), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func seqOf(policies ...*model.CustomerInsurance) iter.Seq2[*model.CustomerInsurance, error] {
	return func(yield func(*model.CustomerInsurance, error) bool) {
		for _, p := range policies {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func janeDoe() *model.CustomerInsurance {
	return &model.CustomerInsurance{
		CustomerIns:     1,
		PolicyNumber:    "P-001",
		LicensePlate:    "ABC-123",
		FirstName:       "Jane",
		LastName:        "Doe",
		InsuranceType:   "comprehensive",
		PolicyStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PolicyEndDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CarBrand:        "Toyota",
		CarModel:        "Corolla",
		CarYear:         2020,
		ClaimLimit:      decimal.RequireFromString("50000.00"),
	}
}

func storedPolicy(status model.PolicyStatus) *model.CustomerInsurance {
	p := janeDoe()
	p.ID = uuid.New()
	p.Status = status
	return p
}

func newTestService(policies *MockPolicyRepository, users *MockUserRepository, opts Options) PolicyService {
	return NewPolicyService(policies, users, nil, nil, opts)
}

func TestPolicyService_Create(t *testing.T) {
	tests := []struct {
		name        string
		input       func() *model.CustomerInsurance
		opts        Options
		setupMock   func(*MockPolicyRepository)
		wantStatus  model.PolicyStatus
		wantUnique  string
		wantInvalid []string
	}{
		{
			name:  "defaults status to pending",
			input: janeDoe,
			setupMock: func(m *MockPolicyRepository) {
				m.On("FindConflict", mock.Anything, mock.AnythingOfType("*model.CustomerInsurance")).Return("", nil)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.CustomerInsurance")).Return(nil)
			},
			wantStatus: model.PolicyStatusPending,
		},
		{
			name: "keeps explicit status",
			input: func() *model.CustomerInsurance {
				p := janeDoe()
				p.Status = model.PolicyStatusApproved
				return p
			},
			setupMock: func(m *MockPolicyRepository) {
				m.On("FindConflict", mock.Anything, mock.Anything).Return("", nil)
				m.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
			wantStatus: model.PolicyStatusApproved,
		},
		{
			name: "duplicate policy number",
			input: func() *model.CustomerInsurance {
				p := janeDoe()
				p.CustomerIns = 2
				p.LicensePlate = "XYZ-999"
				return p
			},
			setupMock: func(m *MockPolicyRepository) {
				m.On("FindConflict", mock.Anything, mock.Anything).Return("policy_number", nil)
			},
			wantUnique: "policy_number",
		},
		{
			name:  "duplicate detected by the database",
			input: janeDoe,
			setupMock: func(m *MockPolicyRepository) {
				m.On("FindConflict", mock.Anything, mock.Anything).Return("", nil)
				m.On("Create", mock.Anything, mock.Anything).Return(&errors.UniqueConstraintViolation{Field: "license_plate"})
			},
			wantUnique: "license_plate",
		},
		{
			name: "missing required field",
			input: func() *model.CustomerInsurance {
				p := janeDoe()
				p.CarBrand = ""
				return p
			},
			setupMock:   func(m *MockPolicyRepository) {},
			wantInvalid: []string{"car_brand"},
		},
		{
			name: "unknown status",
			input: func() *model.CustomerInsurance {
				p := janeDoe()
				p.Status = "cancelled"
				return p
			},
			setupMock:   func(m *MockPolicyRepository) {},
			wantInvalid: []string{"status"},
		},
		{
			name: "strict dates",
			input: func() *model.CustomerInsurance {
				p := janeDoe()
				p.PolicyEndDate = p.PolicyStartDate.Add(-time.Hour)
				return p
			},
			opts:        Options{StrictDates: true},
			setupMock:   func(m *MockPolicyRepository) {},
			wantInvalid: []string{"policy_end_date"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policies := new(MockPolicyRepository)
			tt.setupMock(policies)
			svc := newTestService(policies, new(MockUserRepository), tt.opts)

			created, err := svc.Create(context.Background(), tt.input())

			switch {
			case tt.wantUnique != "":
				var unique *errors.UniqueConstraintViolation
				require.ErrorAs(t, err, &unique)
				assert.Equal(t, tt.wantUnique, unique.Field)
				assert.Nil(t, created)
			case tt.wantInvalid != nil:
				var invalid *errors.ValidationError
				require.ErrorAs(t, err, &invalid)
				fields := make([]string, 0, len(invalid.Fields))
				for _, f := range invalid.Fields {
					fields = append(fields, f.Field)
				}
				assert.ElementsMatch(t, tt.wantInvalid, fields)
				assert.Nil(t, created)
				policies.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, created.Status)
			}

			policies.AssertExpectations(t)
		})
	}
}

func TestPolicyService_CreateThenGetPreservesFields(t *testing.T) {
	policies := new(MockPolicyRepository)
	svc := newTestService(policies, new(MockUserRepository), Options{})

	var stored *model.CustomerInsurance
	policies.On("FindConflict", mock.Anything, mock.Anything).Return("", nil)
	policies.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(1).(*model.CustomerInsurance)
		p.ID = uuid.New()
		copied := *p
		stored = &copied
	}).Return(nil)

	input := janeDoe()
	input.ClaimLimit = decimal.RequireFromString("50000.1234")
	created, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	policies.On("FindByID", mock.Anything, created.ID).Return(stored, nil)
	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.PolicyNumber, got.PolicyNumber)
	assert.Equal(t, created.CustomerIns, got.CustomerIns)
	assert.Equal(t, model.PolicyStatusPending, got.Status)
	assert.True(t, decimal.RequireFromString("50000.1234").Equal(got.ClaimLimit))
}

func TestPolicyService_Update(t *testing.T) {
	approved := model.PolicyStatusApproved
	rejected := model.PolicyStatusRejected
	pending := model.PolicyStatusPending
	bogus := model.PolicyStatus("archived")
	newPlate := "NEW-777"
	newBrand := "Honda"
	emptyModel := ""

	tests := []struct {
		name        string
		current     *model.CustomerInsurance
		changes     PolicyChanges
		setupMock   func(*MockPolicyRepository, *model.CustomerInsurance)
		wantErr     func(t *testing.T, err error)
		checkResult func(t *testing.T, p *model.CustomerInsurance)
	}{
		{
			name:    "partial update of plain field",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{CarBrand: &newBrand},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
				m.On("Save", mock.Anything, p).Return(nil)
			},
			checkResult: func(t *testing.T, p *model.CustomerInsurance) {
				assert.Equal(t, "Honda", p.CarBrand)
				assert.Equal(t, "Corolla", p.CarModel)
			},
		},
		{
			name:    "unique field change is checked",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{LicensePlate: &newPlate},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
				m.On("FindConflict", mock.Anything, p).Return("license_plate", nil)
			},
			wantErr: func(t *testing.T, err error) {
				var unique *errors.UniqueConstraintViolation
				require.ErrorAs(t, err, &unique)
				assert.Equal(t, "license_plate", unique.Field)
			},
		},
		{
			name:    "not found",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{CarBrand: &newBrand},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(nil, &errors.NotFoundError{Resource: "policy", ID: p.ID.String()})
			},
			wantErr: func(t *testing.T, err error) {
				assert.True(t, stderrors.Is(err, errors.ErrNotFound))
			},
		},
		{
			name:    "unknown status",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{Status: &bogus},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
			},
			wantErr: func(t *testing.T, err error) {
				var invalid *errors.ValidationError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "status", invalid.Fields[0].Field)
			},
		},
		{
			name:    "clearing a required field",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{CarModel: &emptyModel},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
			},
			wantErr: func(t *testing.T, err error) {
				var invalid *errors.ValidationError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "car_model", invalid.Fields[0].Field)
			},
		},
		{
			name:    "approved cannot go back to pending",
			current: storedPolicy(model.PolicyStatusApproved),
			changes: PolicyChanges{Status: &pending},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
			},
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidStatusTransition)
			},
		},
		{
			name:    "update cannot approve",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{Status: &approved},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
			},
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidStatusTransition)
			},
		},
		{
			name:    "update cannot reject",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{Status: &rejected},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
			},
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidStatusTransition)
			},
		},
		{
			name:    "restating the current status is allowed",
			current: storedPolicy(model.PolicyStatusPending),
			changes: PolicyChanges{Status: &pending, CarBrand: &newBrand},
			setupMock: func(m *MockPolicyRepository, p *model.CustomerInsurance) {
				m.On("FindByID", mock.Anything, p.ID).Return(p, nil)
				m.On("Save", mock.Anything, p).Return(nil)
			},
			checkResult: func(t *testing.T, p *model.CustomerInsurance) {
				assert.Equal(t, model.PolicyStatusPending, p.Status)
				assert.Equal(t, "Honda", p.CarBrand)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policies := new(MockPolicyRepository)
			tt.setupMock(policies, tt.current)
			svc := newTestService(policies, new(MockUserRepository), Options{})

			updated, err := svc.Update(context.Background(), tt.current.ID, tt.changes)
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				assert.Nil(t, updated)
				policies.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				tt.checkResult(t, updated)
			}
			policies.AssertExpectations(t)
		})
	}
}

func TestPolicyService_UpdateClearsUserReference(t *testing.T) {
	policies := new(MockPolicyRepository)
	svc := newTestService(policies, new(MockUserRepository), Options{})

	current := storedPolicy(model.PolicyStatusPending)
	owner := uuid.New()
	current.UserID = &owner
	policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)
	policies.On("Save", mock.Anything, current).Return(nil)

	clear := uuid.Nil
	updated, err := svc.Update(context.Background(), current.ID, PolicyChanges{UserID: &clear})
	require.NoError(t, err)
	assert.Nil(t, updated.UserID)
}

func TestPolicyService_Review(t *testing.T) {
	t.Run("approve pending", func(t *testing.T) {
		policies := new(MockPolicyRepository)
		svc := newTestService(policies, new(MockUserRepository), Options{})
		current := storedPolicy(model.PolicyStatusPending)
		policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)
		policies.On("Save", mock.Anything, current).Return(nil)

		got, err := svc.Approve(context.Background(), current.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PolicyStatusApproved, got.Status)
		assert.Empty(t, got.RejectionReason)
	})

	t.Run("reject pending with reason", func(t *testing.T) {
		policies := new(MockPolicyRepository)
		svc := newTestService(policies, new(MockUserRepository), Options{})
		current := storedPolicy(model.PolicyStatusPending)
		policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)
		policies.On("Save", mock.Anything, current).Return(nil)

		got, err := svc.Reject(context.Background(), current.ID, "registration photo unreadable")
		require.NoError(t, err)
		assert.Equal(t, model.PolicyStatusRejected, got.Status)
		assert.Equal(t, "registration photo unreadable", got.RejectionReason)
	})

	for _, status := range []model.PolicyStatus{model.PolicyStatusApproved, model.PolicyStatusRejected} {
		t.Run("approve from "+string(status), func(t *testing.T) {
			policies := new(MockPolicyRepository)
			svc := newTestService(policies, new(MockUserRepository), Options{})
			current := storedPolicy(status)
			policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)

			_, err := svc.Approve(context.Background(), current.ID)
			assert.ErrorIs(t, err, errors.ErrInvalidStatusTransition)
			policies.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestPolicyService_List(t *testing.T) {
	policies := new(MockPolicyRepository)
	svc := newTestService(policies, new(MockUserRepository), Options{})

	first, second := storedPolicy(model.PolicyStatusPending), storedPolicy(model.PolicyStatusPending)
	policies.On("Count", mock.Anything, []repository.Specification{
		repository.ByStatus{Status: model.PolicyStatusPending},
	}).Return(int64(42), nil)
	policies.On("Find", mock.Anything, []repository.Specification{
		repository.ByStatus{Status: model.PolicyStatusPending},
		repository.OrderBy{Field: "created_at", Desc: true},
		repository.Pagination{Limit: 2, Offset: 4},
	}).Return(seqOf(first, second))

	page, err := svc.List(context.Background(), PolicyFilter{Status: model.PolicyStatusPending}, Page{Number: 3, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(42), page.Total)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, []*model.CustomerInsurance{first, second}, page.Items)
	policies.AssertExpectations(t)
}

func TestPolicyService_ListRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(new(MockPolicyRepository), new(MockUserRepository), Options{})

	_, err := svc.List(context.Background(), PolicyFilter{Status: "archived"}, Page{})
	var invalid *errors.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "status", invalid.Fields[0].Field)
}

func TestPolicyService_FindIsRestartable(t *testing.T) {
	policies := new(MockPolicyRepository)
	svc := newTestService(policies, new(MockUserRepository), Options{})

	a, b := storedPolicy(model.PolicyStatusApproved), storedPolicy(model.PolicyStatusApproved)
	policies.On("Find", mock.Anything, mock.Anything).Return(seqOf(a, b))

	seq := svc.Find(context.Background(), PolicyFilter{Status: model.PolicyStatusApproved})
	for range 2 {
		var got []*model.CustomerInsurance
		for p, err := range seq {
			require.NoError(t, err)
			got = append(got, p)
		}
		assert.Equal(t, []*model.CustomerInsurance{a, b}, got)
	}
}

func TestPolicyService_FindYieldsFilterError(t *testing.T) {
	svc := newTestService(new(MockPolicyRepository), new(MockUserRepository), Options{})

	for p, err := range svc.Find(context.Background(), PolicyFilter{Status: "archived"}) {
		assert.Nil(t, p)
		var invalid *errors.ValidationError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestPolicyService_Owner(t *testing.T) {
	t.Run("resolves referenced user", func(t *testing.T) {
		policies, users := new(MockPolicyRepository), new(MockUserRepository)
		svc := newTestService(policies, users, Options{})

		userID := uuid.New()
		current := storedPolicy(model.PolicyStatusPending)
		current.UserID = &userID
		policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)
		users.On("FindByID", mock.Anything, userID).Return(&model.User{ID: userID, Email: "jane@example.com"}, nil)

		user, err := svc.Owner(context.Background(), current.ID)
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com", user.Email)
	})

	t.Run("no reference", func(t *testing.T) {
		policies := new(MockPolicyRepository)
		svc := newTestService(policies, new(MockUserRepository), Options{})

		current := storedPolicy(model.PolicyStatusPending)
		policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)

		_, err := svc.Owner(context.Background(), current.ID)
		assert.ErrorIs(t, err, errors.ErrNoLinkedUser)
	})

	t.Run("dangling reference", func(t *testing.T) {
		policies, users := new(MockPolicyRepository), new(MockUserRepository)
		svc := newTestService(policies, users, Options{})

		userID := uuid.New()
		current := storedPolicy(model.PolicyStatusPending)
		current.UserID = &userID
		policies.On("FindByID", mock.Anything, current.ID).Return(current, nil)
		users.On("FindByID", mock.Anything, userID).Return(nil, &errors.NotFoundError{Resource: "user", ID: userID.String()})

		_, err := svc.Owner(context.Background(), current.ID)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}
