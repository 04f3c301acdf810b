package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"carinsure/internal/config"
	"carinsure/internal/db"
	"carinsure/internal/errors"
	"carinsure/internal/logger"
	"carinsure/internal/model"
	"carinsure/internal/repository"
	"carinsure/internal/service"
)

// Fixture is the layout of the seed file.
type Fixture struct {
	Users    []SeedUser   `yaml:"users"`
	Policies []SeedPolicy `yaml:"policies"`
}

// SeedUser is a user record in the seed file.
type SeedUser struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Role      string `yaml:"role"`
}

// SeedPolicy is a policy record in the seed file. UserEmail links the policy
// to a seeded user; dates and claim_limit are kept as strings so the exact
// decimal text survives.
type SeedPolicy struct {
	CustomerIns        int64  `yaml:"customer_ins"`
	UserEmail          string `yaml:"user_email"`
	PolicyNumber       string `yaml:"policy_number"`
	InsuranceType      string `yaml:"insurance_type"`
	PolicyStartDate    string `yaml:"policy_start_date"`
	PolicyEndDate      string `yaml:"policy_end_date"`
	CarBrand           string `yaml:"car_brand"`
	CarModel           string `yaml:"car_model"`
	CarYear            int    `yaml:"car_year"`
	LicensePlate       string `yaml:"license_plate"`
	ClaimLimit         string `yaml:"claim_limit"`
	CoverageDetails    string `yaml:"coverage_details"`
	Status             string `yaml:"status"`
	RejectionReason    string `yaml:"rejection_reason"`
	RegisteredCarImage string `yaml:"registered_car_image"`
	FirstName          string `yaml:"first_name"`
	LastName           string `yaml:"last_name"`
}

func main() {
	path := flag.String("file", "fixtures/policies.yaml", "seed file")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.LogFile, cfg.IsProduction()).Named("seed")
	defer log.Sync() //nolint:errcheck

	fixture, err := loadFixture(*path)
	if err != nil {
		log.Fatal("read seed file", zap.String("file", *path), zap.Error(err))
	}

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("database init", zap.Error(err))
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	users := repository.NewUserRepository(gormDB)
	policies := service.NewPolicyService(repository.NewPolicyRepository(gormDB), users, nil, log, service.Options{
		StrictDates: cfg.StrictPolicyDates,
	})

	ctx := context.Background()
	userIDs := map[string]*model.User{}
	for _, su := range fixture.Users {
		user, err := ensureUser(ctx, users, su)
		if err != nil {
			log.Fatal("seed user", zap.String("email", su.Email), zap.Error(err))
		}
		userIDs[su.Email] = user
	}

	created, skipped := 0, 0
	for i, sp := range fixture.Policies {
		policy, err := sp.toModel(userIDs)
		if err != nil {
			log.Warn("skipping invalid record", zap.Int("index", i), zap.Error(err))
			skipped++
			continue
		}
		if _, err := policies.Create(ctx, policy); err != nil {
			var unique *errors.UniqueConstraintViolation
			if stderrors.As(err, &unique) {
				skipped++
				continue
			}
			log.Warn("create policy", zap.String("policy_number", sp.PolicyNumber), zap.Error(err))
			skipped++
			continue
		}
		created++
	}

	log.Info("seed completed", zap.Int("users", len(userIDs)), zap.Int("created", created), zap.Int("skipped", skipped))
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFixture(data)
}

func parseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &f, nil
}

func ensureUser(ctx context.Context, users repository.UserRepository, su SeedUser) (*model.User, error) {
	existing, err := users.FindByEmail(ctx, su.Email)
	if err == nil {
		return existing, nil
	}
	if !stderrors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	user := &model.User{FirstName: su.FirstName, LastName: su.LastName, Email: su.Email, Role: su.Role}
	if user.Role == "" {
		user.Role = "user"
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (sp SeedPolicy) toModel(users map[string]*model.User) (*model.CustomerInsurance, error) {
	start, err := time.Parse(time.DateOnly, sp.PolicyStartDate)
	if err != nil {
		return nil, fmt.Errorf("policy_start_date: %w", err)
	}
	end, err := time.Parse(time.DateOnly, sp.PolicyEndDate)
	if err != nil {
		return nil, fmt.Errorf("policy_end_date: %w", err)
	}
	limit, err := decimal.NewFromString(sp.ClaimLimit)
	if err != nil {
		return nil, fmt.Errorf("claim_limit: %w", err)
	}

	policy := &model.CustomerInsurance{
		CustomerIns:        sp.CustomerIns,
		PolicyNumber:       sp.PolicyNumber,
		InsuranceType:      sp.InsuranceType,
		PolicyStartDate:    start,
		PolicyEndDate:      end,
		CarBrand:           sp.CarBrand,
		CarModel:           sp.CarModel,
		CarYear:            sp.CarYear,
		LicensePlate:       sp.LicensePlate,
		ClaimLimit:         limit,
		CoverageDetails:    sp.CoverageDetails,
		Status:             model.PolicyStatus(sp.Status),
		RejectionReason:    sp.RejectionReason,
		RegisteredCarImage: sp.RegisteredCarImage,
		FirstName:          sp.FirstName,
		LastName:           sp.LastName,
	}
	if policy.Status == "" {
		policy.Status = model.PolicyStatusPending
	}
	if sp.UserEmail != "" {
		user, ok := users[sp.UserEmail]
		if !ok {
			return nil, fmt.Errorf("user_email %q is not in the users section", sp.UserEmail)
		}
		policy.UserID = &user.ID
	}
	return policy, nil
}
