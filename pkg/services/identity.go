package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
)

// errInvalidCredentials covers both unknown emails and wrong passwords.
var errInvalidCredentials = fmt.Errorf("invalid email or password: %w", apperrors.ErrUnauthorized)

// Registration is the input to IdentityService.Register.
type Registration struct {
	Name        string
	Email       string
	Password    string
	CompanyName string
	Industry    string
	Size        string
}

// IdentityService registers users and issues access tokens.
type IdentityService interface {
	// Register creates a password account, resolving its company first.
	Register(ctx context.Context, in Registration) (*models.User, error)

	// Login checks credentials and issues a token.
	Login(ctx context.Context, email, password string) (*auth.AccessToken, *models.User, error)

	// LoginWithGoogle finds or registers the account behind a verified Google profile.
	LoginWithGoogle(ctx context.Context, profile *auth.GoogleUser) (*auth.AccessToken, *models.User, error)

	// Me returns the current user's profile.
	Me(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type identityService struct {
	users     repositories.UserRepository
	companies repositories.CompanyRepository
	issuer    *auth.TokenIssuer
	activity  audit.ActivityRecorder
	logger    *zap.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(
	users repositories.UserRepository,
	companies repositories.CompanyRepository,
	issuer *auth.TokenIssuer,
	activity audit.ActivityRecorder,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		users:     users,
		companies: companies,
		issuer:    issuer,
		activity:  activity,
		logger:    logger.Named("identity-service"),
	}
}

var _ IdentityService = (*identityService)(nil)

// normalizeEmail lower-cases and validates an address, returning its domain.
func normalizeEmail(email string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", apperrors.MissingField("email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", apperrors.NewValidationError("email", "is not a valid address")
	}
	_, domain, _ := strings.Cut(email, "@")
	if !strings.Contains(domain, ".") {
		return "", "", apperrors.NewValidationError("email", "is not a valid address")
	}
	return email, domain, nil
}

// companyNameFromDomain turns "acme-corp.example.com" into "Acme-corp".
func companyNameFromDomain(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return domain
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// resolveCompany finds or creates the company a new user joins: by name when
// one is given, otherwise by email domain.
func (s *identityService) resolveCompany(ctx context.Context, in Registration, domain string) (*models.Company, error) {
	name := strings.TrimSpace(in.CompanyName)

	var (
		existing *models.Company
		err      error
	)
	if name != "" {
		existing, err = s.companies.GetByName(ctx, name)
	} else {
		existing, err = s.companies.GetByDomain(ctx, domain)
	}
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	company := &models.Company{
		Name:     name,
		Industry: in.Industry,
		Size:     in.Size,
	}
	if name == "" {
		company.Name = companyNameFromDomain(domain)
		company.Domain = domain
	}
	if err := s.companies.Create(ctx, company); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		// Another registration created it first, or the derived name is taken.
		return s.companies.GetByName(ctx, company.Name)
	}

	s.logger.Info("Company created",
		zap.String("company_id", company.ID.String()),
		zap.String("name", company.Name))
	return company, nil
}

func (s *identityService) Register(ctx context.Context, in Registration) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperrors.MissingField("name")
	}
	email, domain, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) || errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperrors.NewValidationError("password", err.Error())
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", apperrors.ErrConflict)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	company, err := s.resolveCompany(ctx, in, domain)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		IsActive:     true,
		CompanyID:    &company.ID,
		Roles:        []string{models.RoleUser},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("email already registered: %w", apperrors.ErrConflict)
		}
		return nil, err
	}

	s.activity.Record(ctx, models.ActionRegister, &user.ID, map[string]any{
		"email":      user.Email,
		"company_id": company.ID.String(),
	})
	return user, nil
}

func (s *identityService) Login(ctx context.Context, email, password string) (*auth.AccessToken, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil, apperrors.MissingField("email")
	}
	if password == "" {
		return nil, nil, apperrors.MissingField("password")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, errInvalidCredentials
		}
		return nil, nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Info("Login rejected", zap.String("user_id", user.ID.String()))
		return nil, nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, fmt.Errorf("account is disabled: %w", apperrors.ErrForbidden)
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	s.activity.Record(ctx, models.ActionLogin, &user.ID, map[string]any{"email": user.Email})
	return token, user, nil
}

func (s *identityService) LoginWithGoogle(ctx context.Context, profile *auth.GoogleUser) (*auth.AccessToken, *models.User, error) {
	if profile == nil || !profile.VerifiedEmail {
		return nil, nil, fmt.Errorf("google account email is not verified: %w", apperrors.ErrUnauthorized)
	}
	email, domain, err := normalizeEmail(profile.Email)
	if err != nil {
		return nil, nil, err
	}

	action := models.ActionGoogleLogin
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.IsActive {
			return nil, nil, fmt.Errorf("account is disabled: %w", apperrors.ErrForbidden)
		}
		if err := s.users.UpdateGoogleProfile(ctx, user.ID, profile.Name, profile.Picture); err != nil {
			return nil, nil, err
		}
		user.IsGoogleAuth = true
		user.Name = profile.Name
		user.Picture = profile.Picture
	case errors.Is(err, apperrors.ErrNotFound):
		company, err := s.resolveCompany(ctx, Registration{}, domain)
		if err != nil {
			return nil, nil, err
		}
		user = &models.User{
			Email:        email,
			Name:         profile.Name,
			Picture:      profile.Picture,
			IsActive:     true,
			IsGoogleAuth: true,
			CompanyID:    &company.ID,
			Roles:        []string{models.RoleUser},
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, nil, err
		}
		action = models.ActionGoogleRegister
	default:
		return nil, nil, err
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	s.activity.Record(ctx, action, &user.ID, map[string]any{"email": user.Email})
	return token, user, nil
}

func (s *identityService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}
