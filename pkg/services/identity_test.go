package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

type mockUserRepository struct {
	users          map[uuid.UUID]*models.User
	googleUpdates  []uuid.UUID
	createConflict bool
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: map[uuid.UUID]*models.User{}}
}

func (m *mockUserRepository) Create(_ context.Context, u *models.User) error {
	if m.createConflict {
		return apperrors.ErrConflict
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperrors.ErrConflict
		}
	}
	u.ID = uuid.New()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepository) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id.String())
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (m *mockUserRepository) UpdateGoogleProfile(_ context.Context, id uuid.UUID, name, picture string) error {
	u, ok := m.users[id]
	if !ok {
		return apperrors.NotFound("user", id.String())
	}
	u.IsGoogleAuth = true
	u.Name = name
	u.Picture = picture
	m.googleUpdates = append(m.googleUpdates, id)
	return nil
}

type mockCompanyRepository struct {
	companies []*models.Company
}

func (m *mockCompanyRepository) Create(_ context.Context, c *models.Company) error {
	for _, existing := range m.companies {
		if strings.EqualFold(existing.Name, c.Name) {
			return apperrors.ErrConflict
		}
	}
	c.ID = uuid.New()
	m.companies = append(m.companies, c)
	return nil
}

func (m *mockCompanyRepository) GetByName(_ context.Context, name string) (*models.Company, error) {
	for _, c := range m.companies {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("company", name)
}

func (m *mockCompanyRepository) GetByDomain(_ context.Context, domain string) (*models.Company, error) {
	for _, c := range m.companies {
		if c.Domain != "" && strings.EqualFold(c.Domain, domain) {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("company", domain)
}

type identityFixture struct {
	users     *mockUserRepository
	companies *mockCompanyRepository
	issuer    *auth.TokenIssuer
	activity  *mockActivity
	service   IdentityService
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("identity-test-secret", 0)
	require.NoError(t, err)
	f := &identityFixture{
		users:     newMockUserRepository(),
		companies: &mockCompanyRepository{},
		issuer:    issuer,
		activity:  &mockActivity{},
	}
	f.service = NewIdentityService(f.users, f.companies, issuer, f.activity, zap.NewNop())
	return f
}

func TestIdentityService_Register(t *testing.T) {
	f := newIdentityFixture(t)

	user, err := f.service.Register(context.Background(), Registration{
		Name:     "Ada Lovelace",
		Email:    "  Ada@Acme-Corp.example.com ",
		Password: "correct horse",
	})
	require.NoError(t, err)

	assert.Equal(t, "ada@acme-corp.example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.Equal(t, []string{models.RoleUser}, user.Roles)
	assert.NotEqual(t, "correct horse", user.PasswordHash)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "correct horse"))

	require.Len(t, f.companies.companies, 1)
	company := f.companies.companies[0]
	assert.Equal(t, "Acme-corp", company.Name)
	assert.Equal(t, "acme-corp.example.com", company.Domain)
	require.NotNil(t, user.CompanyID)
	assert.Equal(t, company.ID, *user.CompanyID)
	assert.True(t, f.activity.has(models.ActionRegister))
}

func TestIdentityService_Register_JoinsExistingCompany(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	first, err := f.service.Register(ctx, Registration{Name: "A", Email: "a@acme.io", Password: "password1", CompanyName: "Acme", Industry: "retail"})
	require.NoError(t, err)
	second, err := f.service.Register(ctx, Registration{Name: "B", Email: "b@other.io", Password: "password2", CompanyName: "ACME"})
	require.NoError(t, err)

	assert.Len(t, f.companies.companies, 1)
	assert.Equal(t, *first.CompanyID, *second.CompanyID)
	assert.Equal(t, "retail", f.companies.companies[0].Industry)
}

func TestIdentityService_Register_Rejects(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	_, err := f.service.Register(ctx, Registration{Name: "A", Email: "a@acme.io", Password: "password1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    Registration
		check func(t *testing.T, err error)
	}{
		{"missing name", Registration{Email: "x@acme.io", Password: "password1"}, func(t *testing.T, err error) {
			assert.Equal(t, "name", validationField(t, err))
		}},
		{"bad email", Registration{Name: "X", Email: "not-an-email", Password: "password1"}, func(t *testing.T, err error) {
			assert.Equal(t, "email", validationField(t, err))
		}},
		{"dotless domain", Registration{Name: "X", Email: "x@localhost", Password: "password1"}, func(t *testing.T, err error) {
			assert.Equal(t, "email", validationField(t, err))
		}},
		{"short password", Registration{Name: "X", Email: "x@acme.io", Password: "short"}, func(t *testing.T, err error) {
			assert.Equal(t, "password", validationField(t, err))
		}},
		{"duplicate email", Registration{Name: "X", Email: "A@ACME.IO", Password: "password1"}, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, apperrors.ErrConflict))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Register(ctx, tt.in)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
	assert.Len(t, f.users.users, 1)
}

func TestIdentityService_Login(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	registered, err := f.service.Register(ctx, Registration{Name: "A", Email: "a@acme.io", Password: "password1"})
	require.NoError(t, err)

	token, user, err := f.service.Login(ctx, "A@acme.io", "password1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.Equal(t, auth.TokenType, token.TokenType)

	claims, err := f.issuer.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID.String(), claims.Subject)
	assert.Equal(t, "a@acme.io", claims.Email)
	assert.True(t, f.activity.has(models.ActionLogin))

	_, _, err = f.service.Login(ctx, "a@acme.io", "wrong-password")
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	_, _, err = f.service.Login(ctx, "nobody@acme.io", "password1")
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Equal(t, "invalid email or password: unauthorized", err.Error(), "unknown emails and bad passwords look alike")

	_, _, err = f.service.Login(ctx, "", "password1")
	assert.Equal(t, "email", validationField(t, err))
}

func TestIdentityService_Login_InactiveAccount(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	user, err := f.service.Register(ctx, Registration{Name: "A", Email: "a@acme.io", Password: "password1"})
	require.NoError(t, err)
	f.users.users[user.ID].IsActive = false

	_, _, err = f.service.Login(ctx, "a@acme.io", "password1")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestIdentityService_LoginWithGoogle(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	profile := &auth.GoogleUser{Email: "g@acme.io", Name: "Grace", Picture: "https://example.com/g.png", VerifiedEmail: true}

	token, user, err := f.service.LoginWithGoogle(ctx, profile)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.True(t, user.IsGoogleAuth)
	assert.Empty(t, user.PasswordHash)
	assert.True(t, f.activity.has(models.ActionGoogleRegister))

	profile.Name = "Grace H."
	_, again, err := f.service.LoginWithGoogle(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Grace H.", again.Name)
	assert.Equal(t, []uuid.UUID{user.ID}, f.users.googleUpdates)
	assert.True(t, f.activity.has(models.ActionGoogleLogin))
	assert.Len(t, f.users.users, 1)
}

func TestIdentityService_LoginWithGoogle_LinksPasswordAccount(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	registered, err := f.service.Register(ctx, Registration{Name: "A", Email: "a@acme.io", Password: "password1"})
	require.NoError(t, err)

	_, user, err := f.service.LoginWithGoogle(ctx, &auth.GoogleUser{Email: "a@acme.io", Name: "A", VerifiedEmail: true})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.True(t, f.users.users[registered.ID].IsGoogleAuth)
}

func TestIdentityService_LoginWithGoogle_Unverified(t *testing.T) {
	f := newIdentityFixture(t)

	_, _, err := f.service.LoginWithGoogle(context.Background(), &auth.GoogleUser{Email: "g@acme.io"})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	_, _, err = f.service.LoginWithGoogle(context.Background(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Empty(t, f.users.users)
}

func TestIdentityService_Me(t *testing.T) {
	f := newIdentityFixture(t)
	registered, err := f.service.Register(context.Background(), Registration{Name: "A", Email: "a@acme.io", Password: "password1"})
	require.NoError(t, err)

	me, err := f.service.Me(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@acme.io", me.Email)

	_, err = f.service.Me(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCompanyNameFromDomain(t *testing.T) {
	assert.Equal(t, "Acme", companyNameFromDomain("acme.com"))
	assert.Equal(t, "Data-co", companyNameFromDomain("data-co.io"))
	assert.Equal(t, ".io", companyNameFromDomain(".io"))
}
