package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/auth"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	bcryptCost        = 12
	minPasswordLength = 6
	providerGoogle    = "google"
)

var (
	// ErrEmailTaken indicates a registration against an existing address.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrWeakPassword indicates the password does not meet the minimum length.
	ErrWeakPassword = fmt.Errorf("users: password must be at least %d characters", minPasswordLength)
	// ErrMissingFields indicates a registration without email, password, or name.
	ErrMissingFields = errors.New("users: email, password, and name are required")
	// ErrUserNotFound indicates an unknown account identifier.
	ErrUserNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages creator accounts: registration, credential checks, and
// OAuth provisioning.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register creates an account with a bcrypt-hashed password and returns it.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return nil, ErrMissingFields
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	user := User{
		ID:           id.String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

// Authenticate checks an email/password pair and returns the account.
// Unknown addresses, wrong passwords, and provider-only accounts all fail
// the same way.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// ResolveGoogleUser returns the account for verified Google claims, creating
// one on first sign-in and recording the provider binding on later ones.
func (s *Service) ResolveGoogleUser(ctx context.Context, claims auth.GoogleClaims) (*User, error) {
	email := NormalizeEmail(claims.Email)
	if email == "" || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := uuid.NewV7()
		if idErr != nil {
			return nil, idErr
		}
		user = User{
			ID:            id.String(),
			Email:         email,
			Name:          strings.TrimSpace(claims.Name),
			OAuthProvider: providerGoogle,
			OAuthSubject:  claims.Subject,
		}
		if createErr := s.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			return nil, createErr
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	if user.OAuthProvider != providerGoogle || user.OAuthSubject != claims.Subject {
		updates := map[string]interface{}{
			"oauth_provider": providerGoogle,
			"oauth_subject":  claims.Subject,
			"updated_at":     s.now(),
		}
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
		user.OAuthProvider = providerGoogle
		user.OAuthSubject = claims.Subject
	}
	return &user, nil
}

// GetByID loads an account by its identifier.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Identity converts an account into the requester identity handlers carry.
func (u *User) Identity() auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
