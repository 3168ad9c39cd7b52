// Package identity owns signup, signin, and profile management. It sits in
// front of the user store and seeds a new account for every registered user;
// it never touches balances after that.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/nathanyu/bank-transfer/internal/auth"
	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/repository"
	"github.com/nathanyu/bank-transfer/internal/telemetry"
)

// ErrInvalidInput wraps all signup/update validation failures.
var ErrInvalidInput = errors.New("invalid input")

const (
	minUsernameLen = 3
	maxUsernameLen = 30
	minPasswordLen = 6
	maxNameLen     = 50
)

type Service struct {
	users    repository.UserStore
	accounts repository.AccountStore
	tokens   *auth.TokenManager
	seedMin  int64
	seedMax  int64
}

// NewService creates the identity service. New accounts are seeded with a
// uniformly random balance in [seedMin, seedMax] cents.
func NewService(users repository.UserStore, accounts repository.AccountStore, tokens *auth.TokenManager, seedMin, seedMax int64) *Service {
	if seedMax < seedMin {
		seedMax = seedMin
	}
	return &Service{
		users:    users,
		accounts: accounts,
		tokens:   tokens,
		seedMin:  seedMin,
		seedMax:  seedMax,
	}
}

// SignupParams are the fields of a signup request.
type SignupParams struct {
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// UpdateParams are the optional fields of a profile update. Nil means
// "leave unchanged".
type UpdateParams struct {
	FirstName *string
	LastName  *string
	Password  *string
}

// Signup registers a new user, seeds their account, and returns a bearer
// token.
func (s *Service) Signup(ctx context.Context, p SignupParams) (string, error) {
	if err := validateSignup(p); err != nil {
		return "", err
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return "", err
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return "", err
	}

	seed := s.seedMin + rand.Int64N(s.seedMax-s.seedMin+1)
	if _, err := s.accounts.Create(ctx, user.ID, seed); err != nil {
		// A user without an account must not survive signup; best-effort
		// cleanup so the username is usable again.
		if delErr := s.users.DeleteUser(ctx, user.ID); delErr != nil {
			slog.ErrorContext(ctx, "failed to remove user after seed failure",
				"user_id", user.ID, "error", delErr)
		}
		return "", fmt.Errorf("failed to seed account for user %s: %w", user.ID, err)
	}

	telemetry.SignupsTotal.Inc()
	slog.InfoContext(ctx, "user signed up", "user_id", user.ID, "username", user.Username)

	return s.tokens.Issue(user.ID)
}

// Signin verifies credentials and returns a bearer token. It does not
// distinguish unknown usernames from wrong passwords.
func (s *Service) Signin(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", domain.ErrInvalidCredentials
	}

	return s.tokens.Issue(user.ID)
}

// Update changes the caller's profile fields.
func (s *Service) Update(ctx context.Context, userID string, p UpdateParams) error {
	update := domain.UserUpdate{
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}

	if p.FirstName != nil && len(*p.FirstName) > maxNameLen {
		return fmt.Errorf("%w: first name must be at most %d characters", ErrInvalidInput, maxNameLen)
	}
	if p.LastName != nil && len(*p.LastName) > maxNameLen {
		return fmt.Errorf("%w: last name must be at most %d characters", ErrInvalidInput, maxNameLen)
	}
	if p.Password != nil {
		if len(*p.Password) < minPasswordLen {
			return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
		}
		hash, err := auth.HashPassword(*p.Password)
		if err != nil {
			return err
		}
		update.PasswordHash = &hash
	}

	return s.users.UpdateUser(ctx, userID, update)
}

// Search returns users whose first or last name contains the filter.
func (s *Service) Search(ctx context.Context, filter string) ([]domain.User, error) {
	return s.users.SearchUsers(ctx, filter)
}

func validateSignup(p SignupParams) error {
	if len(p.Username) < minUsernameLen || len(p.Username) > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if len(p.Password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(p.FirstName) > maxNameLen || len(p.LastName) > maxNameLen {
		return fmt.Errorf("%w: names must be at most %d characters", ErrInvalidInput, maxNameLen)
	}
	return nil
}
