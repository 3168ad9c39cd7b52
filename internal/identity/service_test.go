package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nathanyu/bank-transfer/internal/auth"
	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *repository.MemoryUserStore, *repository.MemoryStore, *auth.TokenManager) {
	t.Helper()
	users := repository.NewMemoryUserStore()
	accounts, err := repository.NewMemoryStore(nil)
	require.NoError(t, err)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return NewService(users, accounts, tokens, 100, 100000), users, accounts, tokens
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	svc, users, accounts, tokens := newTestService(t)

	token, err := svc.Signup(ctx, SignupParams{
		Username:  "alice",
		FirstName: "Alice",
		LastName:  "Smith",
		Password:  "hunter22",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// The token resolves to a registered user with a seeded account
	userID, err := tokens.Verify(token)
	require.NoError(t, err)

	user, err := users.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	account, err := accounts.Get(ctx, userID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, account.Balance, int64(100))
	assert.LessOrEqual(t, account.Balance, int64(100000))
}

func TestSignup_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name   string
		params SignupParams
	}{
		{"username too short", SignupParams{Username: "ab", Password: "hunter22"}},
		{"password too short", SignupParams{Username: "alice", Password: "short"}},
		{"first name too long", SignupParams{
			Username: "alice", Password: "hunter22",
			FirstName: string(make([]byte, 51)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(ctx, tt.params)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

// failingAccountStore rejects every account creation.
type failingAccountStore struct {
	repository.AccountStore
}

func (s *failingAccountStore) Create(ctx context.Context, userID string, seed int64) (domain.Account, error) {
	return domain.Account{}, errors.New("storage unavailable")
}

func TestSignup_SeedFailureRemovesUser(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserStore()
	accounts, err := repository.NewMemoryStore(nil)
	require.NoError(t, err)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	broken := NewService(users, &failingAccountStore{AccountStore: accounts}, tokens, 100, 100)
	_, err = broken.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22"})
	require.Error(t, err)

	// No half-registered user survives
	_, err = users.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// The username is free for a working signup
	working := NewService(users, accounts, tokens, 100, 100)
	_, err = working.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22"})
	assert.NoError(t, err)
}

func TestSignup_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, SignupParams{Username: "alice", Password: "different1"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestSignin(t *testing.T) {
	ctx := context.Background()
	svc, _, _, tokens := newTestService(t)

	_, err := svc.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	token, err := svc.Signin(ctx, "alice", "hunter22")
	require.NoError(t, err)
	_, err = tokens.Verify(token)
	assert.NoError(t, err)

	// Wrong password and unknown username look the same
	_, err = svc.Signin(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Signin(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, users, _, tokens := newTestService(t)

	token, err := svc.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22", FirstName: "Alice"})
	require.NoError(t, err)
	userID, err := tokens.Verify(token)
	require.NoError(t, err)

	newFirst := "Alicia"
	newPassword := "newpass99"
	err = svc.Update(ctx, userID, UpdateParams{FirstName: &newFirst, Password: &newPassword})
	require.NoError(t, err)

	user, err := users.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", user.FirstName)

	// The new password works, the old does not
	_, err = svc.Signin(ctx, "alice", "newpass99")
	assert.NoError(t, err)
	_, err = svc.Signin(ctx, "alice", "hunter22")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestUpdate_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, tokens := newTestService(t)

	token, err := svc.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	userID, err := tokens.Verify(token)
	require.NoError(t, err)

	shortPassword := "abc"
	err = svc.Update(ctx, userID, UpdateParams{Password: &shortPassword})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	_, err := svc.Signup(ctx, SignupParams{Username: "alice", Password: "hunter22", FirstName: "Alice", LastName: "Smith"})
	require.NoError(t, err)
	_, err = svc.Signup(ctx, SignupParams{Username: "bob", Password: "hunter22", FirstName: "Bob", LastName: "Jones"})
	require.NoError(t, err)

	users, err := svc.Search(ctx, "smith")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}
