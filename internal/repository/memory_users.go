package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nathanyu/bank-transfer/internal/domain"
)

// MemoryUserStore keeps registered users in memory. It is the identity
// counterpart of MemoryStore; users are lost on restart, accounts are not,
// which is acceptable for the memory backend's intended dev/test use.
type MemoryUserStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.User
	byName map[string]string // username -> id
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:   make(map[string]domain.User),
		byName: make(map[string]string),
	}
}

func (s *MemoryUserStore) CreateUser(ctx context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[user.Username]; ok {
		return domain.ErrUsernameTaken
	}

	s.byID[user.ID] = user
	s.byName[user.Username] = user.ID
	return nil
}

func (s *MemoryUserStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *MemoryUserStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryUserStore) UpdateUser(ctx context.Context, id string, update domain.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}

	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.PasswordHash != nil {
		user.PasswordHash = *update.PasswordHash
	}

	s.byID[id] = user
	return nil
}

func (s *MemoryUserStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}

	delete(s.byID, id)
	delete(s.byName, user.Username)
	return nil
}

func (s *MemoryUserStore) SearchUsers(ctx context.Context, filter string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(filter)
	var users []domain.User
	for _, user := range s.byID {
		if needle == "" ||
			strings.Contains(strings.ToLower(user.FirstName), needle) ||
			strings.Contains(strings.ToLower(user.LastName), needle) {
			users = append(users, user)
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
