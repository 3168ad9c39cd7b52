package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nathanyu/bank-transfer/internal/domain"
)

// PostgresUserStore holds registered users in the users table.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.FirstName, user.LastName, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *PostgresUserStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *PostgresUserStore) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, last_name, password_hash, created_at
		FROM users `+where, arg,
	).Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("failed to read user: %w", err)
	}
	return user, nil
}

func (s *PostgresUserStore) UpdateUser(ctx context.Context, id string, update domain.UserUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name    = COALESCE($2, first_name),
		    last_name     = COALESCE($3, last_name),
		    password_hash = COALESCE($4, password_hash)
		WHERE id = $1`,
		id, update.FirstName, update.LastName, update.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *PostgresUserStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *PostgresUserStore) SearchUsers(ctx context.Context, filter string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, first_name, last_name, password_hash, created_at
		FROM users
		WHERE first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%'
		ORDER BY username`,
		filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName,
			&user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}
