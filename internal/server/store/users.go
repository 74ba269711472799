package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateUser records a registered email. ErrUserExists on conflict.
func (s *Store) CreateUser(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (email) VALUES (?)`, email)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUserExists
		}
		return fmt.Errorf("create user %s: %w", email, err)
	}
	return nil
}

// HasUser reports whether email is registered.
func (s *Store) HasUser(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has user %s: %w", email, err)
	}
	return true, nil
}

// ListUsers returns every registered email.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	var emails []string
	if err := s.db.SelectContext(ctx, &emails, `SELECT email FROM users ORDER BY email`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return emails, nil
}
