package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, email, name, password_hash, created_at`

// CreateUser inserts a user. A duplicate email returns ErrConflict.
func (d *DB) CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	var id int64
	err := d.db.QueryRowContext(ctx,
		d.rebind(`INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		email, name, passwordHash, formatTime(now),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting user %q: %w", email, classify(err))
	}
	return &User{ID: id, Email: email, Name: name, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// UserByEmail looks a user up by email. Unknown emails return ErrNotFound.
func (d *DB) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", email, err)
	}
	return u, nil
}

// UserByID looks a user up by id. Unknown ids return ErrNotFound.
func (d *DB) UserByID(ctx context.Context, id int64) (*User, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("querying user %d: %w", id, err)
	}
	return u, nil
}

func scanUser(s scanner) (*User, error) {
	var (
		u       User
		created string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}
