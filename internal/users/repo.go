package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"instaq/internal/apperr"
	"instaq/internal/store"
)

// Repository persists users and refresh tokens.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, password_hash, role, phone, address, created_at`

// Insert writes a new user. A taken email yields apperr.ErrConflict.
func (r *Repository) Insert(ctx context.Context, u User) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Phone, u.Address, u.CreatedAt.UnixNano())
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, apperr.ErrConflict)
	}
	return err
}

// GetByID returns a single user.
func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail returns the user registered under email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (User, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(query), arg)
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Phone, &u.Address, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.ErrNotFound
		}
		return User{}, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO refresh_tokens (token, user_id, expires_at, revoked)
		VALUES (?, ?, ?, ?)
	`), token, userID, expiresAt.UnixNano(), false)
	return err
}

// ActiveRefreshToken reports whether token is stored, unrevoked and unexpired.
func (r *Repository) ActiveRefreshToken(ctx context.Context, token string) (bool, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM refresh_tokens
		WHERE token = ? AND revoked = ? AND expires_at > ?
	`), token, false, time.Now().UnixNano()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`UPDATE refresh_tokens SET revoked = ? WHERE token = ?`), true, token)
	return err
}

// RevokeUserRefreshTokens revokes every refresh token of a user.
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`UPDATE refresh_tokens SET revoked = ? WHERE user_id = ?`), true, userID)
	return err
}
