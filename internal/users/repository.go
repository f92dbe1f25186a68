package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error)
	FindByID(ctx context.Context, id int64) (User, error)
	SetStatus(ctx context.Context, id int64, status string) (User, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// ListUsers returns a filtered page of users plus the total count.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Role != "" {
		args = append(args, filter.Role)
		where += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.Per, total)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, email, full_name, role, status, created_at, updated_at
		FROM users%s
		ORDER BY id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// FindByID returns one user.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, full_name, role, status, created_at, updated_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// SetStatus updates an account's status and returns the new row.
func (r *Repository) SetStatus(ctx context.Context, id int64, status string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, email, full_name, role, status, created_at, updated_at`, id, status).
		Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}
