package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/database"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

const (
	userColumns = `id, username, email, full_name, disabled, hashed_password, created_at`

	emailConstraint = "users_email_key"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	pool database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(pool database.DBTX) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	ctx = database.WithOperation(ctx, "GetUserByUsername")

	var u domain.User
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.Disabled,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	return &u, nil
}

// Create inserts a new user. The unique constraints on username and email
// decide conflicts, so concurrent registrations cannot both succeed.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (username, email, full_name, disabled, hashed_password)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	ctx = database.WithOperation(ctx, "CreateUser")

	err := r.pool.QueryRow(ctx, query,
		u.Username,
		u.Email,
		u.FullName,
		u.Disabled,
		u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == emailConstraint {
				return apperrors.AlreadyExists("user", "email")
			}
			return apperrors.AlreadyExists("user", "username")
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// List returns all users ordered by id.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	ctx = database.WithOperation(ctx, "ListUsers")

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&u.FullName,
			&u.Disabled,
			&u.PasswordHash,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// SetDisabled toggles the disabled flag for username.
func (r *UserRepository) SetDisabled(ctx context.Context, username string, disabled bool) error {
	query := `UPDATE users SET disabled = $1 WHERE username = $2`

	ctx = database.WithOperation(ctx, "SetUserDisabled")

	ct, err := r.pool.Exec(ctx, query, disabled, username)
	if err != nil {
		return fmt.Errorf("update user disabled: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", username)
	}

	return nil
}
