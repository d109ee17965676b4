package postgres

import (
	"context"
	"errors"
	"fmt"

	"walletledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserDirectory. Account management lives in a
// separate system; this repository only reads the replicated users table.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Lookup returns the user with the given ID, or nil when absent.
func (r *UserRepo) Lookup(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, username, email, is_active, created_at FROM users WHERE id = $1`

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.IsActive, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}
