package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// UserRepository reads the user directory: role, active flag and vessel
// assignments.
type UserRepository struct {
	db database.Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser retrieves a user and their vessel assignments.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT u.id, u.role, u.is_active,
		       COALESCE(array_agg(va.vessel_id) FILTER (WHERE va.vessel_id IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN vessel_assignments va ON va.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id, u.role, u.is_active
	`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Role, &u.IsActive, &u.VesselIDs)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}
