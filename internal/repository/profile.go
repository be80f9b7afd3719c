package repository

import (
	"context"
	"errors"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfileRepository struct {
	db dbtx
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: pool}
}

// GetByID returns the profile for a verified caller id. Callers with no
// profile row fall back to the default role upstream.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	var fullName, email, role *string
	err := r.db.QueryRow(ctx,
		`SELECT id, full_name, email, role FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &fullName, &email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	if fullName != nil {
		p.FullName = *fullName
	}
	if email != nil {
		p.Email = *email
	}
	if role != nil {
		p.Role = *role
	}
	return &p, nil
}
