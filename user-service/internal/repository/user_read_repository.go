package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Venomous0511/JeepEZ/shared/models"
	sharedredis "github.com/Venomous0511/JeepEZ/shared/redis"
)

const (
	userListKey = "users:list"
	userListTTL = 5 * time.Minute
)

// UserReadRepository serves the public user listing.
// It uses Redis as the primary read store, falling back to PostgreSQL on a miss.
type UserReadRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[[]models.UserView]
}

func NewUserReadRepository(db *sql.DB, redisClient goredis.Cmdable) *UserReadRepository {
	return &UserReadRepository{
		db:    db,
		cache: sharedredis.NewViewCache[[]models.UserView](redisClient, userListTTL),
	}
}

// List returns name and email of every live user.
func (r *UserReadRepository) List(ctx context.Context) ([]models.UserView, error) {
	return r.cache.GetOrLoad(ctx, userListKey, r.listFromDB)
}

func (r *UserReadRepository) listFromDB(ctx context.Context) ([]models.UserView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, email
		FROM users
		WHERE deleted_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	views := []models.UserView{}
	for rows.Next() {
		var v models.UserView
		if err := rows.Scan(&v.Name, &v.Email); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return views, nil
}

// InvalidateList drops the cached listing. Called by the command service after
// every mutation that changes the set of live users.
func (r *UserReadRepository) InvalidateList(ctx context.Context) {
	r.cache.Delete(ctx, userListKey)
}
