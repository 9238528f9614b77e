package user

import (
	"context"

	userdomain "steptrack-go/internal/domain/user"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UpsertProfile(ctx context.Context, profile *userdomain.Profile) error {
	assignments := map[string]interface{}{
		"updated_at": gorm.Expr("NOW()"),
	}
	if profile.Email != nil {
		assignments["email"] = *profile.Email
	}
	if profile.Name != nil {
		assignments["name"] = *profile.Name
	}
	if profile.AvatarURL != nil {
		assignments["avatar_url"] = *profile.AvatarURL
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(profile).Error
}
