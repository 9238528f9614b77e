package connection

import (
	"context"
	"errors"
	"time"

	connectiondomain "steptrack-go/internal/domain/connection"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*connectiondomain.SyncCredential, error) {
	var credential connectiondomain.SyncCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&credential).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connectiondomain.ErrNotConnected
		}
		return nil, err
	}
	return &credential, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, credential *connectiondomain.SyncCredential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token",
				"refresh_token",
				"token_expires_at",
				"connected",
				"connected_at",
				"updated_at",
			}),
		}).
		Create(credential).Error
}

func (r *PostgresRepository) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&connectiondomain.SyncCredential{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}

func (r *PostgresRepository) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&connectiondomain.SyncCredential{}).
		Where("user_id = ?", userID).
		Update("last_sync_at", at).Error
}

func (r *PostgresRepository) ListConnected(ctx context.Context) ([]connectiondomain.SyncCredential, error) {
	var credentials []connectiondomain.SyncCredential
	err := r.db.WithContext(ctx).
		Where("connected = ?", true).
		Order("user_id").
		Find(&credentials).Error
	if err != nil {
		return nil, err
	}
	return credentials, nil
}
