package connection

import (
	"context"
	"time"
)

type Repository interface {
	// Get returns the credential row for the user, or ErrNotConnected when
	// no row exists.
	Get(ctx context.Context, userID string) (*SyncCredential, error)
	Upsert(ctx context.Context, credential *SyncCredential) error
	// UpdateTokens persists a refreshed token pair without touching the
	// rest of the row.
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
	UpdateLastSync(ctx context.Context, userID string, at time.Time) error
	// ListConnected returns every credential with Connected set, in a
	// stable order.
	ListConnected(ctx context.Context) ([]SyncCredential, error)
}
