package connection

import "time"

// SyncCredential holds one user's remote step provider connection. While
// Connected is true the access token is guaranteed non-empty; Connect
// enforces that and Disconnect clears both tokens.
type SyncCredential struct {
	UserID         string     `gorm:"type:uuid;primaryKey"`
	AccessToken    string     `gorm:"type:text;not null;default:''"`
	RefreshToken   string     `gorm:"type:text;not null;default:''"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at"`
	Connected      bool       `gorm:"not null;default:false"`
	ConnectedAt    *time.Time
	LastSyncAt     *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (SyncCredential) TableName() string {
	return "sync_credentials"
}

type Status struct {
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

type ConnectInput struct {
	UserID         string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}
