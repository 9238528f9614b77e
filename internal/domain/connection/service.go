package connection

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) Connect(ctx context.Context, input ConnectInput) error {
	accessToken := strings.TrimSpace(input.AccessToken)
	if accessToken == "" {
		return ErrAccessTokenRequired
	}

	connectedAt := s.now().UTC()
	credential := SyncCredential{
		UserID:         input.UserID,
		AccessToken:    accessToken,
		RefreshToken:   strings.TrimSpace(input.RefreshToken),
		TokenExpiresAt: input.TokenExpiresAt,
		Connected:      true,
		ConnectedAt:    &connectedAt,
	}

	return s.repo.Upsert(ctx, &credential)
}

func (s *Service) Disconnect(ctx context.Context, userID string) error {
	credential, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}

	credential.AccessToken = ""
	credential.RefreshToken = ""
	credential.TokenExpiresAt = nil
	credential.Connected = false
	credential.ConnectedAt = nil

	return s.repo.Upsert(ctx, credential)
}

func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	credential, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return Status{}, nil
		}
		return Status{}, err
	}

	return Status{
		Connected:   credential.Connected,
		ConnectedAt: credential.ConnectedAt,
		LastSyncAt:  credential.LastSyncAt,
	}, nil
}
