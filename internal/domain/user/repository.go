package user

import "context"

type Repository interface {
	// UpsertProfile creates or refreshes the profile row mirrored from the
	// identity provider on each authenticated request.
	UpsertProfile(ctx context.Context, profile *Profile) error
}
