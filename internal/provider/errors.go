package provider

import "errors"

// Failure taxonomy surfaced to the sync engine. Anything not wrapped in one
// of these sentinels is treated as transient by the caller.
var (
	// ErrTokenExpired means the access token was rejected; one refresh and
	// retry may recover the request.
	ErrTokenExpired = errors.New("provider: access token expired")
	// ErrRateLimited means the per-user hourly quota is exhausted; only
	// waiting recovers it.
	ErrRateLimited = errors.New("provider: rate limited")
	// ErrRefreshRejected means the refresh token itself was rejected.
	ErrRefreshRejected = errors.New("provider: refresh token rejected")
)
