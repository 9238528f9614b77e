package connection

import "errors"

var (
	ErrNotConnected        = errors.New("step provider is not connected")
	ErrAccessTokenRequired = errors.New("access token is required")
)
