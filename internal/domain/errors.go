package domain

import "errors"

// Error taxonomy (sentinels). Handlers and batch drivers map these to
// HTTP codes and per-item error entries respectively.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyRunning    = errors.New("already running")
	ErrPrecondition      = errors.New("precondition failed")
	ErrNoAPIKey          = errors.New("api key missing")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamProtocol  = errors.New("upstream protocol error")
	ErrInternal          = errors.New("internal error")
)
