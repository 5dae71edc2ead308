package models

import "errors"

// Sentinel errors returned by every store implementation.
var (
	ErrRecordNotFound = errors.New("message not found")
	ErrNotPending     = errors.New("message not pending")
	ErrAdminNotFound  = errors.New("admin not found")
	ErrStateNotFound  = errors.New("invalid state: not found")
	ErrStateExpired   = errors.New("state has expired")
)
