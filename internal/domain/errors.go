package domain

import "errors"

var (
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrTargetExists      = errors.New("target already exists")
	ErrTargetNotFound    = errors.New("target not found")
	ErrDraftNotFound     = errors.New("draft not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoEligibleAccount = errors.New("no eligible account")
	ErrNotConnected      = errors.New("account is not connected")
	ErrInvalidButton     = errors.New("invalid button")
	ErrInvalidContent    = errors.New("invalid content")
	ErrInvalidTime       = errors.New("invalid time")
)
