package errors

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadySearching   = errors.New("user is already searching")
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrMatchFailed        = errors.New("match failed, retry")
	ErrNotMatched         = errors.New("queue entry is not matched")
	ErrInvalidPreferences = errors.New("invalid preferences")
	ErrRoomNotFound       = errors.New("room not found")
)
