package credentials

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrNotFound = errors.ErrorCode("credentials_not_found")
	ErrStorage  = errors.ErrorCode("credentials_storage_failed")
	ErrInvalid  = errors.ErrorCode("credentials_invalid")
)
