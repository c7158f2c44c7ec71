package discovery

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("discovery_invalid_config")
	ErrRegister      = errors.ErrorCode("discovery_register_failed")
)
