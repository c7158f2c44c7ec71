package telemetry

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrConnect       = errors.ErrorCode("telemetry_connect_failed")
	ErrPublish       = errors.ErrorCode("telemetry_publish_failed")
	ErrNotConnected  = errors.ErrorCode("telemetry_not_connected")
)
