package wifi

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrNoCredentials    = errors.ErrorCode("wifi_no_credentials")
	ErrRetriesExhausted = errors.ErrorCode("wifi_retries_exhausted")
	ErrTimeout          = errors.ErrorCode("wifi_connect_timeout")
	ErrCanceled         = errors.ErrorCode("wifi_connect_canceled")
	ErrRadio            = errors.ErrorCode("wifi_radio_failed")
	ErrStartAP          = errors.ErrStartAP
	ErrStartPortal      = errors.ErrStartPortal
)
