package radio

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrCommandFailed = errors.ErrorCode("radio_command_failed")
	ErrNotStarted    = errors.ErrorCode("radio_sta_not_started")
)
