package portal

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrRender        = errors.ErrorCode("portal_render_failed")
	ErrListen        = errors.ErrorCode("portal_listen_failed")
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrBadRequest    = errors.ErrInvalidArgument
)
