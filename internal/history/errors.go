package history

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrInvalidConfig     = errors.ErrInvalidConfig
	ErrTransactionFailed = errors.ErrorCode("history_transaction_failed")
	ErrQueryFailed       = errors.ErrorCode("history_query_failed")
	ErrClosed            = errors.ErrorCode("history_closed")
)
