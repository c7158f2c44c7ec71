package dnsserver

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrBind    = errors.ErrorCode("dns_bind_failed")
	ErrReceive = errors.ErrorCode("dns_receive_failed")
	ErrConfig  = errors.ErrInvalidConfig
)
