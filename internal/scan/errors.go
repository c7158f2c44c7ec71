package scan

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	ErrRadioBusy  = errors.ErrorCode("scan_radio_busy")
	ErrRadioFault = errors.ErrorCode("scan_radio_fault")
)
