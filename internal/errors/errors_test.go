package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Operation timed out", f.New(errors.ErrTimeout).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrTimeout, "custom").Error())
	assert.Equal(t, "Resource is busy: scan", f.WithData(errors.ErrResourceBusy, "scan").Error())
	assert.Equal(t, "unknown_code", f.New(errors.ErrorCode("unknown_code")).Error())

	wrapped := f.Wrap(errors.ErrOperationFailed, fmt.Errorf("disk full"))
	assert.Equal(t, "Operation failed: disk full", wrapped.Error())
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	inner := f.New(errors.ErrResourceNotFound)
	outer := f.Wrap(errors.ErrOperationFailed, fmt.Errorf("load: %w", inner))

	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrResourceNotFound))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
	assert.False(t, errors.HasCode(fmt.Errorf("plain"), errors.ErrTimeout))

	assert.Equal(t, errors.ErrOperationFailed, errors.CodeOf(outer))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(fmt.Errorf("plain")))
}
