package cberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesOpAndKind(t *testing.T) {
	err := New(NotFound, "path.Get", nil)
	assert.Equal(t, "path.Get: not_found", err.Error())
}

func TestErrorMessageIncludesWrappedCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(FileError, "pagefile.Write", cause)
	assert.Equal(t, "pagefile.Write: file_error: boom", err.Error())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(Corrupt, "blockalloc.Begin", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorsIsMatchesByKindRegardlessOfOpOrCause(t *testing.T) {
	err := New(NotFound, "path.Get", fmt.Errorf("missing field"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func TestErrorsIsDoesNotMatchPlainError(t *testing.T) {
	err := New(NotFound, "path.Get", nil)
	assert.False(t, errors.Is(err, errors.New("not_found")))
}

func TestErrorsAsRecoversKindAndOp(t *testing.T) {
	var target *Error
	err := New(KeyCacheError, "keycache.GetKey", fmt.Errorf("too long"))
	require := errors.As(err, &target)
	assert.True(t, require)
	assert.Equal(t, KeyCacheError, target.Kind)
	assert.Equal(t, "keycache.GetKey", target.Op)
}
