// Package cberr defines the error kinds the storage engine reports to its
// callers (spec.md §7), following the teacher pack's wrap-with-context
// pattern (scigolib-hdf5's H5Error) rather than the plain fmt.Errorf the
// teacher itself uses, since here the caller genuinely needs to switch on
// the failure kind (errors.Is), not just read a message.
package cberr

import "fmt"

// Kind identifies a class of failure a caller may want to distinguish.
type Kind string

const (
	// AllocTooLarge: allocation request exceeds the largest block size.
	AllocTooLarge Kind = "alloc_too_large"
	// Corrupt: an on-disk structure failed a magic/tag/alignment check.
	Corrupt Kind = "corrupt"
	// NotFound: path resolution hit a missing field or element.
	NotFound Kind = "not_found"
	// UnknownKey: a key-cache lookup referenced an unknown interned key.
	UnknownKey Kind = "unknown_key"
	// IndexOutOfRange: an array index was past the end.
	IndexOutOfRange Kind = "index_out_of_range"
	// FileError: the underlying file open/read/write/extend failed.
	FileError Kind = "file_error"
	// ParserError: JSON/query text did not parse.
	ParserError Kind = "parser_error"
	// KeyCacheError: key string too long, or bucket index overflow.
	KeyCacheError Kind = "key_cache_error"
)

// Error wraps a Kind with the operation that failed and an optional
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap provides errors.Is/errors.As compatibility; errors.Is(err,
// SomeKind) does not work directly since Kind is not an error, so Is below
// handles that comparison, while Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, cberr.ErrCorrupt) (and the other Err* sentinels)
// to work by comparing Kinds with a target *Error, whatever its Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error for the given kind and operation, optionally
// wrapping an underlying error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// sentinel returns a zero-value *Error of the given kind, used so plain
// errors.Is(err, cberr.ErrCorrupt) reads naturally as a package-level value
// rather than a constructor call.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// The following package-level values let callers write
// errors.Is(err, cberr.ErrCorrupt) the same way they would compare against
// io.EOF or sql.ErrNoRows.
var (
	ErrAllocTooLarge   = sentinel(AllocTooLarge)
	ErrCorrupt         = sentinel(Corrupt)
	ErrNotFound        = sentinel(NotFound)
	ErrUnknownKey      = sentinel(UnknownKey)
	ErrIndexOutOfRange = sentinel(IndexOutOfRange)
	ErrFileError       = sentinel(FileError)
	ErrParserError     = sentinel(ParserError)
	ErrKeyCacheError   = sentinel(KeyCacheError)
)
