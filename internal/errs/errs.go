// Package errs defines the error kinds shared by the credential store,
// the session layer, and the filesystem engine.
package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrPathEscape         = errors.New("path escapes user root")
	ErrNotFound           = errors.New("not found")
	ErrNameConflict       = errors.New("name conflict")
	ErrDirectoryNotEmpty  = errors.New("directory not empty")
	ErrIO                 = errors.New("i/o error")

	ErrInvalidName   = errors.New("invalid name")
	ErrNotAFile      = errors.New("not a regular file")
	ErrNotADirectory = errors.New("not a directory")
	ErrUnknownAction = errors.New("unknown action")
	ErrBadRequest    = errors.New("bad request")
	ErrTooLarge      = errors.New("content too large")
)

// OpError records a failed filesystem operation. It unwraps to both its
// Kind (one of the sentinels above) and the underlying cause.
type OpError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an OpError of the given kind.
func New(op, path string, kind error) error {
	return &OpError{Op: op, Path: path, Kind: kind}
}

// Wrap classifies an OS error and wraps it in an OpError. A nil err
// returns nil; an err that already carries a kind keeps it.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Path: path, Kind: Classify(err), Err: err}
}

// Classify maps an OS error to one of the sentinel kinds.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	// ENOTEMPTY also matches fs.ErrExist, so it must be checked first.
	case errors.Is(err, syscall.ENOTEMPTY):
		return ErrDirectoryNotEmpty
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotADirectory
	case errors.Is(err, syscall.EISDIR):
		return ErrNotAFile
	default:
		return ErrIO
	}
}

// Kind returns the first sentinel kind found in err's chain, or ErrIO for
// unclassified errors.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{
		ErrAlreadyExists, ErrInvalidCredentials, ErrUnauthenticated, ErrPathEscape,
		ErrNotFound, ErrNameConflict, ErrDirectoryNotEmpty, ErrInvalidName,
		ErrNotAFile, ErrNotADirectory, ErrUnknownAction, ErrBadRequest, ErrTooLarge, ErrIO,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrIO
}
