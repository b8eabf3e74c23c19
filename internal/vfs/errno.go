// Package vfs adapts the tree engine to the kernel-facing go-fuse node API:
// one generic Inode type wraps every engine.Node kind and translates
// between syscall-shaped arguments (parent inode + child name, byte
// offsets, fuse.Attr) and the engine's pointer-based operations.
package vfs

import (
	"errors"
	"syscall"

	"github.com/codegrade/cgfs/internal/api"
	"github.com/codegrade/cgfs/internal/engine"
)

// toErrno maps the engine's sentinel errors to the errno values go-fuse
// expects every Node* method to return, and the two Remote API error codes
// with a filesystem meaning (ObjectIDNotFound, IncorrectPermission) to
// ENOENT and EPERM. Anything unrecognized becomes EIO: an unexpected
// backend failure, not a well-understood denial.
func toErrno(err error) syscall.Errno {
	var apiErr *api.Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &apiErr) && apiErr.Code == api.ObjectIDNotFound:
		return syscall.ENOENT
	case errors.As(err, &apiErr) && apiErr.Code == api.IncorrectPermission:
		return syscall.EPERM
	case errors.Is(err, engine.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, engine.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, engine.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, engine.ErrPermissionDenied):
		return syscall.EPERM
	case errors.Is(err, engine.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, engine.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, engine.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, engine.ErrNotSupported):
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
