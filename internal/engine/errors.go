// Package engine is the tree engine: an in-memory, lazily-populated
// representation of courses, assignments, submissions and their files,
// independent of any particular kernel-facing transport. It owns the single
// lock that serializes access from both the VFS adapter and the
// control-socket server.
package engine

import "errors"

// Sentinel errors the VFS adapter maps to specific errno values. Wrap with
// fmt.Errorf("...: %w") at each layer so errors.Is still matches.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotADirectory    = errors.New("not a directory")
	ErrIsADirectory     = errors.New("is a directory")
	ErrPermissionDenied = errors.New("permission denied")
	ErrExists           = errors.New("already exists")
	ErrNotEmpty         = errors.New("directory not empty")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("not supported")
)
