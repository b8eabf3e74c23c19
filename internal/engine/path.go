package engine

import (
	"context"
	"strings"
)

// ResolvePath walks the tree from the root, resolving one path component at
// a time via Lookup (which triggers lazy loading along the way), for
// callers that only have a path string — namely the control socket, whose
// peers speak in terms of the mounted filesystem's paths rather than
// engine node pointers.
func (e *Engine) ResolvePath(ctx context.Context, path string) (Node, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return e.root, nil
	}

	var cur Node = e.root
	for _, part := range strings.Split(path, "/") {
		dir, ok := cur.(*Directory)
		if !ok {
			return nil, ErrNotADirectory
		}
		n, err := e.Lookup(ctx, dir, part)
		if err != nil {
			return nil, err
		}
		cur = n
	}
	return cur, nil
}

// IsFile reports whether path resolves to a server-backed Data file. A
// directory doesn't resolve at all here (it isn't a single file of any
// kind); a scratch, static or cached-editable synthetic file resolves but
// reports false, same as the original's isinstance(f, File) check.
func (e *Engine) IsFile(ctx context.Context, path string) (bool, error) {
	n, err := e.ResolvePath(ctx, path)
	if err != nil {
		return false, err
	}
	if _, ok := n.(*Directory); ok {
		return false, ErrInvalidArgument
	}
	_, isDataFile := n.(*DataFile)
	return isDataFile, nil
}

// dataFileAt resolves path to a server-backed DataFile, the only node kind
// the control socket's feedback operations apply to.
func (e *Engine) dataFileAt(ctx context.Context, path string) (*DataFile, error) {
	n, err := e.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*DataFile)
	if !ok {
		return nil, ErrInvalidArgument
	}
	return f, nil
}

// GetFeedback returns the full line -> message feedback map for path.
func (e *Engine) GetFeedback(ctx context.Context, path string) (map[int]string, error) {
	f, err := e.dataFileAt(ctx, path)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	serverID := f.ServerID
	e.mu.Unlock()

	fb, err := e.client.GetFileFeedback(ctx, atoiOrZero(serverID))
	if err != nil {
		return nil, err
	}
	return fb.User, nil
}

// SetFeedback attaches an inline comment to path at line.
func (e *Engine) SetFeedback(ctx context.Context, path string, line int, message string) error {
	f, err := e.dataFileAt(ctx, path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	serverID := f.ServerID
	e.mu.Unlock()

	return e.client.AddFeedback(ctx, atoiOrZero(serverID), line, message)
}

// DeleteFeedback removes the inline comment on path at line.
func (e *Engine) DeleteFeedback(ctx context.Context, path string, line int) error {
	f, err := e.dataFileAt(ctx, path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	serverID := f.ServerID
	e.mu.Unlock()

	return e.client.DeleteFeedback(ctx, atoiOrZero(serverID), line)
}
