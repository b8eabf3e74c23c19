package engine

import "sync/atomic"

// Handle is an open file's identity, independent of any particular node
// pointer, so a caller that only knows a handle id (as some kernel-facing
// APIs do) can still address the right file.
type Handle struct {
	ID   uint64
	Node Node
}

var nextHandleID uint64

// OpenHandle allocates a fresh handle id for an already-resolved node. The
// engine's lock must be held by the caller.
func (e *Engine) OpenHandle(n Node) *Handle {
	h := &Handle{ID: atomic.AddUint64(&nextHandleID, 1), Node: n}
	e.handles[h.ID] = h
	return h
}

// CloseHandle releases a previously opened handle. The engine's lock must
// be held by the caller.
func (e *Engine) CloseHandle(id uint64) {
	delete(e.handles, id)
}

// lookupHandle returns the node a handle refers to, or false if the handle is
// unknown (already released, or never opened).
func (e *Engine) lookupHandle(id uint64) (Node, bool) {
	h, ok := e.handles[id]
	if !ok {
		return nil, false
	}
	return h.Node, true
}
