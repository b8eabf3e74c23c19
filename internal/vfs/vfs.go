package vfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/codegrade/cgfs/internal/engine"
)

// Node is the single Inode type every level of the mounted tree uses: the
// root, a course, an assignment, a submission, a plain directory, a
// server-backed file, a scratch file, a static file, or a cached-editable
// synthetic file. It holds no state of its own beyond a pointer back into
// the tree engine, which owns everything about the node's identity and
// content.
type Node struct {
	fs.Inode

	engine *engine.Engine
	target engine.Node
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeFlusher   = (*Node)(nil)
	_ fs.NodeFsyncer   = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)

// NewRoot builds the root Inode for a mount. Courses must already have
// been loaded onto e's root directory before mounting.
func NewRoot(e *engine.Engine) *Node {
	return &Node{engine: e, target: e.Root()}
}

func (n *Node) child(target engine.Node) *fs.Inode {
	mode := nodeMode(target, n.engine)
	return n.NewInode(context.Background(), &Node{engine: n.engine, target: target}, fs.StableAttr{Mode: mode})
}

// Lookup resolves name among this directory's children, triggering the
// engine's lazy loader first if this level hasn't been populated yet.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return nil, syscall.ENOTDIR
	}
	child, err := n.engine.Lookup(ctx, dir, name)
	if err != nil {
		return nil, toErrno(err)
	}
	if cf, ok := child.(*engine.CachedFile); ok {
		if _, err := n.engine.ReadCachedFile(ctx, cf); err != nil {
			return nil, toErrno(err)
		}
	}
	fillAttr(&out.Attr, child, n.engine)
	return n.child(child), 0
}

// dirStream is a fixed in-memory fs.DirStream over a name slice.
type dirStream struct {
	names []string
	i     int
}

func (d *dirStream) HasNext() bool { return d.i < len(d.names) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	name := d.names[d.i]
	d.i++
	return fuse.DirEntry{Name: name}, 0
}
func (d *dirStream) Close() {}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return nil, syscall.ENOTDIR
	}
	names, err := n.engine.Readdir(ctx, dir)
	if err != nil {
		return nil, toErrno(err)
	}
	return &dirStream{names: names}, 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if cf, ok := n.target.(*engine.CachedFile); ok {
		if _, err := n.engine.ReadCachedFile(ctx, cf); err != nil {
			return toErrno(err)
		}
	}
	fillAttr(&out.Attr, n.target, n.engine)
	return 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	switch f := n.target.(type) {
	case *engine.DataFile:
		if _, err := n.engine.ReadFile(ctx, f); err != nil {
			return nil, 0, toErrno(err)
		}
	case *engine.CachedFile:
		if _, err := n.engine.ReadCachedFile(ctx, f); err != nil {
			return nil, 0, toErrno(err)
		}
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	var content []byte
	var err error

	switch t := n.target.(type) {
	case *engine.DataFile:
		content, err = n.engine.ReadFile(ctx, t)
	case *engine.CachedFile:
		content, err = n.engine.ReadCachedFile(ctx, t)
	case *engine.ScratchFile:
		content = n.engine.ReadScratchFile(t)
	case *engine.StaticFile:
		content = t.Content()
	default:
		return nil, syscall.EISDIR
	}
	if err != nil {
		return nil, toErrno(err)
	}

	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData(content[off:end]), 0
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	switch t := n.target.(type) {
	case *engine.DataFile:
		written, err := n.engine.WriteFile(ctx, t, data, off)
		if err != nil {
			return 0, toErrno(err)
		}
		return uint32(written), 0
	case *engine.CachedFile:
		written, err := n.engine.WriteCachedFile(ctx, t, data, off)
		if err != nil {
			return 0, toErrno(err)
		}
		return uint32(written), 0
	case *engine.ScratchFile:
		return uint32(n.engine.WriteScratchFile(t, data, off)), 0
	default:
		return 0, syscall.EPERM
	}
}

func (n *Node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return nil, nil, 0, syscall.ENOTDIR
	}
	child, err := n.engine.Create(ctx, dir, name)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	fillAttr(&out.Attr, child, n.engine)
	return n.child(child), nil, 0, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return nil, syscall.ENOTDIR
	}
	child, err := n.engine.Mkdir(ctx, dir, name)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, child, n.engine)
	return n.child(child), 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return syscall.ENOTDIR
	}
	return toErrno(n.engine.Rmdir(ctx, dir, name))
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return syscall.ENOTDIR
	}
	return toErrno(n.engine.Unlink(ctx, dir, name))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dir, ok := n.target.(*engine.Directory)
	if !ok {
		return syscall.ENOTDIR
	}
	destNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	destDir, ok := destNode.target.(*engine.Directory)
	if !ok {
		return syscall.ENOTDIR
	}
	return toErrno(n.engine.Rename(ctx, dir, name, destDir, newName))
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	// Permission and ownership changes (chmod/chown) are never allowed.
	if _, ok := in.GetMode(); ok {
		return syscall.EPERM
	}
	if _, ok := in.GetUID(); ok {
		return syscall.EPERM
	}
	if _, ok := in.GetGID(); ok {
		return syscall.EPERM
	}
	if size, ok := in.GetSize(); ok {
		var err error
		switch t := n.target.(type) {
		case *engine.DataFile:
			err = nil
			if t.IsReadOnly() {
				err = engine.ErrPermissionDenied
			}
		case *engine.CachedFile:
			err = n.engine.TruncateCachedFile(ctx, t, int64(size))
		case *engine.ScratchFile:
			n.engine.TruncateScratchFile(t, int64(size))
		}
		if err != nil {
			return toErrno(err)
		}
	}
	fillAttr(&out.Attr, n.target, n.engine)
	return 0
}

func (n *Node) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	switch t := n.target.(type) {
	case *engine.DataFile:
		return toErrno(n.engine.FlushFile(ctx, t))
	case *engine.CachedFile:
		return toErrno(n.engine.FlushCachedFile(ctx, t))
	}
	return 0
}

func (n *Node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return n.Flush(ctx, f)
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	stat := n.engine.Statfs()
	out.Bsize = stat.BlockSize
	out.Blocks = stat.Blocks
	out.Bavail = stat.BlocksAvailable
	out.Bfree = stat.BlocksAvailable
	return 0
}

// nodeMode reports the go-fuse StableAttr mode bits (S_IFDIR/S_IFREG) for a
// tagged node.
func nodeMode(target engine.Node, e *engine.Engine) uint32 {
	if _, ok := target.(*engine.Directory); ok {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

// fillAttr populates a fuse.Attr from a tagged node, masking out write
// permission bits on server-backed files when the engine is in fixed mode.
func fillAttr(attr *fuse.Attr, target engine.Node, e *engine.Engine) {
	now := time.Now()
	attr.Mtime = uint64(now.Unix())
	attr.Atime = attr.Mtime
	attr.Ctime = attr.Mtime

	switch t := target.(type) {
	case *engine.Directory:
		attr.Mode = fuse.S_IFDIR | 0755
	case *engine.DataFile:
		attr.Size = uint64(t.Len())
		attr.Mtime = uint64(t.ModTime().Unix())
		if t.IsReadOnly() {
			attr.Mode = fuse.S_IFREG | 0444
		} else {
			attr.Mode = fuse.S_IFREG | 0644
		}
	case *engine.ScratchFile:
		attr.Size = uint64(t.Len())
		attr.Mtime = uint64(t.ModTime().Unix())
		attr.Mode = fuse.S_IFREG | 0644
	case *engine.StaticFile:
		attr.Size = uint64(t.Len())
		attr.Mtime = uint64(t.ModTime().Unix())
		attr.Mode = fuse.S_IFREG | 0444
	case *engine.CachedFile:
		attr.Size = uint64(t.Len())
		if mt := t.ModTime(); !mt.IsZero() {
			attr.Mtime = uint64(mt.Unix())
		}
		attr.Mode = fuse.S_IFREG | 0644
	}
}
