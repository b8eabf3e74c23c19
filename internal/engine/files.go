package engine

import "time"

// DataFile is a server-backed submission file: reads and writes are
// buffered locally and only reach the Remote API on flush, per the
// write-back contract in the file I/O layer.
type DataFile struct {
	Name     string
	ServerID string

	SubmissionID int
	ServerPath   string // path relative to the submission's top-level dir

	content []byte
	loaded  bool // has content been fetched from the server at least once
	dirty   bool
	mtime   time.Time
	// readOnly is set in fixed mode: the file can be read but not written.
	readOnly bool
}

func (*DataFile) nodeMarker() {}

// Len returns the cached content length. It does not trigger a fetch; call
// through the Engine's ReadFile first if the content hasn't been loaded.
func (f *DataFile) Len() int { return len(f.content) }

// ModTime returns when this node was created from the server's file tree
// (or by Create), or the last time its content was written.
func (f *DataFile) ModTime() time.Time { return f.mtime }

// IsReadOnly reports whether this file was loaded in fixed mode, where
// server-backed files can be read but never written.
func (f *DataFile) IsReadOnly() bool { return f.readOnly }

// ScratchFile is a locally created file, held entirely in memory, that
// never touches the server: the fixed-mode substitute for a real
// submission file write.
type ScratchFile struct {
	Name    string
	content []byte
	mtime   time.Time
}

func (*ScratchFile) nodeMarker() {}

func (f *ScratchFile) Len() int          { return len(f.content) }
func (f *ScratchFile) ModTime() time.Time { return f.mtime }

// StaticFile is a read-only file whose content never changes after
// creation: .api.socket, .cg-mode, .cg-assignment-id, .cg-submission-id,
// and the help files documenting the editable synthetic files.
type StaticFile struct {
	Name    string
	content []byte
	mtime   time.Time
}

func (*StaticFile) nodeMarker() {}

func (f *StaticFile) Len() int          { return len(f.content) }
func (f *StaticFile) ModTime() time.Time { return f.mtime }
func (f *StaticFile) Content() []byte    { return f.content }
