package engine

import "time"

// Node is the closed set of tagged variants the tree engine can hold: a
// Directory, a server-backed DataFile, a local-only ScratchFile, a
// fixed-content StaticFile, or a CachedFile (the five cached-editable
// synthetic file kinds, unified behind one struct and a per-kind strategy).
// There is deliberately no common base type beyond this marker interface:
// Go has no class hierarchy, and forcing one here would just recreate the
// inheritance the original design note steers away from.
type Node interface {
	nodeMarker()
}

// DirKind tags what a Directory represents, which determines how (and
// whether) it lazily populates its own children.
type DirKind int

const (
	// DirRoot is the single mount-point directory.
	DirRoot DirKind = iota
	// DirCourse holds one course's assignments.
	DirCourse
	// DirAssignment holds one assignment's submissions, populated lazily.
	DirAssignment
	// DirSubmission holds one submission's file tree, populated lazily.
	DirSubmission
	// DirPlain is a directory inside a submission's file tree (or, in
	// fixed mode, a scratch directory that never touches the server).
	DirPlain
)

// Directory is a Node that contains named children. Course/assignment
// metadata needed by its own lazy loader is stored directly on the struct
// rather than recovered by walking upward, per the no-back-references
// design: a Directory is self-sufficient.
type Directory struct {
	Name     string
	Kind     DirKind
	Children map[string]Node
	Order    []string
	Loaded   bool
	Mtime    time.Time

	CourseID     int
	AssignmentID int
	SubmissionID int

	// Scratch marks a directory created locally (in fixed mode, or inside
	// another scratch directory) that has no server-side counterpart to
	// delete.
	Scratch bool
	// ServerID is never filled in: directory entries in a submission's
	// file tree carry no id, so Rmdir looks a directory's id up by its
	// ServerPath instead (see idFromPath).
	ServerID string
	// ServerPath is this directory's path relative to the submission's
	// top-level directory name, used to build child query paths without
	// reconstructing it from parent pointers.
	ServerPath string
}

func (*Directory) nodeMarker() {}

func newDirectory(name string, kind DirKind) *Directory {
	return &Directory{
		Name:     name,
		Kind:     kind,
		Children: make(map[string]Node),
		Mtime:    time.Time{},
	}
}

func (d *Directory) insert(name string, n Node) {
	if _, exists := d.Children[name]; !exists {
		d.Order = append(d.Order, name)
	}
	d.Children[name] = n
}

func (d *Directory) remove(name string) {
	delete(d.Children, name)
	for i, n := range d.Order {
		if n == name {
			d.Order = append(d.Order[:i], d.Order[i+1:]...)
			break
		}
	}
}

// needsLazyLoad reports whether this directory should trigger its lazy
// loader: it's an assignment/submission directory whose children haven't
// been fetched yet (the empty set check the original performs by asking
// "does every child look like one of the always-present special files").
func (d *Directory) needsLazyLoad() bool {
	return !d.Loaded && (d.Kind == DirAssignment || d.Kind == DirSubmission)
}
