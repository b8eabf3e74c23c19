package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/codegrade/cgfs/internal/api"
	"github.com/codegrade/cgfs/internal/marshal"
)

// gradeKind backs .cg-grade: a single float in [0,10], or a blank file to
// delete the grade. Flushing a value equal to the last-fetched grade
// (rounded to 2 decimals, same as the wire format) is skipped entirely, so
// touching the file without changing its content never calls the API.
type gradeKind struct {
	client       *api.Client
	submissionID int
	lastGrade    *float64
}

func (k *gradeKind) GetOnline(ctx context.Context) ([]byte, error) {
	sub, err := k.client.GetSubmission(ctx, k.submissionID)
	if err != nil {
		return nil, err
	}
	k.lastGrade = sub.Grade
	return marshal.FormatGrade(sub.Grade), nil
}

func (k *gradeKind) Flush(ctx context.Context, data []byte) error {
	grade, isDelete, err := marshal.ParseGrade(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if isDelete {
		k.lastGrade = nil
		return k.client.DeleteGrade(ctx, k.submissionID)
	}
	if grade < 0 || grade > 10 {
		return fmt.Errorf("%w: grade must be between 0 and 10", ErrPermissionDenied)
	}
	if k.lastGrade != nil && math.Round(*k.lastGrade*100) == math.Round(grade*100) {
		return nil
	}
	k.lastGrade = &grade
	return k.client.SetSubmission(ctx, k.submissionID, &grade, nil)
}

// feedbackKind backs .cg-feedback: a plain-text passthrough of a
// submission's general comment.
type feedbackKind struct {
	client       *api.Client
	submissionID int
}

func (k *feedbackKind) GetOnline(ctx context.Context) ([]byte, error) {
	sub, err := k.client.GetSubmission(ctx, k.submissionID)
	if err != nil {
		return nil, err
	}
	return []byte(sub.Comment), nil
}

func (k *feedbackKind) Flush(ctx context.Context, data []byte) error {
	comment := string(data)
	return k.client.SetSubmission(ctx, k.submissionID, nil, &comment)
}

// settingsKind backs .cg-assignment-settings.ini.
type settingsKind struct {
	client       *api.Client
	assignmentID int
}

func (k *settingsKind) GetOnline(ctx context.Context) ([]byte, error) {
	a, err := k.client.GetAssignment(ctx, k.assignmentID)
	if err != nil {
		return nil, err
	}
	return marshal.FormatSettings(api.AssignmentSettings{
		Name:     a.Name,
		State:    a.State,
		Deadline: a.Deadline,
	}), nil
}

func (k *settingsKind) Flush(ctx context.Context, data []byte) error {
	settings, err := marshal.ParseSettings(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return k.client.SetAssignment(ctx, k.assignmentID, settings)
}

// rubricSelectKind backs .cg-rubric.md: a read-mostly checkbox rendering of
// an assignment's rubric with this submission's items checked off. The line
// number -> item id lookup built by the last render is reused to parse the
// edited checkboxes back.
type rubricSelectKind struct {
	client       *api.Client
	assignmentID int
	submissionID int
	lookup       map[int]int
}

func (k *rubricSelectKind) GetOnline(ctx context.Context) ([]byte, error) {
	rows, err := k.client.GetAssignmentRubric(ctx, k.assignmentID)
	if err != nil {
		return nil, err
	}
	sub, err := k.client.GetSubmissionRubric(ctx, k.submissionID)
	if err != nil {
		return nil, err
	}
	submission, err := k.client.GetSubmission(ctx, k.submissionID)
	if err != nil {
		return nil, err
	}
	selected := make(map[int]bool, len(sub.Selected))
	for _, id := range sub.Selected {
		selected[id] = true
	}
	data, lookup := marshal.FormatRubricSelect(rows, selected, submission.User.Name)
	k.lookup = lookup
	return data, nil
}

func (k *rubricSelectKind) Flush(ctx context.Context, data []byte) error {
	items, err := marshal.ParseRubricSelect(data, k.lookup)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return k.client.SelectRubricItems(ctx, k.submissionID, items)
}

// rubricEditKind backs .cg-edit-rubric.md: the full rubric definition in a
// hand-authored markdown grammar, editable to add rows/items or change
// headers, descriptions and point values. Deleting an existing row or item
// is rejected when AppendOnly is set, mirroring the filesystem's default
// refusal to let a stray edit destroy grading criteria other graders rely
// on.
type rubricEditKind struct {
	client       *api.Client
	assignmentID int
	appendOnly   bool
	lookup       marshal.HashLookup
}

func (k *rubricEditKind) GetOnline(ctx context.Context) ([]byte, error) {
	rows, err := k.client.GetAssignmentRubric(ctx, k.assignmentID)
	if err != nil {
		return nil, err
	}
	data, lookup := marshal.FormatRubricEdit(rows)
	k.lookup = lookup
	return data, nil
}

func (k *rubricEditKind) Flush(ctx context.Context, data []byte) error {
	rows, err := marshal.ParseRubricEdit(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	remaining := make(marshal.HashLookup, len(k.lookup))
	for hash, id := range k.lookup {
		remaining[hash] = id
	}

	// getFromLookup resolves an id-hash against the last-rendered lookup. A
	// hash that isn't there at all is rejected outright, whether because it
	// was never issued or because append-only enforcement already consumed
	// it once. Consuming it here (append-only mode only) is what makes a
	// second use of the same hash fail too.
	getFromLookup := func(hash string) (int, error) {
		id, ok := remaining[hash]
		if !ok {
			return 0, fmt.Errorf("%w: unrecognized rubric id hash %q", ErrPermissionDenied, hash)
		}
		if k.appendOnly {
			delete(remaining, hash)
		}
		return id, nil
	}

	out := make([]api.RubricRow, 0, len(rows))
	for _, row := range rows {
		outRow := api.RubricRow{Header: row.Header, Description: row.Description}

		var items []api.RubricItem
		for _, item := range row.Items {
			outItem := api.RubricItem{
				Header:      item.Header,
				Description: item.Description,
				Points:      item.Points,
			}
			if item.IDHash != nil {
				id, err := getFromLookup(*item.IDHash)
				if err != nil {
					return err
				}
				outItem.ID = id
			}
			items = append(items, outItem)
		}

		if row.IDHash != nil {
			id, err := getFromLookup(*row.IDHash)
			if err != nil {
				return err
			}
			outRow.ID = id
		} else {
			for _, item := range items {
				if item.ID != 0 {
					return fmt.Errorf("%w: a new rubric row cannot contain existing items", ErrPermissionDenied)
				}
			}
		}

		outRow.Items = items
		out = append(out, outRow)
	}

	if k.appendOnly && len(remaining) > 0 {
		return fmt.Errorf("%w: rubric rows and items cannot be deleted", ErrPermissionDenied)
	}

	return k.client.SetAssignmentRubric(ctx, k.assignmentID, out)
}
