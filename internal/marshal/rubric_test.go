package marshal

import (
	"testing"

	"github.com/codegrade/cgfs/internal/api"
)

func sampleRows() []api.RubricRow {
	return []api.RubricRow{
		{
			ID:          1,
			Header:      "Style",
			Description: "How clean is the code",
			Items: []api.RubricItem{
				{ID: 10, Header: "Poor", Description: "Messy", Points: 0},
				{ID: 11, Header: "Great", Description: "Tidy", Points: 5},
			},
		},
	}
}

func TestFormatAndParseRubricSelectRoundTrip(t *testing.T) {
	t.Parallel()
	rows := sampleRows()
	data, lookup := FormatRubricSelect(rows, map[int]bool{11: true}, "Stu Dent")

	if len(lookup) != 2 {
		t.Fatalf("expected 2 lookup entries, got %d: %v", len(lookup), lookup)
	}

	selected, err := ParseRubricSelect(data, lookup)
	if err != nil {
		t.Fatalf("ParseRubricSelect failed: %v", err)
	}
	if len(selected) != 1 || selected[0] != 11 {
		t.Errorf("expected [11], got %v", selected)
	}
}

func TestFormatRubricSelectNoRubric(t *testing.T) {
	t.Parallel()
	data, _ := FormatRubricSelect(nil, nil, "Stu Dent")
	if len(data) != 0 {
		t.Errorf("expected empty file for no rubric, got %q", data)
	}
}

func TestFormatAndParseRubricEditRoundTrip(t *testing.T) {
	t.Parallel()
	rows := sampleRows()
	data, lookup := FormatRubricEdit(rows)

	parsed, err := ParseRubricEdit(data)
	if err != nil {
		t.Fatalf("ParseRubricEdit failed: %v\n--- data ---\n%s", err, data)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 row, got %d", len(parsed))
	}
	row := parsed[0]
	if row.IDHash == nil || lookup[*row.IDHash] != 1 {
		t.Errorf("row id hash did not resolve back to 1: %+v", row.IDHash)
	}
	if len(row.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(row.Items))
	}
	if row.Items[0].IDHash == nil || lookup[*row.Items[0].IDHash] != 10 {
		t.Errorf("first item id hash did not resolve to 10")
	}
}

func TestParseRubricEditNewItemsHaveNoHash(t *testing.T) {
	t.Parallel()
	data := []byte("# New row\nA description\n" +
		"-------------------------------------------------------------------------------\n" +
		"- (3.0) New item - A new item\n")

	rows, err := ParseRubricEdit(data)
	if err != nil {
		t.Fatalf("ParseRubricEdit failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].IDHash != nil {
		t.Errorf("expected new row to have no id hash")
	}
	if len(rows[0].Items) != 1 || rows[0].Items[0].IDHash != nil {
		t.Errorf("expected new item to have no id hash: %+v", rows[0].Items)
	}
	if rows[0].Items[0].Points != 3.0 {
		t.Errorf("expected points 3.0, got %v", rows[0].Items[0].Points)
	}
}

func TestParseRubricEditRejectsNewlineInHeader(t *testing.T) {
	t.Parallel()
	// Missing the '-' separator after the header on this item line.
	data := []byte("# Row\nDesc\n" +
		"-------------------------------------------------------------------------------\n" +
		"- (1.0) broken header\nwith a stray newline - desc\n")

	if _, err := ParseRubricEdit(data); err == nil {
		t.Error("expected a parse error for a header containing a newline")
	}
}
