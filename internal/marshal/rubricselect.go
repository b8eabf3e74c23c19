// Package marshal implements the text formats that the cached-editable
// synthetic files present and parse: the checkbox rubric-select markdown,
// the read/write rubric-edit markdown (a hand-rolled recursive-descent
// parser, no generator), and the assignment-settings INI.
package marshal

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/codegrade/cgfs/internal/api"
)

func sortedByPoints(items []api.RubricItem) []api.RubricItem {
	out := append([]api.RubricItem(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].Points < out[j].Points })
	return out
}

// formatPoints renders a point value the way Python's str(float) would:
// "5.0", "1.5", never "5".
func formatPoints(p float64) string {
	if p == math.Trunc(p) {
		return strconv.FormatFloat(p, 'f', 1, 64)
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func indentContinuation(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

// FormatRubricSelect renders the selectable ".cg-rubric.md" view of an
// assignment's rubric with a submission's current selections checked off.
// It also returns a lookup from 0-indexed line number to rubric item id, so
// ParseRubricSelect can recover which lines a later write checked.
func FormatRubricSelect(rows []api.RubricRow, selected map[int]bool, userName string) ([]byte, map[int]int) {
	lookup := make(map[int]int)
	var frags []string
	lineOf := func() int {
		n := 0
		for _, f := range frags {
			n += strings.Count(f, "\n")
		}
		return n
	}

	if len(rows) > 0 {
		frags = append(frags, fmt.Sprintf("# The rubric of %s\n\n", userName))
	} else {
		frags = append(frags, "# This assignment does not have a rubric!\n")
	}

	for _, rub := range rows {
		frags = append(frags, "## ", rub.Header, "\n")
		if rub.Description != "" {
			frags = append(frags, "  ", indentContinuation(rub.Description), "\n")
		}
		frags = append(frags, strings.Repeat("-", 79), "\n")

		for _, item := range sortedByPoints(rub.Items) {
			mark := " "
			if selected[item.ID] {
				mark = "x"
			}
			lookup[lineOf()] = item.ID
			frags = append(frags,
				fmt.Sprintf("- [%s] ", mark),
				indentContinuation(item.Header),
				fmt.Sprintf(" (%s) - ", formatPoints(item.Points)),
				indentContinuation(item.Description),
				"\n",
			)
		}
		frags = append(frags, "\n")
	}

	if len(frags) == 0 {
		return nil, lookup
	}
	// The trailing fragment is always a separator that doesn't belong in
	// the rendered file (including the header-only fragment when there are
	// no rubric rows at all, which yields an empty file).
	body := strings.Join(frags[:len(frags)-1], "")
	return []byte(body), lookup
}

// ParseRubricSelect reads back which lines of a previously formatted
// rubric-select file are now checked, using the lookup FormatRubricSelect
// produced for that same rendering.
func ParseRubricSelect(data []byte, lookup map[int]int) ([]int, error) {
	var selected []int
	for i, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(line, []byte("- [x]")) || bytes.HasPrefix(line, []byte("- [X]")) {
			id, ok := lookup[i]
			if !ok {
				return nil, fmt.Errorf("rubric item on line %d not found", i)
			}
			selected = append(selected, id)
		}
	}
	return selected, nil
}
