package marshal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/codegrade/cgfs/internal/api"
)

// HashLookup maps the opaque id hashes embedded in rubric-edit markdown
// back to the real rubric row/item ids they stand in for.
type HashLookup map[string]int

// HashID derives the opaque 16-hex-character id that rubric-edit markdown
// shows in place of a real rubric row/item id, and records it in lookup.
func HashID(lookup HashLookup, id int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(id)))
	h := hex.EncodeToString(sum[:])[:16]
	lookup[h] = id
	return h
}

// RubricEditItem is one parsed "- [hash] (points) header - description"
// line. IDHash is nil for a newly added item (no hash bracket present).
type RubricEditItem struct {
	IDHash      *string
	Points      float64
	Header      string
	Description string
}

// RubricEditRow is one parsed "# [hash] header" block.
type RubricEditRow struct {
	IDHash      *string
	Header      string
	Description string
	Items       []RubricEditItem
}

// FormatRubricEdit renders the editable ".cg-edit-rubric.md" view of an
// assignment's rubric, per the grammar documented on ParseRubricEdit.
func FormatRubricEdit(rows []api.RubricRow) ([]byte, HashLookup) {
	lookup := make(HashLookup)
	var frags []string

	for _, rub := range rows {
		frags = append(frags, "# ", fmt.Sprintf("[%s] ", HashID(lookup, rub.ID)), rub.Header, "\n")
		if rub.Description != "" {
			frags = append(frags, "  ", indentContinuation(rub.Description), "\n")
		}
		frags = append(frags, strings.Repeat("-", 79), "\n")

		for _, item := range sortedByPoints(rub.Items) {
			frags = append(frags,
				fmt.Sprintf("- [%s] ", HashID(lookup, item.ID)),
				fmt.Sprintf("(%s) ", formatPoints(item.Points)),
				indentContinuation(item.Header),
				" - ",
				indentContinuation(item.Description),
				"\n",
			)
		}
		frags = append(frags, "\n")
	}

	if len(frags) == 0 {
		return nil, lookup
	}
	body := strings.Join(frags[:len(frags)-1], "")
	return []byte(body), lookup
}

// ParseError reports that rubric-edit markdown did not match the grammar.
// Callers map it to a permission-denied-style write failure, matching the
// original's "reject the write, leave the file as the user typed it" UX.
type ParseError struct{ msg string }

func (e *ParseError) Error() string { return e.msg }

func parseFail(format string, args ...any) {
	panic(&ParseError{msg: fmt.Sprintf(format, args...)})
}

// ParseRubricEdit parses the grammar:
//
//	file:          rubric*
//	rubric:        '#' id_hash? header '\n' description? sep '\n' item*
//	id_hash:       '[' id_hash_chars ']' ' '
//	header:        <rest of line>
//	description:   indented lines, one per line, until the separator
//	sep:           a run of '-' characters
//	item:          '-' ' ' id_hash? '(' points ')' ' ' header ' - ' description '\n'
//
// Edits may change header/description/points text freely; the id hashes
// are opaque and must be left as the file presented them or omitted
// entirely to add a new row or item.
func ParseRubricEdit(data []byte) (rows []RubricEditRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*ParseError); ok {
				err = pe
				return
			}
			panic(r)
		}
	}()

	p := &rubricEditParser{data: []rune(string(data))}
	i := 0
	for i < len(p.data) {
		if p.data[i] != '#' {
			parseFail("expected '#' to start a rubric row")
		}
		var row RubricEditRow
		row, i = p.parseRow(i + 1)
		rows = append(rows, row)
	}
	return rows, nil
}

type rubricEditParser struct {
	data []rune
}

func (p *rubricEditParser) at(i int) rune {
	if i < 0 || i >= len(p.data) {
		parseFail("unexpected end of input")
	}
	return p.data[i]
}

func (p *rubricEditParser) stripSpaces(i int) int {
	for i < len(p.data) && p.data[i] == ' ' {
		i++
	}
	return i
}

func (p *rubricEditParser) parseLine(i int) (string, int) {
	start := i
	for i < len(p.data) && p.data[i] != '\n' {
		i++
	}
	return string(p.data[start:i]), i + 1
}

func (p *rubricEditParser) hasAnyPrefixAt(i int, prefixes []string) bool {
	for _, pre := range prefixes {
		end := i + len(pre)
		if end <= len(p.data) && string(p.data[i:end]) == pre {
			return true
		}
	}
	return false
}

func (p *rubricEditParser) parseDescription(i int, end []string, stripTrailing bool) (string, int) {
	var lines []string
	for {
		if p.hasAnyPrefixAt(i, end) {
			break
		}
		i = p.stripSpaces(i)
		if i >= len(p.data) {
			break
		}
		var line string
		line, i = p.parseLine(i)
		lines = append(lines, line)
	}
	if stripTrailing {
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
	}
	return strings.Join(lines, "\n"), i
}

func (p *rubricEditParser) parseIDHash(i int) (*string, int) {
	if i < len(p.data) && p.data[i] == '[' {
		i++
		start := i
		for p.at(i) != ']' {
			i++
		}
		h := string(p.data[start:i])
		i = p.stripSpaces(i + 1)
		return &h, i
	}
	return nil, i
}

func (p *rubricEditParser) parseItems(i int) ([]RubricEditItem, int) {
	var items []RubricEditItem
	for i < len(p.data) && p.data[i] != '#' {
		i = p.stripSpaces(i + 1) // skip the leading '-'
		var idHash *string
		idHash, i = p.parseIDHash(i)

		if p.at(i) != '(' {
			parseFail("expected '(' before an item's point value")
		}
		i++
		start := i
		for p.at(i) != ')' {
			i++
		}
		points, perr := strconv.ParseFloat(string(p.data[start:i]), 64)
		if perr != nil {
			parseFail("invalid point value %q", string(p.data[start:i]))
		}
		i = p.stripSpaces(i + 1)

		headerStart := i
		for p.at(i) != '-' {
			if p.data[i] == '\n' {
				parseFail("item header cannot contain a newline, you probably missed a \"-\" in your header")
			}
			i++
		}
		header := strings.TrimSpace(string(p.data[headerStart:i]))
		i = p.stripSpaces(i + 1)

		var desc string
		desc, i = p.parseDescription(i, []string{"-", "#"}, true)

		items = append(items, RubricEditItem{IDHash: idHash, Points: points, Header: header, Description: desc})
	}
	return items, i
}

func (p *rubricEditParser) parseRow(i int) (RubricEditRow, int) {
	i = p.stripSpaces(i)
	var idHash *string
	idHash, i = p.parseIDHash(i)

	var name string
	name, i = p.parseLine(i)

	var desc string
	desc, i = p.parseDescription(i, []string{"---"}, false)

	for p.at(i) != '\n' {
		i++
	}

	items, i := p.parseItems(i + 1)
	return RubricEditRow{IDHash: idHash, Header: name, Description: desc, Items: items}, i
}
