package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

type TableColumn struct {
	Header    string
	Width     int
	Alignment Alignment
}

// Table prints box-drawn report tables. Cell values longer than the column
// are truncated with "...".
type Table struct {
	out     io.Writer
	title   string
	columns []TableColumn
}

func NewTable(out io.Writer, title string) *Table {
	return &Table{out: out, title: title}
}

func (t *Table) AddColumn(header string, width int, alignment Alignment) *Table {
	t.columns = append(t.columns, TableColumn{Header: header, Width: width, Alignment: alignment})
	return t
}

func (t *Table) border(left, mid, right string) {
	fmt.Fprint(t.out, left)
	for i, col := range t.columns {
		if i > 0 {
			fmt.Fprint(t.out, mid)
		}
		fmt.Fprint(t.out, strings.Repeat("─", col.Width))
	}
	fmt.Fprintln(t.out, right)
}

func (t *Table) PrintHeader() {
	if t.title != "" {
		fmt.Fprintf(t.out, "%s:\n", t.title)
	}
	t.border("┌", "┬", "┐")
	cells := make([]interface{}, len(t.columns))
	for i, col := range t.columns {
		cells[i] = col.Header
	}
	t.line(cells, true)
	t.border("├", "┼", "┤")
}

func (t *Table) PrintRow(cells ...interface{}) {
	if len(cells) != len(t.columns) {
		return
	}
	t.line(cells, false)
}

func (t *Table) line(cells []interface{}, header bool) {
	fmt.Fprint(t.out, "│")
	for i, col := range t.columns {
		if i > 0 {
			fmt.Fprint(t.out, "│")
		}
		value := truncate(fmt.Sprintf("%v", cells[i]), col.Width-1)
		pad := strings.Repeat(" ", col.Width-1-utf8.RuneCountInString(value))
		if col.Alignment == AlignRight && !header {
			fmt.Fprint(t.out, " "+pad+value)
		} else {
			fmt.Fprint(t.out, " "+value+pad)
		}
	}
	fmt.Fprintln(t.out, "│")
}

// PrintEmptyRow spans message across the whole table.
func (t *Table) PrintEmptyRow(message string) {
	width := len(t.columns) - 1
	for _, col := range t.columns {
		width += col.Width
	}
	message = truncate(message, width)
	padding := width - utf8.RuneCountInString(message)
	left := padding / 2
	fmt.Fprintf(t.out, "│%s%s%s│\n", strings.Repeat(" ", left), message, strings.Repeat(" ", padding-left))
}

func (t *Table) PrintFooter() {
	t.border("└", "┴", "┘")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
