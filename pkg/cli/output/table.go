package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	for i, cell := range row {
		if i < len(t.widths) && utf8.RuneCountInString(cell) > t.widths[i] {
			t.widths[i] = utf8.RuneCountInString(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Render 渲染表格
func (t *Table) Render() {
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Fprint(out, pad(h, t.widths[i])+"  ")
	}
	fmt.Fprintln(out)

	for i := range t.headers {
		fmt.Fprint(out, strings.Repeat("-", t.widths[i])+"  ")
	}
	fmt.Fprintln(out)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprint(out, pad(cell, t.widths[i])+"  ")
			}
		}
		fmt.Fprintln(out)
	}
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
