/*
 * table.go, part of gofullerene.
 *
 * Copyright 2024 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 */

//Package tty renders the tables the command line tools print.
package tty

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddStyle    = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	evenStyle   = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
	warnStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).PaddingLeft(1).PaddingRight(1)
)

// Table is a bordered table where single rows can be flagged (drawn in red),
// e.g. tasks below the accuracy threshold.
type Table struct {
	t       *lgtable.Table
	count   int
	flagged map[int]bool
}

// NewTable returns a table with the given header. The first column is left
// aligned, the rest right aligned.
func NewTable(headers ...string) *Table {
	T := &Table{flagged: make(map[int]bool)}
	T.t = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case T.flagged[row]:
				s = warnStyle
			case row%2 == 0:
				s = oddStyle
			default:
				s = evenStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Left)
			}
			return s.Align(lipgloss.Right)
		})
	return T
}

// Row appends a row, drawn in red if flag is true.
func (T *Table) Row(flag bool, cells ...string) {
	if flag {
		T.flagged[T.count] = true
	}
	T.t.Row(cells...)
	T.count++
}

func (T *Table) Len() int { return T.count }

func (T *Table) String() string {
	return T.t.String()
}
