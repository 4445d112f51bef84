// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/constraints"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func humanizeInt[I constraints.Integer](v I) string {
	return humanize.Comma(int64(v))
}

// Render the summary as tables. If verbose, it also lists the hyperparameters and every variable.
func (s *Summary) Render(verbose bool) string {
	var parts []string

	parts = append(parts, titleStyle.Render(s.Name))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("input", s.InputShape.String())
	table.Row("output", s.OutputShape.String())
	table.Row("# variables", humanizeInt(s.NumVariables()))
	table.Row("# parameters", humanizeInt(s.NumParameters))
	table.Row("# bytes", humanize.Bytes(uint64(s.Memory)))
	parts = append(parts, table.Render())

	parts = append(parts, titleStyle.Render("Stages"))
	table = newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Stage", "# variables", "# parameters", "# bytes")
	for _, stage := range s.Stages() {
		table.Row(stage.Name, humanizeInt(stage.NumVariables), humanizeInt(stage.NumParameters),
			humanize.Bytes(uint64(stage.Memory)))
	}
	parts = append(parts, table.Render())

	if !verbose {
		return strings.Join(parts, "\n")
	}

	if len(s.Hyperparameters) > 0 {
		parts = append(parts, titleStyle.Render("Hyperparameters"))
		table = newPlainTable(lipgloss.Left)
		table.Headers("Name", "Type", "Value")
		keys := make([]string, 0, len(s.Hyperparameters))
		for key := range s.Hyperparameters {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			value := s.Hyperparameters[key]
			table.Row(key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
		}
		parts = append(parts, table.Render())
	}

	parts = append(parts, titleStyle.Render("Variables"))
	table = newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size")
	for _, v := range s.Variables {
		table.Row(v.Scope, v.Name, v.Shape.String(), humanizeInt(v.Shape.Size()))
	}
	parts = append(parts, table.Render())
	return strings.Join(parts, "\n")
}
