package ui

import (
	"fmt"
	"strconv"
	"strings"

	"pipesync/internal/change"
	"pipesync/internal/pipeline"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette, tuned for dark terminals.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	blue   = lipgloss.Color("75")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	InfoStyle    = lipgloss.NewStyle().Foreground(blue)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	LabelStyle   = lipgloss.NewStyle().Foreground(dim)
)

func Accent(s string) string { return AccentStyle.Render(s) }
func Bold(s string) string   { return BoldStyle.Render(s) }
func Muted(s string) string  { return MutedStyle.Render(s) }

func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func InfoMsg(format string, a ...any) string {
	return AccentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// State colors a stage state by outcome.
func State(s pipeline.State) string {
	switch s {
	case pipeline.StateRunning:
		return InfoStyle.Render(s.String())
	case pipeline.StateSucceeded:
		return SuccessStyle.Render(s.String())
	case pipeline.StateFailed:
		return ErrorStyle.Render(s.String())
	case pipeline.StatePaused, pipeline.StateEnqueued, pipeline.StatePreparing:
		return WarnStyle.Render(s.String())
	default:
		return MutedStyle.Render(s.String())
	}
}

// Kind colors a change kind.
func Kind(k change.Kind) string {
	label := fmt.Sprintf("%-6s", k.String())
	switch k {
	case change.KindCreate:
		return SuccessStyle.Render(label)
	case change.KindUpdate:
		return InfoStyle.Render(label)
	case change.KindDelete:
		return ErrorStyle.Render(label)
	default:
		return MutedStyle.Render(label)
	}
}

// Pair holds a key-value pair for KeyValues output.
type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines with a trailing newline.
func KeyValues(indent string, pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		maxLen = max(maxLen, len(p.key))
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + LabelStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders a table with rounded borders and muted odd rows.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

var groupHeaders = []string{"PROJECT", "GROUP", "STAGE", "STATE", "INSTANCES", "PROGRESS", "FAILED", "FLAGS"}

// GroupRows lays out one row per summary in groupHeaders order.
func GroupRows(sums []pipeline.GroupSummary) [][]string {
	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, []string{
			s.ProjectID,
			s.ID,
			s.Stage,
			State(s.State),
			fmt.Sprintf("%d/%d", s.Started, s.Instances),
			strconv.Itoa(s.Progress()) + "%",
			strconv.Itoa(s.Failed),
			groupFlags(s),
		})
	}
	return rows
}

// GroupTable renders summaries as a table.
func GroupTable(sums []pipeline.GroupSummary) string {
	return Table(groupHeaders, GroupRows(sums))
}

func groupFlags(s pipeline.GroupSummary) string {
	var flags []string
	if s.Active {
		flags = append(flags, "active")
	}
	if s.Enqueued {
		flags = append(flags, "enqueued")
	}
	if s.HasComment {
		flags = append(flags, "comment")
	}
	return strings.Join(flags, ",")
}
