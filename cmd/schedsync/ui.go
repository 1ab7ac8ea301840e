package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rotaworks/schedsync/internal/engine"
	"github.com/rotaworks/schedsync/internal/merge"
	"github.com/rotaworks/schedsync/internal/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	diffStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }
func renderTitle(s string) string  { return titleStyle.Render(s) }

// renderStatus colors a sync status.
func renderStatus(s engine.Status) string {
	switch s {
	case engine.StatusSynced:
		return renderPass(string(s))
	case engine.StatusSyncing:
		return renderAccent(string(s))
	case engine.StatusConflictPending:
		return renderWarn(string(s))
	default:
		return renderFail(string(s))
	}
}

// sideLabel names side a or b from the viewpoint of me.
func sideLabel(author, me string) string {
	if author == me {
		return "mine (" + author + ")"
	}
	return "theirs (" + author + ")"
}

// conflictFields lists every field shown for a conflict: the clashing ones
// first, then the rest of the row.
func conflictFields(c merge.Conflict) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range c.Fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	var rest []string
	for _, r := range []*schema.Row{c.Base, c.RowA, c.RowB} {
		if r == nil {
			continue
		}
		for f := range r.Values {
			if !seen[f] {
				seen[f] = true
				rest = append(rest, f)
			}
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func cell(r *schema.Row, field string) string {
	if r == nil {
		return "(none)"
	}
	return r.Get(field).String()
}

// renderConflict shows one conflict as a base/A/B table with clashing
// fields highlighted.
func renderConflict(c merge.Conflict, me string) string {
	clash := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		clash[f] = true
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("field", "base", sideLabel(c.ModifiedByA, me), sideLabel(c.ModifiedByB, me))
	for _, f := range conflictFields(c) {
		name := f
		if clash[f] {
			name = diffStyle.Render(f)
		}
		t.Row(name, cell(c.Base, f), cell(c.RowA, f), cell(c.RowB, f))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", renderWarn(string(c.Kind)), renderTitle(c.Key().String()))
	fmt.Fprintf(&b, "%s\n", renderMuted(c.Description))
	b.WriteString(t.Render())
	return b.String()
}
