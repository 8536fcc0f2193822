package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"workflow_digest/internal/app"
	"workflow_digest/internal/domain/notification"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#D97706")
	dim    = lipgloss.Color("#6B7280")
	green  = lipgloss.Color("#22C55E")
	red    = lipgloss.Color("#EF4444")
	amber  = lipgloss.Color("#F59E0B")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
	okStyle     = lipgloss.NewStyle().Foreground(green)
	failStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle   = lipgloss.NewStyle().Foreground(amber)
)

func renderClassify(res *app.ClassifyResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Classification "+res.ReferenceDate.Format(time.DateOnly)) + "\n")
	fmt.Fprintf(&b, "  created  %d\n", res.Created)
	if res.Skipped > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  skipped  %d (recipients unavailable, checkpoint held)", res.Skipped)) + "\n")
	}
	if !res.Checkpoint.IsEmpty() {
		b.WriteString(dimStyle.Render("  checkpoint "+res.Checkpoint.LastDate.Format(time.DateOnly)) + "\n")
	}
	return b.String()
}

func renderDispatch(r *app.DispatchReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Dispatch "+r.Day.Format(time.DateOnly)) + "\n")
	if r.Skipped {
		b.WriteString(warnStyle.Render("  skipped: lease held by another run") + "\n")
		return b.String()
	}
	if len(r.Outcomes) == 0 {
		b.WriteString(dimStyle.Render("  nothing pending") + "\n")
		return b.String()
	}
	for _, o := range r.Outcomes {
		if o.Sent() {
			fmt.Fprintf(&b, "  %s %s %s\n", okStyle.Render("sent  "), o.Address, dimStyle.Render(fmt.Sprintf("(%d events)", len(o.EventIDs))))
			continue
		}
		fmt.Fprintf(&b, "  %s %s %s\n", failStyle.Render("failed"), o.Address, dimStyle.Render(o.Err.Error()))
	}
	fmt.Fprintf(&b, "  %d sent, %d failed\n", r.Sent, r.Failed)
	return b.String()
}

func renderRun(r *app.RunReport) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("run "+r.RunID) + "\n")
	if r.Classify != nil {
		b.WriteString(renderClassify(r.Classify))
	}
	if r.Dispatch != nil {
		b.WriteString(renderDispatch(r.Dispatch))
	}
	return b.String()
}

// renderPending prints one row per recipient with a column per notification
// type, in catalog order.
func renderPending(counts map[string]map[notification.TypeName]int) string {
	if len(counts) == 0 {
		return dimStyle.Render("No pending notifications.") + "\n"
	}

	var types []notification.TypeName
	for _, t := range notification.Catalog() {
		for _, byType := range counts {
			if byType[t.Name] > 0 {
				types = append(types, t.Name)
				break
			}
		}
	}
	addresses := make([]string, 0, len(counts))
	width := len("recipient")
	for addr := range counts {
		addresses = append(addresses, addr)
		width = max(width, len(addr))
	}
	slices.Sort(addresses)

	cell := func(s string, w int) string { return s + strings.Repeat(" ", max(w-len(s), 0)) }

	var b strings.Builder
	b.WriteString(titleStyle.Render("Pending notifications") + "\n")
	header := cell("recipient", width)
	for _, t := range types {
		header += "  " + string(t)
	}
	b.WriteString(headerStyle.Render(header) + "\n")
	for _, addr := range addresses {
		row := cell(addr, width)
		for _, t := range types {
			row += "  " + cell(fmt.Sprint(counts[addr][t]), len(t))
		}
		b.WriteString(strings.TrimRight(row, " ") + "\n")
	}
	return b.String()
}

func renderDigest(address string, d *notification.Digest) string {
	if d == nil {
		return dimStyle.Render("Nothing pending for "+address+".") + "\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Pending for %s (%d events)", d.Address, d.EventCount())) + "\n")
	for _, g := range d.Groups {
		title := string(g.Type)
		if t, ok := notification.LookupType(g.Type); ok {
			title = t.Title
		}
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %s (%d)", title, len(g.Events))) + "\n")
		for _, ev := range g.Events {
			fmt.Fprintf(&b, "    - %s %s\n", ev.Object, dimStyle.Render("queued "+ev.CreatedAt.UTC().Format(time.RFC3339)))
		}
	}
	return b.String()
}
