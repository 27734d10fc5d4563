// Package report renders run results and operation listings for the terminal.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/shapefile"
	"github.com/spachava753/geosync/internal/util"
)

// PreviewLimit caps the asset names listed in a dry-run plan.
const PreviewLimit = 10

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render writes the end-of-run summary, or the plan for a dry run.
func Render(w io.Writer, r *models.RunResult) error {
	if r == nil {
		return nil
	}
	if r.DryRun {
		return renderPlan(w, r)
	}

	lines := []string{
		row("destination", r.Destination),
		row("local assets", fmt.Sprint(r.LocalAssets)),
		row("queued", fmt.Sprint(r.Queued)),
		row("succeeded", okStyle.Render(fmt.Sprint(r.Succeeded))),
		row("running", fmt.Sprint(r.Running)),
		row("failed", countStyle(r.Failed).Render(fmt.Sprint(r.Failed))),
		row("skipped", fmt.Sprint(r.Skipped)),
	}
	if r.NotStarted > 0 {
		lines = append(lines, row("not started", fmt.Sprint(r.NotStarted)))
	}
	lines = append(lines,
		row("uploaded", util.HumanSize(r.UploadedBytes)),
		row("duration", fmt.Sprintf("%.1fs", r.TotalDurationSec)),
	)

	var problems []string
	for _, a := range r.Results {
		if a.State != models.StateFailed && a.State != models.StateSkipped {
			continue
		}
		problems = append(problems, fmt.Sprintf("%s %s: %s", a.State, a.Name, a.Reason))
	}

	title := "geosync run"
	if r.Cancelled {
		title += " (interrupted)"
	}
	blocks := []string{titleStyle.Render(title), panelStyle.Render(strings.Join(lines, "\n"))}
	if len(problems) > 0 {
		blocks = append(blocks, errorStyle.Render("problems"), panelStyle.Render(strings.Join(problems, "\n")))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, blocks...))
	return err
}

func renderPlan(w io.Writer, r *models.RunResult) error {
	p := r.Plan
	if p == nil {
		p = &models.Plan{}
	}
	lines := []string{
		row("destination", r.Destination),
		row("local assets", fmt.Sprint(r.LocalAssets)),
		row("total size", util.HumanSize(p.TotalBytes)),
		row("already present", fmt.Sprint(p.Existing)),
		row("in flight", fmt.Sprint(p.InFlight)),
		row("excluded by ledger", fmt.Sprint(p.LedgerExcluded)),
		row("to upload", fmt.Sprint(len(p.ToUpload))),
	}

	names := p.ToUpload
	if len(names) > PreviewLimit {
		names = names[:PreviewLimit]
	}
	preview := make([]string, 0, len(names)+1)
	for _, n := range names {
		preview = append(preview, "  "+n)
	}
	if more := len(p.ToUpload) - len(names); more > 0 {
		preview = append(preview, mutedStyle.Render(fmt.Sprintf("  ... and %d more", more)))
	}

	blocks := []string{titleStyle.Render("geosync dry run"), panelStyle.Render(strings.Join(lines, "\n"))}
	if len(preview) > 0 {
		blocks = append(blocks, panelStyle.Render(strings.Join(preview, "\n")))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, blocks...))
	return err
}

// RenderOperations lists operations one per line: state, target asset and operation name.
func RenderOperations(w io.Writer, ops []catalog.Operation) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no operations"))
		return err
	}

	width := 0
	for _, op := range ops {
		width = max(width, len(op.Metadata.State))
	}
	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		target := catalog.TargetFromDescription(op.Metadata.Description)
		lines = append(lines, fmt.Sprintf("%-*s  %s  %s", width, op.Metadata.State, target, mutedStyle.Render(op.Name)))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

// RenderOperationSummary prints per-state counts sorted by state name.
func RenderOperationSummary(w io.Writer, counts map[string]int) error {
	states := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		states = append(states, s)
		total += n
	}
	slices.Sort(states)

	lines := make([]string, 0, len(states)+1)
	for _, s := range states {
		lines = append(lines, row(strings.ToLower(s), fmt.Sprint(counts[s])))
	}
	lines = append(lines, row("total", fmt.Sprint(total)))
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("operations"), panelStyle.Render(strings.Join(lines, "\n"))))
	return err
}

// RenderBundle summarizes a zipshape run.
func RenderBundle(w io.Writer, s shapefile.Summary) error {
	lines := []string{
		row("shapefiles", fmt.Sprint(s.Total)),
		row("created", okStyle.Render(fmt.Sprint(s.Created))),
		row("skipped", fmt.Sprint(s.Skipped)),
		row("failed", countStyle(s.Failed).Render(fmt.Sprint(s.Failed))),
	}
	failed := make([]string, 0, len(s.Failures))
	for path, reason := range s.Failures {
		failed = append(failed, fmt.Sprintf("%s: %s", path, reason))
	}
	slices.Sort(failed)

	blocks := []string{titleStyle.Render("zipshape"), panelStyle.Render(strings.Join(lines, "\n"))}
	if len(failed) > 0 {
		blocks = append(blocks, panelStyle.Render(strings.Join(failed, "\n")))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, blocks...))
	return err
}

func row(label, value string) string {
	return mutedStyle.Render(fmt.Sprintf("%-20s", label)) + value
}

func countStyle(n int) lipgloss.Style {
	if n > 0 {
		return errorStyle
	}
	return lipgloss.NewStyle()
}
