package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"github.com/bnema/pinup/internal/adapters/in/cli/ui/components"
	"github.com/bnema/pinup/internal/adapters/in/cli/ui/styles"
	"github.com/bnema/pinup/internal/domain"
)

var cliWriteLine = func(w io.Writer, msg string) error {
	_, err := fmt.Fprintln(w, msg)
	return err
}

func cliRenderTitle(msg string) string {
	return styles.Theme.Title.Render(msg)
}

func cliRenderMuted(msg string) string {
	return styles.Theme.Muted.Render(msg)
}

func cliRenderChange(service, from, to string) string {
	return styles.RenderListItem(
		styles.Theme.Bold.Render(service) + " " +
			cliRenderMuted(from) + " " + styles.IconArrow + " " +
			styles.Theme.Code.Render(to),
	)
}

// renderReport prints a run report: one table row per project, the
// planned changes, skipped services and a closing summary.
func renderReport(w io.Writer, report domain.RunReport, dryRun bool) error {
	title := "Run report"
	if dryRun {
		title = "Check report"
	}

	tbl := components.NewTable(components.WithColumns([]components.TableColumn{
		{Title: "Project"},
		{Title: "Status"},
		{Title: "Pins", Width: 6},
		{Title: "Detail", Width: 60},
	}))
	for _, p := range report.Projects {
		tbl.AddRow(p.Project.Name, components.RenderStatus(p.Outcome), strconv.Itoa(len(p.Plan)), projectDetail(p))
	}

	lines := []string{cliRenderTitle(title), tbl.Render()}

	for _, p := range report.Projects {
		if len(p.Plan) == 0 && len(p.Skipped) == 0 {
			continue
		}
		lines = append(lines, "", cliRenderTitle(p.Project.Name)+" "+cliRenderMuted(p.Project.ComposeFile))
		for _, entry := range p.Plan {
			service := entry.Service
			if entry.File != "" && entry.File != p.Project.ComposeFile {
				service = filepath.Base(entry.File) + ": " + service
			}
			lines = append(lines, cliRenderChange(service, entry.Original.String(), entry.PinnedReference()))
		}
		skipped := make([]string, 0, len(p.Skipped))
		for service := range p.Skipped {
			skipped = append(skipped, service)
		}
		slices.Sort(skipped)
		for _, service := range skipped {
			lines = append(lines, styles.RenderListItem(cliRenderMuted(service+" skipped: "+p.Skipped[service])))
		}
	}

	lines = append(lines, "", renderSummary(report, dryRun))
	return cliWriteLine(w, strings.Join(lines, "\n"))
}

func projectDetail(p domain.ProjectReport) string {
	var parts []string
	if p.Recovered {
		parts = append(parts, "restored leftover backup")
	}
	if p.Err != nil {
		parts = append(parts, p.Err.Error())
	}
	if p.Result != nil && len(p.Result.Pruned.DeletedIDs) > 0 {
		parts = append(parts, fmt.Sprintf("pruned %d images (%s)",
			len(p.Result.Pruned.DeletedIDs), units.HumanSize(float64(p.Result.Pruned.SpaceReclaimed))))
	}
	return strings.Join(parts, "; ")
}

func renderSummary(report domain.RunReport, dryRun bool) string {
	counts := []string{
		fmt.Sprintf("%d updated", report.Count(domain.OutcomeUpdated)),
		fmt.Sprintf("%d unchanged", report.Count(domain.OutcomeUnchanged)),
		fmt.Sprintf("%d failed", report.Count(domain.OutcomeFailed)),
		fmt.Sprintf("%d rolled back", report.Count(domain.OutcomeRolledBack)),
	}
	if dryRun {
		counts[0] = fmt.Sprintf("%d pending", report.Count(domain.OutcomePending))
	}
	summary := strings.Join(counts, ", ")

	if report.HasFailures() {
		return styles.RenderError(summary)
	}
	return styles.RenderSuccess(summary)
}
