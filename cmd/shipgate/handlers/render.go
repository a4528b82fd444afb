package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/shipgate/internal/pipeline"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue)

	readyStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	checkMark = "[OK]"
	crossMark = "[!!]"
	waitMark  = "[..]"
	pendMark  = "[  ]"
	skipMark  = "[--]"
)

// stepMark returns the status marker for a step.
func stepMark(s pipeline.StepStatus) string {
	switch s {
	case pipeline.StepSucceeded, pipeline.StepApproved:
		return readyStyle.Render(checkMark)
	case pipeline.StepFailed, pipeline.StepRejected:
		return failedStyle.Render(crossMark)
	case pipeline.StepRunning, pipeline.StepAwaitingApproval:
		return warningStyle.Render(waitMark)
	case pipeline.StepAborted:
		return dimStyle.Render(skipMark)
	}
	return dimStyle.Render(pendMark)
}

// runStatus styles a run status.
func runStatus(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSucceeded:
		return readyStyle.Render(string(s))
	case pipeline.StatusFailed, pipeline.StatusRejected:
		return failedStyle.Render(string(s))
	case pipeline.StatusAborted:
		return dimStyle.Render(string(s))
	}
	return warningStyle.Render(string(s))
}

// renderRun draws one run and its steps.
func renderRun(snap pipeline.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", snap.Pipeline, snap.ID)))
	b.WriteString(" " + runStatus(snap.Status) + "\n")
	trigger := snap.Trigger.Repository + "@" + snap.Trigger.Branch
	if snap.Trigger.Revision != "" {
		trigger += " (" + shortRevision(snap.Trigger.Revision) + ")"
	}
	if snap.Trigger.TriggeredBy != "" {
		trigger += " by " + snap.Trigger.TriggeredBy
	}
	b.WriteString(dimStyle.Render(trigger) + "\n\n")

	b.WriteString(sectionStyle.Render("Steps") + "\n")
	nameWidth := 4
	for _, step := range snap.Steps {
		nameWidth = max(nameWidth, len(step.Name))
	}
	for _, step := range snap.Steps {
		fmt.Fprintf(&b, "  %s %-*s  %-6s  %-17s  %s\n",
			stepMark(step.Status), nameWidth, step.Name, step.Kind, step.Status, stepDetail(step))
	}

	if snap.Error != "" {
		b.WriteString("\n" + failedStyle.Render("Error: "+snap.Error) + "\n")
	}
	return b.String()
}

// stepDetail is the trailing column of a step row.
func stepDetail(step pipeline.StepRecord) string {
	switch {
	case step.Gate != nil && step.Gate.Actor != "":
		detail := fmt.Sprintf("%s by %s", step.Gate.Decision, step.Gate.Actor)
		if step.Gate.Comment != "" {
			detail += ": " + step.Gate.Comment
		}
		return dimStyle.Render(detail)
	case step.Gate != nil && step.Gate.Message != "":
		return dimStyle.Render(step.Gate.Message)
	case step.Error != "":
		return failedStyle.Render(step.Error)
	case !step.StartedAt.IsZero() && !step.FinishedAt.IsZero():
		return dimStyle.Render(step.FinishedAt.Sub(step.StartedAt).Round(time.Millisecond).String())
	}
	return ""
}

// renderRunList draws one row per run.
func renderRunList(runs []pipeline.Snapshot) string {
	if len(runs) == 0 {
		return dimStyle.Render("No runs.") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-17s  %-24s  %-20s  %s\n", "RUN", "STATUS", "STEP", "CREATED", "TRIGGER")
	for _, snap := range runs {
		// Styles add escape codes, so pad outside the rendered text.
		pad := strings.Repeat(" ", max(0, 17-len(snap.Status)))
		fmt.Fprintf(&b, "%-36s  %s  %-24s  %-20s  %s@%s\n",
			snap.ID,
			runStatus(snap.Status)+pad,
			snap.CurrentStep,
			snap.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			snap.Trigger.Repository, snap.Trigger.Branch)
	}
	return b.String()
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
