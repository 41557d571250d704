package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ajy121650/mailer-back/internal/sync"
	"github.com/ajy121650/mailer-back/internal/theme"
)

// renderResult formats one sync run for the terminal.
func renderResult(address string, res *sync.Result) string {
	title := theme.HeaderStyle.Render("sync " + address)

	rows := []string{
		row("window from", res.WindowStart.Local().Format(time.RFC3339)),
		row("candidates", fmt.Sprint(res.Candidates)),
		row("already known", fmt.Sprint(res.Known)),
		row("ingested", fmt.Sprint(res.Ingested)),
		row("skipped", fmt.Sprint(len(res.Skipped))),
		row("errors", fmt.Sprint(len(res.Errors))),
		row("duration", res.Duration.Round(time.Millisecond).String()),
	}
	if res.Checkpoint != nil {
		rows = append(rows, row("checkpoint", res.Checkpoint.Local().Format(time.RFC3339)))
	}
	if res.ClassifierErr != nil {
		rows = append(rows, row("classifier", theme.ErrorStyle.Render(res.ClassifierErr.Error())))
	}

	state := sync.StateIdle.String()
	if res.Failed() {
		state = sync.StateFailed.String()
	}
	rows = append(rows, row("state", theme.StateStyle(state).Render(state)))

	for _, sk := range res.Skipped {
		rows = append(rows, theme.HelpStyle.Render(fmt.Sprintf("skip uid %d: %s", sk.UID, sk.Reason)))
	}
	for _, me := range res.Errors {
		rows = append(rows, theme.ErrorStyle.Render(me.Error()))
	}
	if res.Reason != "" {
		rows = append(rows, theme.ErrorStyle.Render(res.Reason))
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, theme.PanelStyle.Render(strings.Join(rows, "\n")))
}

func renderReclassify(res *sync.ReclassifyResult) string {
	if res == nil || res.Checked == 0 {
		return theme.HelpStyle.Render("no unclassified entries")
	}
	return fmt.Sprintf("reclassified %d: %s %d, %s %d, %d raced",
		res.Checked,
		theme.FolderStyle("inbox").Render("inbox"), res.Inbox,
		theme.FolderStyle("spam").Render("spam"), res.Spam,
		res.Raced,
	)
}

func row(label, value string) string {
	return theme.LabelStyle.Render(label) + value
}

func errorLine(err error) string {
	if err == nil {
		return ""
	}
	return theme.ErrorStyle.Render("error: ") + err.Error()
}
