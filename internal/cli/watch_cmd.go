package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ajy121650/mailer-back/internal/sync"
	"github.com/ajy121650/mailer-back/internal/theme"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the scheduler with a live status view",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := a.seedAccounts(ctx); err != nil {
			return err
		}
		if err := a.detachLogger(); err != nil {
			return err
		}
		sched, err := a.scheduler()
		if err != nil {
			return err
		}

		done := make(chan error, 1)
		go func() { done <- sched.Run(ctx) }()

		_, err = tea.NewProgram(newWatchModel(sched), tea.WithAltScreen()).Run()
		cancel()
		<-done
		return err
	},
}

const maxReportLines = 8

type watchKeyMap struct {
	Trigger key.Binding
	Quit    key.Binding
}

var watchKeys = watchKeyMap{
	Trigger: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "sync now")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// statusSource is the part of the scheduler the view reads.
type statusSource interface {
	Statuses() []sync.Status
	Reports() <-chan sync.Report
	Trigger()
}

type refreshMsg time.Time

type reportMsg sync.Report

// watchModel shows one row per account and the latest run reports.
type watchModel struct {
	sched    statusSource
	spinner  spinner.Model
	statuses []sync.Status
	reports  []string
	width    int
}

func newWatchModel(sched statusSource) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return watchModel{sched: sched, spinner: sp}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refreshTick(), waitForReport(m.sched.Reports()))
}

func refreshTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// waitForReport blocks until the scheduler finishes an account run.
func waitForReport(ch <-chan sync.Report) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return nil
		}
		return reportMsg(r)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, watchKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, watchKeys.Trigger):
			m.sched.Trigger()
		}
		return m, nil

	case refreshMsg:
		m.statuses = m.sched.Statuses()
		return m, refreshTick()

	case reportMsg:
		m.reports = append(m.reports, reportLine(sync.Report(msg)))
		if len(m.reports) > maxReportLines {
			m.reports = m.reports[len(m.reports)-maxReportLines:]
		}
		m.statuses = m.sched.Statuses()
		return m, waitForReport(m.sched.Reports())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("mailsync"))
	b.WriteString("\n\n")

	if len(m.statuses) == 0 {
		b.WriteString(m.spinner.View() + " waiting for the first pass\n")
	}
	for _, st := range m.statuses {
		b.WriteString(m.statusRow(st))
		b.WriteString("\n")
	}

	if len(m.reports) > 0 {
		b.WriteString("\n")
		b.WriteString(theme.PanelStyle.Render(strings.Join(m.reports, "\n")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(fmt.Sprintf("%s %s  %s %s",
		watchKeys.Trigger.Help().Key, watchKeys.Trigger.Help().Desc,
		watchKeys.Quit.Help().Key, watchKeys.Quit.Help().Desc)))
	return b.String()
}

func (m watchModel) statusRow(st sync.Status) string {
	indicator := " "
	if st.Running {
		indicator = m.spinner.View()
	}

	state := st.State.String()
	last := theme.HelpStyle.Render("never")
	switch {
	case st.Locked:
		last = theme.HelpStyle.Render("locked by another worker")
	case st.Err != nil:
		last = theme.ErrorStyle.Render(st.Err.Error())
	case st.Last != nil:
		last = fmt.Sprintf("%s  +%d ingested", st.LastRun.Local().Format("15:04:05"), st.Last.Ingested)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		indicator+" ",
		theme.LabelStyle.Width(28).Render(st.Address),
		theme.StateStyle(state).Width(18).Render(state),
		last,
	)
}

func reportLine(r sync.Report) string {
	ts := time.Now().Format("15:04:05")
	switch {
	case r.AuthFailed:
		return fmt.Sprintf("%s %s %s", ts, r.AccountID, theme.ErrorStyle.Render("credentials rejected"))
	case r.Err != nil:
		return fmt.Sprintf("%s %s %s", ts, r.AccountID, theme.ErrorStyle.Render(r.Err.Error()))
	case r.Result != nil:
		return fmt.Sprintf("%s %s ingested %d, known %d, errors %d",
			ts, r.AccountID, r.Result.Ingested, r.Result.Known, len(r.Result.Errors))
	default:
		return fmt.Sprintf("%s %s done", ts, r.AccountID)
	}
}
