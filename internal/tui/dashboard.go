// Package tui is the live terminal dashboard of an evaluation run.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"

	"github.com/san-kum/stackeval/internal/metrics"
	"github.com/san-kum/stackeval/internal/platform"
	"github.com/san-kum/stackeval/internal/trial"
)

const historyLen = 60

// Source is what the dashboard watches.
type Source interface {
	Status() platform.Status
	Collector() *metrics.Collector
}

type tickMsg time.Time

type doneMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	src    Source
	cancel context.CancelFunc
	title  string

	status  platform.Status
	summary map[string]float64
	rates   []float64
	last    trial.Event
	seen    int
	frame   int

	done bool
	err  error

	width  int
	height int
}

func newModel(title string, src Source, cancel context.CancelFunc) model {
	return model{
		src:     src,
		cancel:  cancel,
		title:   title,
		summary: map[string]float64{},
		width:   80,
		height:  24,
	}
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.refresh()
		m.frame++
		return m, tick()
	case doneMsg:
		m.refresh()
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) refresh() {
	m.status = m.src.Status()
	m.summary = m.src.Collector().Summary()
	last, seen := m.src.Collector().Last()
	if seen != m.seen && last.Kind == trial.EventEvaluated {
		m.rates = append(m.rates, m.summary["success_rate"])
		if len(m.rates) > historyLen {
			m.rates = m.rates[1:]
		}
	}
	m.last, m.seen = last, seen
}

func (m model) View() string {
	var b strings.Builder
	w := m.width - 4
	if w < 40 {
		w = 40
	}

	state := m.status.State.String()
	indicator := green.Render(spinner[m.frame%len(spinner)])
	if m.done {
		indicator = white.Render("■")
	}

	b.WriteString("\n  " + indicator + " " + cyan.Render(m.title) + "  " + dim.Render(state) + "\n")
	b.WriteString("  " + separator(w) + "\n\n")

	done := 0.0
	if m.status.Objects > 0 {
		done = float64(m.status.Objects-m.status.Unestimated) / float64(m.status.Objects)
	}
	b.WriteString(fmt.Sprintf("  %s %s %s\n", metricLabel.Render("estimated"), progressBar(done, 30),
		dim.Render(fmt.Sprintf("%d/%d", m.status.Objects-m.status.Unestimated, m.status.Objects))))
	b.WriteString(fmt.Sprintf("  %s %s   %s %s   %s %s\n",
		metricLabel.Render("trials"), metricValue.Render(fmt.Sprint(m.status.Trials)),
		metricLabel.Render("snapshots"), metricValue.Render(fmt.Sprint(m.status.Snapshots)),
		metricLabel.Render("sim"), metricValue.Render(fmt.Sprintf("%.2fs", m.status.SimTime))))
	b.WriteString("\n")

	b.WriteString(panel.Render(m.metricsView()) + "\n")
	b.WriteString(fmt.Sprintf("  %s %s\n", metricLabel.Render("success rate"), sparkline(m.rates, min(w-16, historyLen))))
	b.WriteString("  " + m.lastView() + "\n\n")
	b.WriteString(m.topicsView())

	switch {
	case m.err != nil:
		b.WriteString("\n  " + red.Render("error: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n  " + green.Render("run finished") + "\n")
	}
	b.WriteString("\n" + dim.Render("  q quit") + "\n")
	return b.String()
}

func (m model) metricsView() string {
	names := make([]string, 0, len(m.summary))
	for name := range m.summary {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, fmt.Sprintf("%s %s", metricLabel.Render(fmt.Sprintf("%-22s", name)), metricValue.Render(fmt.Sprintf("%8.3f", m.summary[name]))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m model) lastView() string {
	if m.seen == 0 {
		return dimmer.Render("no events yet")
	}
	e := m.last
	switch e.Kind {
	case trial.EventEvaluated:
		if e.Accepted {
			return green.Render("✓ ") + white.Render(e.Object) + dim.Render(fmt.Sprintf("  %.2f°", e.Verdict.AngleDeg))
		}
		return red.Render("✗ ") + white.Render(e.Object) + dim.Render("  "+string(e.Reason))
	case trial.EventInestimable:
		return yellow.Render(fmt.Sprintf("! inestimable with %d objects left", e.Unestimated))
	case trial.EventRethrow:
		return cyan.Render(fmt.Sprintf("↻ rethrow, trial %d", e.Trial))
	case trial.EventSteady:
		if e.HasTime {
			return dim.Render(fmt.Sprintf("steady after %s", e.TimeToSteady.Round(time.Millisecond)))
		}
		return dim.Render("steady")
	default:
		return dim.Render(fmt.Sprintf("round ended, %d left", e.Unestimated))
	}
}

func (m model) topicsView() string {
	var b strings.Builder
	for _, t := range m.status.Topics {
		mark := red.Render("○")
		if t.Subscribers > 0 {
			mark = green.Render("●")
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n", mark, dim.Render(fmt.Sprintf("%-44s", t.Topic)), dimmer.Render(fmt.Sprintf("%d sent", t.Published))))
	}
	return b.String()
}

// Run shows the dashboard while run executes. Quitting the dashboard cancels
// the run; the run finishing closes the dashboard.
func Run(ctx context.Context, title string, src Source, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(title, src, cancel), tea.WithAltScreen())
	errCh := make(chan error, 1)
	go func() {
		err := run(ctx)
		errCh <- err
		p.Send(doneMsg{err: err})
	}()

	final, tuiErr := p.Run()
	cancel()
	runErr := <-errCh
	if m, ok := final.(model); ok && m.done {
		// Leave the final frame on the terminal.
		fmt.Print(m.View())
	}
	return multierr.Combine(runErr, tuiErr)
}
