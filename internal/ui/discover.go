package ui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/lumen/internal/discovery"
)

// ErrCancelled is returned when the operator quits a running program.
var ErrCancelled = errors.New("cancelled")

// ScanFunc runs one discovery pass.
type ScanFunc func() ([]*discovery.Device, error)

type scanDoneMsg struct {
	devices []*discovery.Device
	err     error
}

type discoverModel struct {
	spinner spinner.Model
	scan    ScanFunc
	window  time.Duration
	started time.Time

	devices []*discovery.Device
	err     error
	done    bool
}

func newDiscoverModel(scan ScanFunc, window time.Duration) discoverModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return discoverModel{spinner: s, scan: scan, window: window, started: time.Now()}
}

func (m discoverModel) Init() tea.Cmd {
	scan := m.scan
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		devices, err := scan()
		return scanDoneMsg{devices: devices, err: err}
	})
}

func (m discoverModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case scanDoneMsg:
		m.devices, m.err, m.done = msg.devices, msg.err, true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.err, m.done = ErrCancelled, true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m discoverModel) View() string {
	if m.done {
		return ""
	}
	left := m.window - time.Since(m.started).Truncate(time.Second)
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf("%s Searching for Lumen fixtures... %s\n",
		m.spinner.View(), HintStyle.Render(fmt.Sprintf("(%s left, q to quit)", left)))
}

// RunDiscovery runs scan behind a spinner on out. Without a terminal the
// scan runs silently.
func RunDiscovery(out io.Writer, window time.Duration, scan ScanFunc) ([]*discovery.Device, error) {
	if !IsTerminal() {
		return scan()
	}
	final, err := tea.NewProgram(newDiscoverModel(scan, window), tea.WithOutput(out)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(discoverModel)
	return m.devices, m.err
}

// DeviceTable renders discovered fixtures sorted by host name.
func DeviceTable(devices []*discovery.Device) string {
	sorted := append([]*discovery.Device(nil), devices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hostname < sorted[j].Hostname })

	rows := make([]table.Row, 0, len(sorted))
	for _, d := range sorted {
		fw := d.Firmware()
		if fw == "" {
			fw = "-"
		}
		rows = append(rows, table.Row{d.Instance, d.Hostname, d.BaseURL(), fw, d.GetMetadata(discovery.TXTMAC)})
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Name", Width: 14},
			{Title: "Host", Width: 20},
			{Title: "Address", Width: 24},
			{Title: "Firmware", Width: 10},
			{Title: "MAC", Width: 17},
		}),
		table.WithRows(rows),
		table.WithHeight(len(rows)+3),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	return t.View()
}
