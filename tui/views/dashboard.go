package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	stats  []db.ChannelStats
	runs   []db.SyncRun
	counts db.Counts
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	stats         []db.ChannelStats
	runs          []db.SyncRun
	counts        db.Counts
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
	daemonActive  bool
}

func NewDashboard(dbClient *db.Client, logPath string) Dashboard {
	if logPath == "" {
		logPath = "daemon.log"
	}
	return Dashboard{
		db:          dbClient,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		stats, _ := d.db.GetChannelStats()
		runs, _ := d.db.GetRecentRuns(10)
		counts, _ := d.db.GetCounts()
		return dashboardDataMsg{stats, runs, counts}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, isDaemonActive()}
	}
}

func isDaemonActive() bool {
	out, err := exec.Command("systemctl", "is-active", "channel_sync").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	modTime := info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var allLines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if len(allLines) == 0 {
		return []string{"(empty log)"}, modTime
	}

	start := len(allLines) - n
	if start < 0 {
		start = 0
	}
	return allLines[start:], modTime
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.stats = msg.stats
		d.runs = msg.runs
		d.counts = msg.counts
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Dashboard"),
		d.renderStatCards(),
		"",
		d.renderChannelCards(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d Dashboard) renderStatCards() string {
	cards := []string{
		d.renderStatCard("Connections", fmt.Sprintf("%d", d.counts.Connections)),
		d.renderStatCard("Failing", fmt.Sprintf("%d", d.counts.FailingChannels)),
		d.renderStatCard("Bookings", fmt.Sprintf("%d", d.counts.Bookings)),
		d.renderStatCard("Captures", fmt.Sprintf("%d", d.counts.PendingCaptures)),
		d.renderStatCard("Commands", fmt.Sprintf("%d", d.counts.PendingCommands)),
		d.renderStatCard("Channels", fmt.Sprintf("%d", len(d.stats))),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(14).Render(content)
}

func (d Dashboard) renderChannelCards() string {
	if len(d.stats) == 0 {
		return styles.Muted.Render("No channel has synced yet")
	}

	var cards []string
	for _, s := range d.stats {
		cards = append(cards, d.renderChannelCard(s))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderChannelCard(s db.ChannelStats) string {
	status, statusStyle := runStatus(s.LastRunStatus)

	lastRun := "never"
	if s.LastRunAt != nil {
		lastRun = relativeTime(*s.LastRunAt)
	}
	method := s.LastMethod
	if method == "" {
		method = "-"
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render(s.Channel),
		statusStyle.Render(status),
		styles.StatLabel.Render(fmt.Sprintf("Last: %s", lastRun)),
		styles.StatLabel.Render(fmt.Sprintf("Method: %s", method)),
		styles.StatLabel.Render(fmt.Sprintf("Bookings: %d", s.TotalBookings)),
		styles.StatLabel.Render(fmt.Sprintf("Rate: %.0f%%", s.SuccessRate*100)),
		styles.StatLabel.Render(fmt.Sprintf("Avg: %ds", s.AvgRunDuration)),
	)
	return styles.ChannelCardBorder.Width(22).Render(content)
}

func runStatus(status string) (string, lipgloss.Style) {
	switch status {
	case "completed":
		return "✓ completed", styles.StatusSuccess
	case "failed":
		return "✗ failed", styles.StatusError
	case "running":
		return "◐ running", styles.StatusPending
	}
	return "○ never run", styles.StatusPending
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-6s %-12s %-8s %-10s %-10s %-10s %6s %6s %6s",
		"Run", "Channel", "User", "Status", "Method", "Started", "Found", "Saved", "Errors")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		_, statusStyle := runStatus(r.Status)
		method := r.MethodUsed
		if method == "" {
			method = "-"
		}
		row := fmt.Sprintf("%-6d %-12s %-8d %s %-10s %-10s %6d %6d %6d",
			r.ID,
			truncate(r.Channel, 12),
			r.UserID,
			statusStyle.Render(fmt.Sprintf("%-10s", r.Status)),
			truncate(method, 10),
			r.StartedAt.Local().Format("15:04:05"),
			r.BookingsFound,
			r.BookingsSaved,
			r.ErrorsCount,
		)
		if r.Status == "failed" && r.Error != "" {
			row += "  " + styles.StatusError.Render(truncate(r.Error, d.width-90))
		}
		rows += row + "\n"
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	width := d.width - 4
	if width < 20 {
		width = 80
	}
	if len(d.logLines) == 0 {
		return styles.LogBox.Width(width).Render(styles.Muted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	endIdx := total - d.logScroll
	startIdx := endIdx - d.logViewport
	if startIdx < 0 {
		startIdx = 0
	}
	if endIdx > total {
		endIdx = total
	}

	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, width-4))
	}

	var indicator string
	switch {
	case !d.daemonActive:
		indicator = styles.StatusError.Render(" ● STOPPED ")
	case d.logScroll > 0:
		indicator = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	default:
		indicator = styles.StatusSuccess.Render(" ● LIVE ")
	}

	header := styles.Title.Render("Live Log") + indicator +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))
	return styles.LogBox.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

func styleLogLine(line string, maxWidth int) string {
	entry, ok := parseLogLine(line)
	if !ok {
		return truncate(line, maxWidth)
	}

	text := entry.Message
	if entry.Channel != "" {
		text = "[" + entry.Channel + "] " + text
	}
	if entry.Error != "" {
		text += ": " + entry.Error
	}

	ts := ""
	if !entry.Time.IsZero() {
		ts = entry.Time.Local().Format("15:04:05") + " "
	}
	level := fmt.Sprintf("%-5s ", strings.ToUpper(entry.Level))
	text = truncate(text, maxWidth-len(ts)-len(level))

	return styles.LogTimestamp.Render(ts) + levelStyle(entry.Level).Render(level) + text
}
