package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var channelFilters = []string{"", "airbnb", "booking", "vrbo", "expedia", "agoda"}

type bookingsMsg struct {
	bookings []db.Booking
	total    int
}

// Bookings pages through the ledger, newest sync first.
type Bookings struct {
	db            *db.Client
	width, height int
	bookings      []db.Booking
	selectedRow   int
	channelIndex  int
	page          int
	pageSize      int
	total         int
}

func NewBookings(dbClient *db.Client) Bookings {
	return Bookings{db: dbClient, pageSize: 100}
}

func (b Bookings) Init() tea.Cmd {
	return b.Refresh()
}

func (b Bookings) Refresh() tea.Cmd {
	return func() tea.Msg {
		bookings, _ := b.db.GetBookings(b.pageSize, b.page*b.pageSize, channelFilters[b.channelIndex])
		total, _ := b.db.GetBookingCount()
		return bookingsMsg{bookings, total}
	}
}

func (b Bookings) SetSize(w, h int) Bookings {
	b.width = w
	b.height = h
	return b
}

func (b Bookings) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case bookingsMsg:
		b.bookings = msg.bookings
		b.total = msg.total
		if b.selectedRow >= len(b.bookings) {
			b.selectedRow = 0
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if b.selectedRow > 0 {
				b.selectedRow--
			}
		case "down", "j":
			if b.selectedRow < len(b.bookings)-1 {
				b.selectedRow++
			}
		case "pgup", "ctrl+u":
			b.selectedRow = max(b.selectedRow-10, 0)
		case "pgdown", "ctrl+d":
			b.selectedRow = max(min(b.selectedRow+10, len(b.bookings)-1), 0)
		case "home", "g":
			b.selectedRow = 0
		case "end", "G":
			b.selectedRow = max(len(b.bookings)-1, 0)
		case "c":
			b.channelIndex = (b.channelIndex + 1) % len(channelFilters)
			b.page = 0
			b.selectedRow = 0
			return b, b.Refresh()
		case "[":
			if b.page > 0 {
				b.page--
				b.selectedRow = 0
				return b, b.Refresh()
			}
		case "]":
			if len(b.bookings) == b.pageSize {
				b.page++
				b.selectedRow = 0
				return b, b.Refresh()
			}
		}
	}
	return b, nil
}

func (b Bookings) visibleRows() int {
	rows := 20
	if b.height > 0 {
		rows = max((b.height*60)/100, 10)
	}
	return rows
}

func (b Bookings) View() string {
	filter := channelFilters[b.channelIndex]
	if filter == "" {
		filter = "all channels"
	}

	header := styles.Title.Render("Bookings") +
		styles.StatValue.Render(fmt.Sprintf("  %d total", b.total)) +
		styles.StatLabel.Render(fmt.Sprintf("  Page %d  %s  (ledger: %s)", b.page+1, filter, b.db.Ledger()))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		b.renderTable(),
		b.renderDetail(),
		styles.Muted.Render("c channel  [ ] page  ↑/↓ select"),
	)
}

func (b Bookings) renderTable() string {
	if len(b.bookings) == 0 {
		return styles.Muted.Render("No bookings")
	}

	head := fmt.Sprintf("%-14s %-10s %-22s %-10s %-10s %4s %10s %-11s %-10s",
		"Code", "Channel", "Guest", "Check-in", "Check-out", "Pax", "Total", "Status", "Method")
	lines := []string{styles.TableHeader.Render(head)}

	visible := b.visibleRows()
	start := 0
	if b.selectedRow >= visible {
		start = b.selectedRow - visible + 1
	}
	end := min(start+visible, len(b.bookings))

	for i := start; i < end; i++ {
		bk := b.bookings[i]
		row := fmt.Sprintf("%-14s %-10s %-22s %-10s %-10s %4d %10s %-11s %-10s",
			truncate(bk.ExternalID, 14),
			truncate(bk.Channel, 10),
			truncate(bk.GuestName, 22),
			bk.CheckIn.Format("2006-01-02"),
			bk.CheckOut.Format("2006-01-02"),
			bk.NumGuests,
			bk.TotalPrice,
			truncate(bk.Status, 11),
			truncate(bk.SourceMethod, 10),
		)
		if i == b.selectedRow {
			row = styles.TableSelected.Render(row)
		}
		lines = append(lines, row)
	}
	return strings.Join(lines, "\n")
}

func (b Bookings) renderDetail() string {
	if len(b.bookings) == 0 {
		return ""
	}
	bk := b.bookings[b.selectedRow]

	nights := int(bk.CheckOut.Sub(bk.CheckIn).Hours() / 24)
	synced := "never"
	if !bk.LastSyncedAt.IsZero() {
		synced = relativeTime(bk.LastSyncedAt)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render(fmt.Sprintf("%s  %s", bk.ExternalID, bk.GuestName)),
		styles.StatLabel.Render(fmt.Sprintf("Email: %s", bk.GuestEmail)),
		styles.StatLabel.Render(fmt.Sprintf("User: %d  Nights: %d  Guests: %d", bk.UserID, nights, bk.NumGuests)),
		styles.StatLabel.Render(fmt.Sprintf("Synced %s via %s", synced, bk.SourceMethod)),
	)
	return styles.DetailBox.Render(content)
}
