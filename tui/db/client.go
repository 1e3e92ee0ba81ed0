package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Client reads the daemon's SQLite operations database. Bookings come from
// Postgres when the daemon keeps its ledger there.
type Client struct {
	pg     *pgxpool.Pool
	sqlite *sql.DB
	ctx    context.Context
}

type ChannelStats struct {
	Channel        string
	LastRunAt      *time.Time
	LastRunStatus  string
	LastMethod     string
	TotalBookings  int
	SuccessRate    float64
	AvgRunDuration int
}

type SyncRun struct {
	ID            int64
	UserID        int64
	Channel       string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Status        string
	MethodUsed    string
	BookingsFound int
	BookingsSaved int
	ErrorsCount   int
	Error         string
}

type Booking struct {
	ExternalID   string
	Channel      string
	UserID       int64
	GuestName    string
	GuestEmail   string
	CheckIn      time.Time
	CheckOut     time.Time
	NumGuests    int
	TotalPrice   string
	Status       string
	SourceMethod string
	LastSyncedAt time.Time
}

type SyncLog struct {
	ID        int64
	RunID     *int64
	Timestamp time.Time
	Level     string
	Message   string
	Channel   string
}

type Counts struct {
	Connections     int
	FailingChannels int
	Bookings        int
	PendingCaptures int
	PendingCommands int
}

func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, err
	}

	c := &Client{sqlite: sqliteDB, ctx: ctx}
	if postgresURL != "" {
		pgPool, err := pgxpool.New(ctx, postgresURL)
		if err != nil {
			sqliteDB.Close()
			return nil, err
		}
		c.pg = pgPool
	}
	return c, nil
}

func (c *Client) Close() error {
	if c.pg != nil {
		c.pg.Close()
	}
	return c.sqlite.Close()
}

// Ledger names where bookings are read from.
func (c *Client) Ledger() string {
	if c.pg != nil {
		return "postgres"
	}
	return "sqlite"
}

func (c *Client) GetChannelStats() ([]ChannelStats, error) {
	rows, err := c.sqlite.Query(`
		SELECT channel, last_run_at, COALESCE(last_run_status, ''), COALESCE(last_method, ''),
			COALESCE(total_bookings, 0), COALESCE(success_rate, 0), COALESCE(avg_run_duration_sec, 0)
		FROM channel_stats
		ORDER BY channel
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ChannelStats
	for rows.Next() {
		var s ChannelStats
		var lastRun sql.NullString
		if err := rows.Scan(&s.Channel, &lastRun, &s.LastRunStatus, &s.LastMethod,
			&s.TotalBookings, &s.SuccessRate, &s.AvgRunDuration); err != nil {
			return nil, err
		}
		s.LastRunAt = parseNullTime(lastRun)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (c *Client) GetRecentRuns(limit int) ([]SyncRun, error) {
	rows, err := c.sqlite.Query(`
		SELECT id, COALESCE(user_id, 0), COALESCE(channel, ''), started_at, finished_at,
			COALESCE(status, ''), COALESCE(method_used, ''), COALESCE(bookings_found, 0),
			COALESCE(bookings_saved, 0), COALESCE(errors_count, 0), COALESCE(error, '')
		FROM sync_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var started, finished sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Channel, &started, &finished, &r.Status,
			&r.MethodUsed, &r.BookingsFound, &r.BookingsSaved, &r.ErrorsCount, &r.Error); err != nil {
			return nil, err
		}
		if t := parseNullTime(started); t != nil {
			r.StartedAt = *t
		}
		r.FinishedAt = parseNullTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Client) GetCounts() (Counts, error) {
	var n Counts
	err := c.sqlite.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM channel_connections WHERE is_connected),
			(SELECT COUNT(*) FROM channel_connections WHERE is_connected AND COALESCE(last_error, '') != ''),
			(SELECT COUNT(*) FROM captured_bookings WHERE consumed_at IS NULL),
			(SELECT COUNT(*) FROM commands WHERE processed_at IS NULL)
	`).Scan(&n.Connections, &n.FailingChannels, &n.PendingCaptures, &n.PendingCommands)
	if err != nil {
		return n, err
	}
	n.Bookings, err = c.GetBookingCount()
	return n, err
}

func (c *Client) GetBookingCount() (int, error) {
	var count int
	if c.pg != nil {
		err := c.pg.QueryRow(c.ctx, "SELECT COUNT(*) FROM bookings").Scan(&count)
		return count, err
	}
	err := c.sqlite.QueryRow("SELECT COUNT(*) FROM bookings").Scan(&count)
	return count, err
}

// GetBookings returns the most recently synced bookings first.
func (c *Client) GetBookings(limit, offset int, channel string) ([]Booking, error) {
	if c.pg != nil {
		return c.pgBookings(limit, offset, channel)
	}

	query := `
		SELECT external_booking_id, channel, user_id, COALESCE(guest_name, ''), COALESCE(guest_email, ''),
			check_in, check_out, COALESCE(num_guests, 1), COALESCE(total_price, '0'), status,
			COALESCE(source_method, ''), last_synced_at
		FROM bookings`
	args := []interface{}{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY last_synced_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := c.sqlite.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		var b Booking
		var checkIn, checkOut, synced sql.NullString
		if err := rows.Scan(&b.ExternalID, &b.Channel, &b.UserID, &b.GuestName, &b.GuestEmail,
			&checkIn, &checkOut, &b.NumGuests, &b.TotalPrice, &b.Status,
			&b.SourceMethod, &synced); err != nil {
			return nil, err
		}
		if t := parseNullTime(checkIn); t != nil {
			b.CheckIn = *t
		}
		if t := parseNullTime(checkOut); t != nil {
			b.CheckOut = *t
		}
		if t := parseNullTime(synced); t != nil {
			b.LastSyncedAt = *t
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (c *Client) pgBookings(limit, offset int, channel string) ([]Booking, error) {
	query := `
		SELECT external_booking_id, channel, user_id, guest_name, guest_email,
			check_in, check_out, num_guests, total_price::text, status,
			source_method, last_synced_at
		FROM bookings`
	args := []interface{}{}
	if channel != "" {
		query += ` WHERE channel = $1`
		args = append(args, channel)
	}
	query += fmt.Sprintf(` ORDER BY last_synced_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := c.pg.Query(c.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ExternalID, &b.Channel, &b.UserID, &b.GuestName, &b.GuestEmail,
			&b.CheckIn, &b.CheckOut, &b.NumGuests, &b.TotalPrice, &b.Status,
			&b.SourceMethod, &b.LastSyncedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (c *Client) GetRecentLogs(limit int, level *string) ([]SyncLog, error) {
	var rows *sql.Rows
	var err error

	if level != nil && *level != "ALL" {
		rows, err = c.sqlite.Query(`
			SELECT id, run_id, timestamp, level, message, COALESCE(channel, '')
			FROM sync_logs
			WHERE UPPER(level) = UPPER(?)
			ORDER BY id DESC
			LIMIT ?
		`, *level, limit)
	} else {
		rows, err = c.sqlite.Query(`
			SELECT id, run_id, timestamp, level, message, COALESCE(channel, '')
			FROM sync_logs
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var l SyncLog
		var ts sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message, &l.Channel); err != nil {
			return nil, err
		}
		if t := parseNullTime(ts); t != nil {
			l.Timestamp = *t
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// SendCommand queues a command for the daemon's scheduler.
func (c *Client) SendCommand(command string) error {
	_, err := c.sqlite.Exec(`
		INSERT INTO commands (command, params, created_at)
		VALUES (?, '', ?)
	`, command, time.Now().UTC())
	return err
}

func (c *Client) SyncAll() error { return c.SendCommand("sync_all") }
func (c *Client) Pause() error   { return c.SendCommand("pause") }
func (c *Client) Resume() error  { return c.SendCommand("resume") }

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads the timestamp formats the SQLite drivers write.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	// time.Time.String() output carries a trailing zone name and monotonic reading
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, ok := ParseTime(ns.String)
	if !ok {
		return nil
	}
	return &t
}
