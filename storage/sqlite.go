package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"channel_sync/models"
)

// SQLiteStore is the default ledger and the home of operational data
// (runs, logs, stats, commands) whichever ledger is in use.
type SQLiteStore struct {
	db    *sql.DB
	creds *CredentialBox
}

func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, creds: applyOptions(opts).box}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_connections (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		channel TEXT NOT NULL,
		property_id INTEGER,
		is_connected BOOLEAN DEFAULT TRUE,
		preferred_method TEXT DEFAULT '',
		last_method TEXT DEFAULT '',
		ical_url TEXT DEFAULT '',
		email_sync_enabled BOOLEAN DEFAULT FALSE,
		credentials TEXT,
		extension_token TEXT,
		last_sync_at DATETIME,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, channel)
	);

	CREATE TABLE IF NOT EXISTS guests (
		id INTEGER PRIMARY KEY,
		first_name TEXT DEFAULT '',
		last_name TEXT DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY,
		external_booking_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		property_id INTEGER,
		guest_id INTEGER NOT NULL,
		guest_name TEXT DEFAULT '',
		guest_email TEXT DEFAULT '',
		check_in DATETIME NOT NULL,
		check_out DATETIME NOT NULL,
		num_guests INTEGER DEFAULT 1,
		total_price TEXT DEFAULT '0',
		status TEXT NOT NULL,
		source_method TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		last_synced_at DATETIME,
		UNIQUE(external_booking_id, channel),
		FOREIGN KEY (guest_id) REFERENCES guests(id)
	);

	CREATE TABLE IF NOT EXISTS captured_bookings (
		id INTEGER PRIMARY KEY,
		connection_id INTEGER NOT NULL,
		payload BLOB NOT NULL,
		captured_at DATETIME,
		consumed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		user_id INTEGER,
		connection_id INTEGER,
		channel TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		method_used TEXT DEFAULT '',
		bookings_found INTEGER DEFAULT 0,
		bookings_saved INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		error TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		channel TEXT
	);

	CREATE TABLE IF NOT EXISTS channel_stats (
		channel TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		last_method TEXT,
		total_bookings INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_connections_user ON channel_connections(user_id, is_connected);
	CREATE INDEX IF NOT EXISTS idx_connections_token ON channel_connections(extension_token);
	CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, check_in);
	CREATE INDEX IF NOT EXISTS idx_captures_pending ON captured_bookings(connection_id) WHERE consumed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON sync_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_channel ON sync_runs(channel, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// Connections
// =============================================================================

const connectionColumns = `id, user_id, channel, property_id, is_connected, preferred_method, last_method,
	ical_url, email_sync_enabled, credentials, extension_token, last_sync_at, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConnection(row rowScanner) (*models.ChannelConnection, error) {
	var c models.ChannelConnection
	var creds, token sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Channel, &c.PropertyID, &c.IsConnected, &c.PreferredMethod,
		&c.LastMethod, &c.ICalURL, &c.EmailSyncEnabled, &creds, &token, &c.LastSyncAt, &c.LastError,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ExtensionToken = token.String
	if c.Credentials, err = decodeCredentials(s.creds, []byte(creds.String)); err != nil {
		return nil, fmt.Errorf("decode credentials for connection %d: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListActiveConnections(ctx context.Context, userID int64) ([]models.ChannelConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections WHERE user_id = ? AND is_connected = TRUE ORDER BY channel`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.ChannelConnection
	for rows.Next() {
		c, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *SQLiteStore) ListUsersWithConnections(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM channel_connections WHERE is_connected = TRUE ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) GetConnection(ctx context.Context, userID int64, channel models.ChannelID) (*models.ChannelConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections WHERE user_id = ? AND channel = ?`, userID, channel)
	c, err := s.scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetConnectionByExtensionToken(ctx context.Context, token string) (*models.ChannelConnection, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections WHERE extension_token = ? AND is_connected = TRUE`, token)
	c, err := s.scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// SaveConnection inserts or updates the connection for (UserID, Channel)
// and sets c.ID.
func (s *SQLiteStore) SaveConnection(ctx context.Context, c *models.ChannelConnection) error {
	creds, err := encodeCredentials(s.creds, c.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	var token sql.NullString
	if c.ExtensionToken != "" {
		token = sql.NullString{String: c.ExtensionToken, Valid: true}
	}
	now := time.Now().UTC()

	return s.db.QueryRowContext(ctx, `
		INSERT INTO channel_connections (user_id, channel, property_id, is_connected, preferred_method,
			last_method, ical_url, email_sync_enabled, credentials, extension_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel) DO UPDATE SET
			property_id = excluded.property_id,
			is_connected = excluded.is_connected,
			preferred_method = excluded.preferred_method,
			ical_url = excluded.ical_url,
			email_sync_enabled = excluded.email_sync_enabled,
			credentials = excluded.credentials,
			extension_token = excluded.extension_token,
			updated_at = excluded.updated_at
		RETURNING id`,
		c.UserID, c.Channel, c.PropertyID, c.IsConnected, c.PreferredMethod, c.LastMethod,
		c.ICalURL, c.EmailSyncEnabled, nullBytes(creds), token, now, now,
	).Scan(&c.ID)
}

// RecordSyncOutcome refreshes last_sync_at on every cascade. A successful
// cascade clears last_error and records the method; a failed one keeps
// the previous method.
func (s *SQLiteStore) RecordSyncOutcome(ctx context.Context, o models.SyncOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE channel_connections SET
			last_sync_at = ?,
			last_error = ?,
			last_method = CASE WHEN ? = '' THEN last_method ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		o.SyncedAt, o.Error, o.Method, o.Method, time.Now().UTC(), o.ConnectionID)
	return err
}

// =============================================================================
// Guests & Bookings
// =============================================================================

func (s *SQLiteStore) GetOrCreateGuest(ctx context.Context, g *models.Guest) (*models.Guest, error) {
	email := strings.ToLower(strings.TrimSpace(g.Email))
	if email == "" {
		return nil, fmt.Errorf("guest email is required")
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guests (first_name, last_name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		g.FirstName, g.LastName, email, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert guest: %w", err)
	}

	var out models.Guest
	err = s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM guests WHERE email = ?`, email,
	).Scan(&out.ID, &out.FirstName, &out.LastName, &out.Email, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load guest: %w", err)
	}
	return &out, nil
}

func (s *SQLiteStore) UpsertBooking(ctx context.Context, b *models.Booking) (bool, error) {
	now := time.Now().UTC()
	var price any
	if !b.TotalPrice.IsZero() {
		price = b.TotalPrice.String()
	}
	created := false

	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (external_booking_id, channel, user_id, property_id, guest_id, guest_name,
				guest_email, check_in, check_out, num_guests, total_price, status, source_method,
				created_at, updated_at, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, '0'), ?, ?, ?, ?, ?)
			ON CONFLICT(external_booking_id, channel) DO NOTHING`,
			b.ExternalBookingID, b.Channel, b.UserID, b.PropertyID, b.GuestID, b.GuestName,
			b.GuestEmail, b.CheckIn, b.CheckOut, b.NumGuests, price, b.Status, b.SourceMethod,
			now, now, now)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE bookings SET
					guest_id = ?,
					guest_name = COALESCE(NULLIF(?, ''), guest_name),
					guest_email = COALESCE(NULLIF(?, ''), guest_email),
					property_id = COALESCE(?, property_id),
					check_in = ?,
					check_out = ?,
					num_guests = ?,
					total_price = COALESCE(?, total_price),
					status = ?,
					source_method = ?,
					updated_at = ?,
					last_synced_at = ?
				WHERE external_booking_id = ? AND channel = ?`,
				b.GuestID, b.GuestName, b.GuestEmail, b.PropertyID, b.CheckIn, b.CheckOut, b.NumGuests,
				price, b.Status, b.SourceMethod, now, now, b.ExternalBookingID, b.Channel)
			if err != nil {
				return fmt.Errorf("update booking: %w", err)
			}
		}

		return tx.QueryRowContext(ctx, `
			SELECT id FROM bookings WHERE external_booking_id = ? AND channel = ?`,
			b.ExternalBookingID, b.Channel).Scan(&b.ID)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

const bookingColumns = `id, external_booking_id, channel, user_id, property_id, guest_id, guest_name, guest_email,
	check_in, check_out, num_guests, total_price, status, source_method, created_at, updated_at, last_synced_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var price string
	err := row.Scan(&b.ID, &b.ExternalBookingID, &b.Channel, &b.UserID, &b.PropertyID, &b.GuestID,
		&b.GuestName, &b.GuestEmail, &b.CheckIn, &b.CheckOut, &b.NumGuests, &price, &b.Status,
		&b.SourceMethod, &b.CreatedAt, &b.UpdatedAt, &b.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	if b.TotalPrice, err = decimal.NewFromString(price); err != nil {
		b.TotalPrice = decimal.Zero
	}
	return &b, nil
}

func (s *SQLiteStore) GetBooking(ctx context.Context, externalID string, channel models.ChannelID) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE external_booking_id = ? AND channel = ?`, externalID, channel)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *SQLiteStore) ListBookings(ctx context.Context, userID int64) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE user_id = ? ORDER BY check_in, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// Extension captures
// =============================================================================

func (s *SQLiteStore) SaveCapture(ctx context.Context, c *models.CapturedBooking) error {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO captured_bookings (connection_id, payload, captured_at)
		VALUES (?, ?, ?)`, c.ConnectionID, c.Payload, c.CapturedAt)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) PendingCaptures(ctx context.Context, connectionID int64) ([]models.CapturedBooking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, payload, captured_at, consumed_at
		FROM captured_bookings WHERE connection_id = ? AND consumed_at IS NULL ORDER BY id`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CapturedBooking
	for rows.Next() {
		var c models.CapturedBooking
		if err := rows.Scan(&c.ID, &c.ConnectionID, &c.Payload, &c.CapturedAt, &c.ConsumedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkCapturesConsumed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE captured_bookings SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, at, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Runs, logs & stats
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.SyncRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sync_runs (user_id, connection_id, channel, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.UserID, run.ConnectionID, run.Channel, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs SET finished_at = ?, status = ?, method_used = ?, bookings_found = ?,
			bookings_saved = ?, errors_count = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.MethodUsed, run.BookingsFound,
		run.BookingsSaved, run.ErrorsCount, run.Error, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, channel string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_logs (run_id, timestamp, level, message, channel)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message, channel)
	return err
}

func (s *SQLiteStore) GetRunLogs(runID int64) ([]models.SyncLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, channel
		FROM sync_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Channel); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateChannelStats(channel models.ChannelID) error {
	_, err := s.db.Exec(`
		INSERT INTO channel_stats (channel, last_run_at, last_run_status, last_method, total_bookings,
			success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM sync_runs WHERE channel = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM sync_runs WHERE channel = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT method_used FROM sync_runs WHERE channel = ? AND status = 'completed' ORDER BY started_at DESC LIMIT 1),
			(SELECT COUNT(*) FROM bookings WHERE channel = ?),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM sync_runs WHERE channel = ?),
			(SELECT AVG(CAST((julianday(finished_at) - julianday(started_at)) * 86400 AS INTEGER))
				FROM sync_runs WHERE channel = ? AND finished_at IS NOT NULL)
		ON CONFLICT(channel) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			last_method = excluded.last_method,
			total_bookings = excluded.total_bookings,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		channel, channel, channel, channel, channel, channel, channel)
	return err
}

func (s *SQLiteStore) GetChannelStats() ([]models.ChannelStats, error) {
	rows, err := s.db.Query(`
		SELECT channel, last_run_at, COALESCE(last_run_status, ''), COALESCE(last_method, ''),
			COALESCE(total_bookings, 0), COALESCE(success_rate, 0), COALESCE(avg_run_duration_sec, 0)
		FROM channel_stats ORDER BY channel`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.ChannelStats
	for rows.Next() {
		var st models.ChannelStats
		if err := rows.Scan(&st.Channel, &st.LastRunAt, &st.LastRunStatus, &st.LastMethod,
			&st.TotalBookings, &st.SuccessRate, &st.AvgRunDurationSec); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, err
		}
	}
	result, err := s.db.Exec(`
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(raw), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			cmd.Params = []byte(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
