package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"channel_sync/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore is the shared booking ledger used when DATABASE_URL is set.
type PostgresStore struct {
	pool  *pgxpool.Pool
	creds *CredentialBox
}

func NewPostgresStore(ctx context.Context, connString string, opts ...Option) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool, creds: applyOptions(opts).box}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending schema migrations and returns the resulting version.
func (s *PostgresStore) Migrate() (uint, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return 0, fmt.Errorf("create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration %d is dirty", version)
	}
	return version, nil
}

// =============================================================================
// Connections
// =============================================================================

const pgConnectionColumns = `id, user_id, channel, property_id, is_connected, preferred_method, last_method,
	ical_url, email_sync_enabled, credentials, COALESCE(extension_token, ''), last_sync_at, last_error,
	created_at, updated_at`

func (s *PostgresStore) scanConnection(row pgx.Row) (*models.ChannelConnection, error) {
	var c models.ChannelConnection
	var creds *string
	err := row.Scan(&c.ID, &c.UserID, &c.Channel, &c.PropertyID, &c.IsConnected, &c.PreferredMethod,
		&c.LastMethod, &c.ICalURL, &c.EmailSyncEnabled, &creds, &c.ExtensionToken, &c.LastSyncAt,
		&c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Credentials, err = decodeCredentials(s.creds, []byte(deref(creds))); err != nil {
		return nil, fmt.Errorf("decode credentials for connection %d: %w", c.ID, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListActiveConnections(ctx context.Context, userID int64) ([]models.ChannelConnection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgConnectionColumns+`
		FROM channel_connections WHERE user_id = $1 AND is_connected ORDER BY channel`, userID)
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

func (s *PostgresStore) ListUsersWithConnections(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM channel_connections WHERE is_connected ORDER BY user_id`)
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

func (s *PostgresStore) GetConnection(ctx context.Context, userID int64, channel models.ChannelID) (*models.ChannelConnection, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgConnectionColumns+`
		FROM channel_connections WHERE user_id = $1 AND channel = $2`, userID, channel)
	c, err := s.scanConnection(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) GetConnectionByExtensionToken(ctx context.Context, token string) (*models.ChannelConnection, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgConnectionColumns+`
		FROM channel_connections WHERE extension_token = $1 AND is_connected`, token)
	c, err := s.scanConnection(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) SaveConnection(ctx context.Context, c *models.ChannelConnection) error {
	creds, err := encodeCredentials(s.creds, c.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	var token *string
	if c.ExtensionToken != "" {
		token = &c.ExtensionToken
	}

	query := `
		INSERT INTO channel_connections (user_id, channel, property_id, is_connected, preferred_method,
			last_method, ical_url, email_sync_enabled, credentials, extension_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			property_id = EXCLUDED.property_id,
			is_connected = EXCLUDED.is_connected,
			preferred_method = EXCLUDED.preferred_method,
			ical_url = EXCLUDED.ical_url,
			email_sync_enabled = EXCLUDED.email_sync_enabled,
			credentials = EXCLUDED.credentials,
			extension_token = EXCLUDED.extension_token,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		c.UserID, c.Channel, c.PropertyID, c.IsConnected, c.PreferredMethod, c.LastMethod,
		c.ICalURL, c.EmailSyncEnabled, nullBytes(creds), token,
	).Scan(&c.ID)
}

func (s *PostgresStore) RecordSyncOutcome(ctx context.Context, o models.SyncOutcome) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_connections SET
			last_sync_at = $1,
			last_error = $2,
			last_method = COALESCE(NULLIF($3, ''), last_method),
			updated_at = NOW()
		WHERE id = $4`,
		o.SyncedAt, o.Error, string(o.Method), o.ConnectionID)
	return err
}

// =============================================================================
// Guests & Bookings
// =============================================================================

func (s *PostgresStore) GetOrCreateGuest(ctx context.Context, g *models.Guest) (*models.Guest, error) {
	email := strings.ToLower(strings.TrimSpace(g.Email))
	if email == "" {
		return nil, fmt.Errorf("guest email is required")
	}

	// the no-op update makes RETURNING yield the existing row on conflict
	query := `
		INSERT INTO guests (first_name, last_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, first_name, last_name, email, created_at, updated_at`

	var out models.Guest
	err := s.pool.QueryRow(ctx, query, g.FirstName, g.LastName, email).Scan(
		&out.ID, &out.FirstName, &out.LastName, &out.Email, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert guest: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) UpsertBooking(ctx context.Context, b *models.Booking) (bool, error) {
	var price *string
	if !b.TotalPrice.IsZero() {
		p := b.TotalPrice.StringFixed(2)
		price = &p
	}

	query := `
		INSERT INTO bookings (
			external_booking_id, channel, user_id, property_id, guest_id, guest_name, guest_email,
			check_in, check_out, num_guests, total_price, status, source_method
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11::numeric, 0), $12, $13
		)
		ON CONFLICT (external_booking_id, channel) DO UPDATE SET
			guest_id = EXCLUDED.guest_id,
			guest_name = COALESCE(NULLIF(EXCLUDED.guest_name, ''), bookings.guest_name),
			guest_email = COALESCE(NULLIF(EXCLUDED.guest_email, ''), bookings.guest_email),
			property_id = COALESCE(EXCLUDED.property_id, bookings.property_id),
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			num_guests = EXCLUDED.num_guests,
			total_price = COALESCE($11::numeric, bookings.total_price),
			status = EXCLUDED.status,
			source_method = EXCLUDED.source_method,
			updated_at = NOW(),
			last_synced_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	var created bool
	err := s.pool.QueryRow(ctx, query,
		b.ExternalBookingID, string(b.Channel), b.UserID, b.PropertyID, b.GuestID, b.GuestName, b.GuestEmail,
		b.CheckIn, b.CheckOut, b.NumGuests, price, string(b.Status), string(b.SourceMethod),
	).Scan(&b.ID, &created)
	if err != nil {
		return false, fmt.Errorf("upsert booking: %w", err)
	}
	return created, nil
}

const pgBookingColumns = `id, external_booking_id, channel, user_id, property_id, guest_id, guest_name, guest_email,
	check_in, check_out, num_guests, total_price::text, status, source_method, created_at, updated_at, last_synced_at`

func scanPgBooking(row pgx.Row) (*models.Booking, error) {
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

func (s *PostgresStore) GetBooking(ctx context.Context, externalID string, channel models.ChannelID) (*models.Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgBookingColumns+`
		FROM bookings WHERE external_booking_id = $1 AND channel = $2`, externalID, string(channel))
	b, err := scanPgBooking(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *PostgresStore) ListBookings(ctx context.Context, userID int64) ([]models.Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgBookingColumns+`
		FROM bookings WHERE user_id = $1 ORDER BY check_in, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanPgBooking(rows)
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

func (s *PostgresStore) SaveCapture(ctx context.Context, c *models.CapturedBooking) error {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now().UTC()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO captured_bookings (connection_id, payload, captured_at)
		VALUES ($1, $2, $3) RETURNING id`,
		c.ConnectionID, c.Payload, c.CapturedAt,
	).Scan(&c.ID)
}

func (s *PostgresStore) PendingCaptures(ctx context.Context, connectionID int64) ([]models.CapturedBooking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connection_id, payload, captured_at, consumed_at
		FROM captured_bookings WHERE connection_id = $1 AND consumed_at IS NULL ORDER BY id`, connectionID)
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

func (s *PostgresStore) MarkCapturesConsumed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE captured_bookings SET consumed_at = $1 WHERE id = ANY($2) AND consumed_at IS NULL`, at, ids)
	return err
}
