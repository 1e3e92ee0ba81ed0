package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"channel_sync/models"
)

// ErrNotFound is returned by lookups that must find a row, such as
// resolving an extension token. Plain reads return nil, nil instead.
var ErrNotFound = errors.New("not found")

// Store is the booking ledger plus the connection and capture state the
// sync engine reads. SQLiteStore and PostgresStore implement it.
type Store interface {
	ListActiveConnections(ctx context.Context, userID int64) ([]models.ChannelConnection, error)
	ListUsersWithConnections(ctx context.Context) ([]int64, error)
	GetConnection(ctx context.Context, userID int64, channel models.ChannelID) (*models.ChannelConnection, error)
	GetConnectionByExtensionToken(ctx context.Context, token string) (*models.ChannelConnection, error)
	SaveConnection(ctx context.Context, c *models.ChannelConnection) error
	RecordSyncOutcome(ctx context.Context, o models.SyncOutcome) error

	// GetOrCreateGuest resolves a guest by email. Concurrent creators of the
	// same email converge on one row.
	GetOrCreateGuest(ctx context.Context, g *models.Guest) (*models.Guest, error)
	// UpsertBooking creates or updates the booking keyed by
	// (ExternalBookingID, Channel) and reports whether a row was created.
	UpsertBooking(ctx context.Context, b *models.Booking) (created bool, err error)
	GetBooking(ctx context.Context, externalID string, channel models.ChannelID) (*models.Booking, error)
	ListBookings(ctx context.Context, userID int64) ([]models.Booking, error)

	SaveCapture(ctx context.Context, c *models.CapturedBooking) error
	PendingCaptures(ctx context.Context, connectionID int64) ([]models.CapturedBooking, error)
	MarkCapturesConsumed(ctx context.Context, ids []int64, at time.Time) error

	Close() error
}

// storedCredentials mirrors models.Credentials with plain strings, since
// models.Secret redacts itself when marshalled.
type storedCredentials struct {
	IMAP        *imapRecord  `json:"imap,omitempty"`
	Scrape      *loginRecord `json:"scrape,omitempty"`
	MobileToken string       `json:"mobile_token,omitempty"`
}

type imapRecord struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Mailbox  string `json:"mailbox,omitempty"`
}

type loginRecord struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// encodeCredentials returns nil for empty credentials and a sealed blob
// otherwise.
func encodeCredentials(box *CredentialBox, c models.Credentials) ([]byte, error) {
	if c.IMAP == nil && c.Scrape == nil && c.MobileToken == "" {
		return nil, nil
	}
	sc := storedCredentials{MobileToken: c.MobileToken.Reveal()}
	if c.IMAP != nil {
		sc.IMAP = &imapRecord{
			Host:     c.IMAP.Host,
			Port:     c.IMAP.Port,
			Username: c.IMAP.Username,
			Password: c.IMAP.Password.Reveal(),
			Mailbox:  c.IMAP.Mailbox,
		}
	}
	if c.Scrape != nil {
		sc.Scrape = &loginRecord{Username: c.Scrape.Username, Password: c.Scrape.Password.Reveal()}
	}
	plain, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	return box.Seal(plain)
}

func decodeCredentials(box *CredentialBox, data []byte) (models.Credentials, error) {
	var c models.Credentials
	if len(data) == 0 {
		return c, nil
	}
	data, err := box.Open(data)
	if err != nil {
		return c, err
	}
	var sc storedCredentials
	if err := json.Unmarshal(data, &sc); err != nil {
		return c, err
	}
	if sc.IMAP != nil {
		c.IMAP = &models.IMAPCredentials{
			Host:     sc.IMAP.Host,
			Port:     sc.IMAP.Port,
			Username: sc.IMAP.Username,
			Password: models.Secret(sc.IMAP.Password),
			Mailbox:  sc.IMAP.Mailbox,
		}
	}
	if sc.Scrape != nil {
		c.Scrape = &models.LoginCredentials{
			Username: sc.Scrape.Username,
			Password: models.Secret(sc.Scrape.Password),
		}
	}
	c.MobileToken = models.Secret(sc.MobileToken)
	return c, nil
}

func nullBytes(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
