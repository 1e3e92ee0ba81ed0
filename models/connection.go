package models

import "time"

type ChannelID string

const (
	ChannelAirbnb  ChannelID = "airbnb"
	ChannelBooking ChannelID = "booking"
	ChannelVRBO    ChannelID = "vrbo"
	ChannelExpedia ChannelID = "expedia"
	ChannelAgoda   ChannelID = "agoda"
)

type SyncMethod string

const (
	MethodMobileAPI SyncMethod = "mobile_api"
	MethodICal      SyncMethod = "ical"
	MethodScrape    SyncMethod = "scrape"
	MethodEmail     SyncMethod = "email"
	MethodExtension SyncMethod = "extension"
)

// MethodOrder is the fixed cascade preference: cheapest and most reliable first.
var MethodOrder = []SyncMethod{
	MethodMobileAPI,
	MethodICal,
	MethodScrape,
	MethodEmail,
	MethodExtension,
}

// Priority returns the position of m in MethodOrder; lower wins.
// Unknown methods sort last.
func (m SyncMethod) Priority() int {
	for i, candidate := range MethodOrder {
		if candidate == m {
			return i
		}
	}
	return len(MethodOrder)
}

// Secret holds a credential value. It prints and marshals redacted so it
// can sit inside structs that get logged.
type Secret string

const redacted = "****"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

// MarshalText redacts the value for every text based encoder.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the raw value. Only transport code should call it.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) IsSet() bool {
	return s != ""
}

type IMAPCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password Secret `json:"password"`
	Mailbox  string `json:"mailbox,omitempty"`
}

func (c *IMAPCredentials) Complete() bool {
	return c != nil && c.Host != "" && c.Username != "" && c.Password.IsSet()
}

type LoginCredentials struct {
	Username string `json:"username"`
	Password Secret `json:"password"`
}

func (c *LoginCredentials) Complete() bool {
	return c != nil && c.Username != "" && c.Password.IsSet()
}

// Credentials is the opaque per-connection secret blob. The sync engine
// reads it; rotation and encryption at rest belong to the credential store.
type Credentials struct {
	IMAP        *IMAPCredentials  `json:"imap,omitempty"`
	Scrape      *LoginCredentials `json:"scrape,omitempty"`
	MobileToken Secret            `json:"mobile_token,omitempty"`
}

type ChannelConnection struct {
	ID               int64       `json:"id" db:"id"`
	UserID           int64       `json:"user_id" db:"user_id"`
	Channel          ChannelID   `json:"channel" db:"channel"`
	PropertyID       *int64      `json:"property_id" db:"property_id"`
	IsConnected      bool        `json:"is_connected" db:"is_connected"`
	PreferredMethod  SyncMethod  `json:"preferred_method" db:"preferred_method"`
	LastMethod       SyncMethod  `json:"last_method" db:"last_method"`
	ICalURL          string      `json:"ical_url" db:"ical_url"`
	EmailSyncEnabled bool        `json:"email_sync_enabled" db:"email_sync_enabled"`
	Credentials      Credentials `json:"credentials" db:"credentials"`
	ExtensionToken   string      `json:"-" db:"extension_token"`
	LastSyncAt       *time.Time  `json:"last_sync_at" db:"last_sync_at"`
	LastError        *string     `json:"last_error" db:"last_error"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// SyncOutcome is what the orchestrator writes back onto a connection after a cascade.
type SyncOutcome struct {
	ConnectionID int64
	SyncedAt     time.Time
	Method       SyncMethod
	Error        *string
}
