package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/models"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	if len(opts) == 0 {
		opts = []Option{WithCredentialBox(testBox(t))}
	}
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBox(t *testing.T) *CredentialBox {
	t.Helper()
	box, err := NewCredentialBox(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return box
}

func testBooking(guestID int64) *models.Booking {
	return &models.Booking{
		ExternalBookingID: "HM1234ABCD",
		Channel:           models.ChannelAirbnb,
		UserID:            7,
		GuestID:           guestID,
		GuestName:         "Jane Doe",
		GuestEmail:        "hm1234abcd@airbnb.com",
		CheckIn:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:          time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		NumGuests:         2,
		TotalPrice:        decimal.RequireFromString("540.00"),
		Status:            models.BookingStatusConfirmed,
		SourceMethod:      models.MethodICal,
	}
}

func TestSQLiteStore_UpsertBookingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g, err := s.GetOrCreateGuest(ctx, &models.Guest{FirstName: "Jane", LastName: "Doe", Email: "hm1234abcd@airbnb.com"})
	require.NoError(t, err)

	b := testBooking(g.ID)
	created, err := s.UpsertBooking(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := b.ID

	again := testBooking(g.ID)
	again.Status = models.BookingStatusCancelled
	again.TotalPrice = decimal.Zero
	again.GuestName = ""
	created, err = s.UpsertBooking(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, again.ID)

	got, err := s.GetBooking(ctx, "HM1234ABCD", models.ChannelAirbnb)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.BookingStatusCancelled, got.Status)
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("540")), "empty price keeps stored value")
	assert.Equal(t, "Jane Doe", got.GuestName, "empty name keeps stored value")

	all, err := s.ListBookings(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_SameExternalIDOnOtherChannelIsDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g, err := s.GetOrCreateGuest(ctx, &models.Guest{Email: "x@example.com"})
	require.NoError(t, err)

	a := testBooking(g.ID)
	_, err = s.UpsertBooking(ctx, a)
	require.NoError(t, err)

	b := testBooking(g.ID)
	b.Channel = models.ChannelVRBO
	created, err := s.UpsertBooking(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSQLiteStore_GetOrCreateGuestConverges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := s.GetOrCreateGuest(ctx, &models.Guest{FirstName: "Ana", Email: "Ana@Example.com "})
			errs[i] = err
			if g != nil {
				ids[i] = g.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	g, err := s.GetOrCreateGuest(ctx, &models.Guest{FirstName: "Other", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, ids[0], g.ID)
	assert.Equal(t, "Ana", g.FirstName)

	_, err = s.GetOrCreateGuest(ctx, &models.Guest{FirstName: "Nobody"})
	assert.Error(t, err)
}

func TestSQLiteStore_ConnectionsRoundTripCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &models.ChannelConnection{
		UserID:           7,
		Channel:          models.ChannelAirbnb,
		IsConnected:      true,
		ICalURL:          "https://example.com/cal.ics",
		EmailSyncEnabled: true,
		ExtensionToken:   "ext-token",
		Credentials: models.Credentials{
			IMAP:        &models.IMAPCredentials{Host: "imap.example.com", Port: 993, Username: "host", Password: "imap-pass"},
			Scrape:      &models.LoginCredentials{Username: "host@example.com", Password: "web-pass"},
			MobileToken: "mobile-token",
		},
	}
	require.NoError(t, s.SaveConnection(ctx, c))
	require.NotZero(t, c.ID)

	got, err := s.GetConnection(ctx, 7, models.ChannelAirbnb)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "imap-pass", got.Credentials.IMAP.Password.Reveal())
	assert.Equal(t, "web-pass", got.Credentials.Scrape.Password.Reveal())
	assert.Equal(t, "mobile-token", got.Credentials.MobileToken.Reveal())

	byToken, err := s.GetConnectionByExtensionToken(ctx, "ext-token")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byToken.ID)

	_, err = s.GetConnectionByExtensionToken(ctx, "wrong")
	assert.ErrorIs(t, err, ErrNotFound)

	missing, err := s.GetConnection(ctx, 7, models.ChannelAgoda)
	require.NoError(t, err)
	assert.Nil(t, missing)

	users, err := s.ListUsersWithConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, users)

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT credentials FROM channel_connections WHERE id = ?`, c.ID).Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	for _, plain := range []string{"imap-pass", "web-pass", "mobile-token", "imap.example.com"} {
		assert.NotContains(t, raw, plain)
	}
}

func TestSQLiteStore_CredentialsNeedKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithCredentialBox(nil))

	c := &models.ChannelConnection{
		UserID:      7,
		Channel:     models.ChannelBooking,
		Credentials: models.Credentials{MobileToken: "tok"},
	}
	assert.ErrorIs(t, s.SaveConnection(ctx, c), ErrNoCredentialKey)

	// No credentials, nothing to seal.
	c.Credentials = models.Credentials{}
	c.ICalURL = "https://example.com/b.ics"
	require.NoError(t, s.SaveConnection(ctx, c))
	got, err := s.GetConnection(ctx, 7, models.ChannelBooking)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b.ics", got.ICalURL)
}

func TestSQLiteStore_ReadsLegacyPlaintextCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &models.ChannelConnection{UserID: 7, Channel: models.ChannelVRBO}
	require.NoError(t, s.SaveConnection(ctx, c))
	_, err := s.db.Exec(`UPDATE channel_connections SET credentials = ? WHERE id = ?`,
		`{"mobile_token":"legacy-token"}`, c.ID)
	require.NoError(t, err)

	got, err := s.GetConnection(ctx, 7, models.ChannelVRBO)
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", got.Credentials.MobileToken.Reveal())

	// Rewriting seals it.
	require.NoError(t, s.SaveConnection(ctx, got))
	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT credentials FROM channel_connections WHERE id = ?`, c.ID).Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
}

func TestSQLiteStore_RecordSyncOutcome(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &models.ChannelConnection{UserID: 1, Channel: models.ChannelVRBO, IsConnected: true}
	require.NoError(t, s.SaveConnection(ctx, c))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RecordSyncOutcome(ctx, models.SyncOutcome{ConnectionID: c.ID, SyncedAt: at, Method: models.MethodICal}))

	msg := "All sync methods failed"
	require.NoError(t, s.RecordSyncOutcome(ctx, models.SyncOutcome{ConnectionID: c.ID, SyncedAt: at.Add(time.Hour), Error: &msg}))

	conns, err := s.ListActiveConnections(ctx, 1)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, models.MethodICal, conns[0].LastMethod, "failure keeps the last working method")
	require.NotNil(t, conns[0].LastError)
	assert.Equal(t, msg, *conns[0].LastError)
	require.NotNil(t, conns[0].LastSyncAt)
	assert.True(t, conns[0].LastSyncAt.Equal(at.Add(time.Hour)))
}

func TestSQLiteStore_Captures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveCapture(ctx, &models.CapturedBooking{ConnectionID: 4, Payload: []byte(`{"external_id":"X"}`)}))
	}
	pending, err := s.PendingCaptures(ctx, 4)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, s.MarkCapturesConsumed(ctx, []int64{pending[0].ID, pending[1].ID}, time.Now()))

	pending, err = s.PendingCaptures(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLiteStore_RunsAndStats(t *testing.T) {
	s := newTestStore(t)

	run := &models.SyncRun{UserID: 1, ConnectionID: 2, Channel: models.ChannelAirbnb, StartedAt: time.Now().UTC(), Status: models.RunStatusRunning}
	id, err := s.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	require.NoError(t, s.Log(&id, models.LogLevelWarn, "mobile_api failed", "airbnb"))

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.MethodUsed = models.MethodICal
	run.BookingsFound = 4
	require.NoError(t, s.UpdateRun(run))
	require.NoError(t, s.UpdateChannelStats(models.ChannelAirbnb))

	stats, err := s.GetChannelStats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "completed", stats[0].LastRunStatus)
	assert.Equal(t, "ical", stats[0].LastMethod)
	assert.InDelta(t, 1.0, stats[0].SuccessRate, 0.001)

	logs, err := s.GetRunLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogLevelWarn, logs[0].Level)
}

func TestSQLiteStore_Commands(t *testing.T) {
	s := newTestStore(t)

	id, err := s.EnqueueCommand(models.CmdSyncUser, &models.CommandParams{UserID: 9})
	require.NoError(t, err)
	_, err = s.EnqueueCommand(models.CmdPause, nil)
	require.NoError(t, err)

	cmds, err := s.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	params, err := s.ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	assert.Equal(t, int64(9), params.UserID)

	params, err = s.ParseCommandParams(&cmds[1])
	require.NoError(t, err)
	assert.Zero(t, params.UserID)

	require.NoError(t, s.MarkCommandProcessed(id))
	cmds, err = s.GetPendingCommands()
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}
