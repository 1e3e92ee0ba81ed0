package extract

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/models"
	"channel_sync/storage"
)

// MailQuery bounds one mailbox search.
type MailQuery struct {
	Senders []string
	Since   time.Time
	Limit   int
}

// Mailbox returns raw RFC 822 messages matching q, newest last.
type Mailbox interface {
	Fetch(ctx context.Context, creds *models.IMAPCredentials, q MailQuery) ([][]byte, error)
}

// ====================
// IMAP mailbox
// ====================

type IMAPMailbox struct {
	dialTimeout time.Duration
}

func NewIMAPMailbox(dialTimeout time.Duration) *IMAPMailbox {
	if dialTimeout <= 0 {
		dialTimeout = 20 * time.Second
	}
	return &IMAPMailbox{dialTimeout: dialTimeout}
}

func (m *IMAPMailbox) Fetch(ctx context.Context, creds *models.IMAPCredentials, q MailQuery) ([][]byte, error) {
	port := creds.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: m.dialTimeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: creds.Host})
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(creds.Username, creds.Password.Reveal()); err != nil {
		return nil, fmt.Errorf("%w: imap: %v", ErrLoginFailed, err)
	}

	mailbox := creds.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = q.Since
	if len(q.Senders) > 0 {
		from := fromCriteria(q.Senders)
		for k, vs := range from.Header {
			for _, v := range vs {
				criteria.Header.Add(k, v)
			}
		}
		criteria.Or = from.Or
	}

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[len(ids)-q.Limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var out [][]byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			log.Warn().Err(err).Uint32("seq", msg.SeqNum).Msg("read message body")
			continue
		}
		out = append(out, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

// fromCriteria ORs a FROM match per sender.
func fromCriteria(senders []string) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	if len(senders) == 1 {
		c.Header.Add("From", senders[0])
		return c
	}
	c.Or = [][2]*imap.SearchCriteria{{fromCriteria(senders[:1]), fromCriteria(senders[1:])}}
	return c
}

// ====================
// Message decoding
// ====================

// Message is the decoded subset of an email the adapters look at.
type Message struct {
	From    string
	Subject string
	Date    time.Time
	Body    string
}

// ParseMessage decodes headers and picks the text/plain part, falling back
// to the HTML part with markup stripped.
func ParseMessage(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	msg := &Message{}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	} else {
		msg.From = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) && p != nil {
				continue
			}
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			if plain == "" {
				plain = string(data)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(data)
			}
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = html.UnescapeString(plain)
	case htmlBody != "":
		msg.Body = StripHTML(htmlBody)
	}
	msg.Body = channels.NormalizeBody(msg.Body)
	return msg, nil
}

// StripHTML drops script and style and keeps one line per block element.
func StripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, h1, h2, h3, h4, h5, h6, table").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return doc.Text()
}

// ====================
// Extractor
// ====================

type EmailExtractor struct {
	mailbox  Mailbox
	cfg      config.EmailConfig
	archiver storage.Archiver
	now      func() time.Time
}

func NewEmailExtractor(mailbox Mailbox, cfg config.EmailConfig, archiver storage.Archiver) *EmailExtractor {
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	return &EmailExtractor{mailbox: mailbox, cfg: cfg, archiver: archiver, now: time.Now}
}

func (e *EmailExtractor) Method() models.SyncMethod { return models.MethodEmail }

func (e *EmailExtractor) Available(conn *models.ChannelConnection, _ channels.Adapter) bool {
	return conn.EmailSyncEnabled && conn.Credentials.IMAP.Complete()
}

func (e *EmailExtractor) Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error) {
	if !e.Available(conn, adapter) {
		return nil, ErrNotConfigured
	}

	raws, err := e.mailbox.Fetch(ctx, conn.Credentials.IMAP, MailQuery{
		Senders: adapter.EmailSearch().Senders,
		Since:   e.now().Add(-e.cfg.Window),
		Limit:   e.cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch mail: %w", err)
	}

	var messages []*Message
	for _, raw := range raws {
		msg, err := ParseMessage(raw)
		if err != nil {
			log.Warn().Err(err).Str("channel", string(adapter.ID())).Msg("skipping unreadable message")
			continue
		}
		if !adapter.Identify(msg.From, msg.Subject) {
			continue
		}
		if err := e.archiver.Archive(ctx, adapter.ID(), models.MethodEmail, raw); err != nil {
			log.Warn().Err(err).Str("channel", string(adapter.ID())).Msg("archive message")
		}
		messages = append(messages, msg)
	}

	// Newest first so a later cancellation outranks the original confirmation
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Date.After(messages[j].Date) })

	var out []models.CandidateBooking
	for _, msg := range messages {
		fields := adapter.ExtractFields(msg.Body)
		if fields == nil {
			continue
		}
		ref := msg.Date
		if ref.IsZero() {
			ref = e.now()
		}
		c, err := FieldsToCandidate(fields, adapter, ref)
		if err != nil {
			log.Warn().Err(err).
				Str("channel", string(adapter.ID())).
				Str("external_id", fields.ConfirmationCode).
				Msg("dropping email booking")
			continue
		}
		out = append(out, *c)
	}

	return succeeded(out), nil
}

var errMissingDates = errors.New("missing check-in or check-out")

// FieldsToCandidate converts raw email fields. ref supplies the year for
// dates printed without one.
func FieldsToCandidate(f *channels.Fields, adapter channels.Adapter, ref time.Time) (*models.CandidateBooking, error) {
	if f.CheckIn == "" || f.CheckOut == "" {
		return nil, errMissingDates
	}
	checkIn, checkOut, err := channels.ResolveStay(f.CheckIn, f.CheckOut, ref)
	if err != nil {
		return nil, err
	}

	c := &models.CandidateBooking{
		ExternalID:   f.ConfirmationCode,
		GuestName:    f.GuestName,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		TotalPrice:   channels.ParsePrice(f.TotalPrice),
		Status:       models.BookingStatusConfirmed,
		Channel:      adapter.Name(),
		SourceMethod: models.MethodEmail,
	}
	if f.Cancelled {
		c.Status = models.BookingStatusCancelled
	}
	if n, err := strconv.Atoi(strings.TrimSpace(f.NumGuests)); err == nil {
		c.NumGuests = n
	}
	return c, nil
}
