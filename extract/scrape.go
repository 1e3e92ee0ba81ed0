package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/models"
	"channel_sync/storage"
)

// PageSource logs in with creds and returns the fully loaded
// reservations page HTML.
type PageSource interface {
	Fetch(ctx context.Context, profile *channels.ScrapeProfile, creds *models.LoginCredentials) (string, error)
}

// ====================
// Playwright source
// ====================

// PlaywrightSource drives a fresh headless Chromium per fetch. Nothing is
// shared between fetches, so a crashed page cannot leak into the next sync.
type PlaywrightSource struct {
	cfg config.ScrapeConfig
}

func NewPlaywrightSource(cfg config.ScrapeConfig) *PlaywrightSource {
	return &PlaywrightSource{cfg: cfg}
}

func (s *PlaywrightSource) Fetch(ctx context.Context, profile *channels.ScrapeProfile, creds *models.LoginCredentials) (string, error) {
	pw, err := playwright.Run()
	if err != nil {
		return "", fmt.Errorf("start playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Headless),
	})
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	// Closing the browser aborts whatever call is blocked on it
	stop := context.AfterFunc(ctx, func() { browser.Close() })
	defer stop()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1366, Height: 900},
	})
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	navTimeout := float64(s.cfg.NavTimeout.Milliseconds())
	page.SetDefaultTimeout(navTimeout)

	if err := s.login(page, profile, creds, navTimeout); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := page.Goto(profile.ReservationsURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(navTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("open reservations: %w", err)
	}

	if err := page.Locator(profile.ListSelector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(s.cfg.ListTimeout.Milliseconds())),
	}); err != nil {
		return "", fmt.Errorf("wait for reservations list: %w", err)
	}

	s.scrollToEnd(ctx, page)

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return content, nil
}

func (s *PlaywrightSource) login(page playwright.Page, profile *channels.ScrapeProfile, creds *models.LoginCredentials, navTimeout float64) error {
	if _, err := page.Goto(profile.LoginURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(navTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("open login: %w", err)
	}

	if err := page.Locator(profile.UsernameSelector).First().Fill(creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	password := page.Locator(profile.PasswordSelector).First()
	if visible, _ := password.IsVisible(); !visible {
		// Two-step forms show the password field after the username is submitted
		if err := page.Locator(profile.SubmitSelector).First().Click(); err != nil {
			return fmt.Errorf("submit username: %w", err)
		}
		if err := password.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(navTimeout),
		}); err != nil {
			return fmt.Errorf("%w: password field never appeared", ErrLoginFailed)
		}
	}
	if err := password.Fill(creds.Password.Reveal()); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Locator(profile.SubmitSelector).First().Click(); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(navTimeout),
	})

	if visible, _ := password.IsVisible(); visible {
		return ErrLoginFailed
	}
	return nil
}

// scrollToEnd scrolls until the page height stops growing or MaxScrolls is reached.
func (s *PlaywrightSource) scrollToEnd(ctx context.Context, page playwright.Page) {
	last := -1.0
	for i := 0; i < s.cfg.MaxScrolls; i++ {
		if ctx.Err() != nil {
			return
		}
		height, err := page.Evaluate(`document.body.scrollHeight`)
		if err != nil {
			return
		}
		h := toFloat(height)
		if h == last {
			return
		}
		last = h

		page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`)
		page.WaitForTimeout(float64(s.cfg.ScrollDelay.Milliseconds()))
	}
	log.Debug().Int("scrolls", s.cfg.MaxScrolls).Msg("scroll limit reached")
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// ====================
// Extractor
// ====================

type ScrapeExtractor struct {
	source   PageSource
	archiver storage.Archiver
	maxCards int
	now      func() time.Time
}

func NewScrapeExtractor(source PageSource, cfg config.ScrapeConfig, archiver storage.Archiver) *ScrapeExtractor {
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	return &ScrapeExtractor{source: source, archiver: archiver, maxCards: cfg.MaxCards, now: time.Now}
}

func (e *ScrapeExtractor) Method() models.SyncMethod { return models.MethodScrape }

func (e *ScrapeExtractor) Available(conn *models.ChannelConnection, adapter channels.Adapter) bool {
	return adapter.ScrapeProfile() != nil && conn.Credentials.Scrape.Complete()
}

func (e *ScrapeExtractor) Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error) {
	if !e.Available(conn, adapter) {
		return nil, ErrNotConfigured
	}

	page, err := e.source.Fetch(ctx, adapter.ScrapeProfile(), conn.Credentials.Scrape)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", adapter.Name(), err)
	}

	if err := e.archiver.Archive(ctx, adapter.ID(), models.MethodScrape, []byte(page)); err != nil {
		log.Warn().Err(err).Str("channel", string(adapter.ID())).Msg("archive page")
	}

	candidates, err := adapter.ParseScrapeResult(page, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if e.maxCards > 0 && len(candidates) > e.maxCards {
		candidates = candidates[:e.maxCards]
	}
	return succeeded(candidates), nil
}
