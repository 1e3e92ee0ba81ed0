package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/models"
	"channel_sync/storage"
)

const maxAPIResponse = 4 * 1024 * 1024

type MobileAPIExtractor struct {
	client   *http.Client
	archiver storage.Archiver
}

func NewMobileAPIExtractor(client *http.Client, archiver storage.Archiver) *MobileAPIExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	return &MobileAPIExtractor{client: client, archiver: archiver}
}

func (e *MobileAPIExtractor) Method() models.SyncMethod { return models.MethodMobileAPI }

func (e *MobileAPIExtractor) Available(conn *models.ChannelConnection, adapter channels.Adapter) bool {
	_, ok := adapter.(channels.MobileAPIAdapter)
	return ok && conn.Credentials.MobileToken.IsSet()
}

func (e *MobileAPIExtractor) Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error) {
	api, ok := adapter.(channels.MobileAPIAdapter)
	if !ok || !conn.Credentials.MobileToken.IsSet() {
		return nil, ErrNotConfigured
	}
	profile := api.MobileAPI()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profile.URL(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range profile.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(profile.TokenHeader, conn.Credentials.MobileToken.Reveal())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s mobile api: %w", adapter.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s mobile api returned %d", ErrLoginFailed, adapter.Name(), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s mobile api error %d: %s", adapter.Name(), resp.StatusCode, snippet(body, 200))
	}

	if err := e.archiver.Archive(ctx, adapter.ID(), models.MethodMobileAPI, body); err != nil {
		log.Warn().Err(err).Str("channel", string(adapter.ID())).Msg("archive response")
	}

	candidates, err := api.ParseMobileResponse(body)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return succeeded(candidates), nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
