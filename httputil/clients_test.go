package httputil

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/config"
)

func TestNewClients_ProxyOnlyForFeeds(t *testing.T) {
	c := NewClients(&config.ProxyConfig{URL: "http://proxy.local:3128"}, 10*time.Second)

	assert.Equal(t, 10*time.Second, c.Feeds.Timeout)
	assert.Equal(t, 10*time.Second, c.API.Timeout)

	tr, ok := c.Feeds.Transport.(*http.Transport)
	require.True(t, ok)
	req := &http.Request{URL: &url.URL{Scheme: "https", Host: "www.airbnb.com"}}
	proxy, err := tr.Proxy(req)
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, "proxy.local:3128", proxy.Host)
}

func TestNewClients_Defaults(t *testing.T) {
	c := NewClients(nil, 0)
	assert.Equal(t, 30*time.Second, c.Feeds.Timeout)
}
