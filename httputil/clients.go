package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"channel_sync/config"
)

type Clients struct {
	Feeds *http.Client // iCal feeds, proxied when PROXY_URL is set
	API   *http.Client // channel mobile APIs
}

func NewClients(proxyCfg *config.ProxyConfig, timeout time.Duration) *Clients {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConns:      20,
		IdleConnTimeout:   90 * time.Second,
	}
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Feeds: &http.Client{Timeout: timeout, Transport: transport},
		API:   &http.Client{Timeout: timeout},
	}
}
