// Package httpclient configures the HTTP client used to fetch tiles from
// upstream tile servers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the outbound tile-fetching client. MaxConnsPerHost
// caps concurrent connections to any one tile server at the conventional
// browser ceiling; the download worker pool is sized to match.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxConnsPerHost:       6,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   6,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
