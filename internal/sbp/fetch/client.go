// Package fetch builds the HTTP client used to talk to cache servers.
package fetch

import (
	"net"
	"net/http"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// New creates an HTTP client for cache server transfers.
// A non-positive timeout falls back to helpers.FetchDefaultTimeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = helpers.FetchDefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   helpers.FetchDialContextTimeout,
				KeepAlive: helpers.FetchDialContextKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     helpers.FetchForceAttemptHTTP2,
			MaxIdleConns:          helpers.FetchMaxIdleConns,
			MaxIdleConnsPerHost:   helpers.FetchMaxIdleConnsPerHost,
			IdleConnTimeout:       helpers.FetchIdleConnTimeout,
			TLSHandshakeTimeout:   helpers.FetchTLSHandshakeTimeout,
			ExpectContinueTimeout: helpers.FetchExpectContinueTimeout,
		},
	}
}
