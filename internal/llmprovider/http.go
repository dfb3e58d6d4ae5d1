package llmprovider

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient builds a tuned transport for upstream LLM calls:
// bounded dial/keepalive/idle timeouts so a wedged upstream can't leak
// connections across many concurrent streams.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 150 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
