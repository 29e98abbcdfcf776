package httpclient

import (
	"net/http"
	"time"
)

// UserAgent identifies the pipeline to upstream hosts. Some data hosts
// reject requests without one.
const UserAgent = "form4-feed/1.0 (+https://github.com/bighogz/form4-feed)"

// Default is shared by every outbound request: timeout, connection reuse
// and the User-Agent header.
var Default = New(30 * time.Second)

func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: userAgent{next: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}},
	}
}

type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", UserAgent)
	}
	return u.next.RoundTrip(r)
}
