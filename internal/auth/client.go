package auth

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/publicsuffix"
)

// ClientOptions sizes the shared HTTP client.
type ClientOptions struct {
	Timeout  time.Duration // per attempt
	MaxConns int           // per host, normally the download worker count
}

// NewClient returns the single connection-reusing client shared by every
// download worker of a run. Requests to a host with a netrc entry get HTTP
// basic auth, which covers the login-host hop of the Earthdata redirect
// flow; the session cookies it sets are kept in the jar.
func NewClient(store *Store, opts ClientOptions) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, eris.Wrap(err, "auth: create cookie jar")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        opts.MaxConns * 2,
		MaxIdleConnsPerHost: opts.MaxConns,
		MaxConnsPerHost:     opts.MaxConns * 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Jar:       jar,
		Transport: &netrcTransport{base: transport, store: store},
	}, nil
}

// netrcTransport adds basic auth from the credential store per request host.
type netrcTransport struct {
	base  http.RoundTripper
	store *Store
}

func (t *netrcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") == "" {
		if user, pass, ok := t.store.Login(req.URL.Hostname()); ok {
			req = req.Clone(req.Context())
			req.SetBasicAuth(user, pass)
		}
	}
	return t.base.RoundTrip(req)
}
