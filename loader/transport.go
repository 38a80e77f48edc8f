package loader

import (
	"crypto/tls"
	"net/http"
	"time"
)

// clientKey identifies the client variant a request needs.
type clientKey struct {
	insecure bool
	cookies  bool
}

// newTransport creates a transport with connection pooling sized for many
// small image requests against a handful of hosts.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
}

// insecureTransport returns a copy of rt that accepts any certificate.
// Custom round trippers are returned unchanged.
func insecureTransport(rt http.RoundTripper) http.RoundTripper {
	var t *http.Transport
	switch base := rt.(type) {
	case nil:
		t = newTransport()
	case *http.Transport:
		t = base.Clone()
	default:
		return rt
	}
	if t.TLSClientConfig == nil {
		t.TLSClientConfig = &tls.Config{}
	}
	t.TLSClientConfig.InsecureSkipVerify = true
	return t
}

// client returns the client for a request, creating and caching the
// variant on first use.
func (d *Downloader) client(opts Options) *http.Client {
	key := clientKey{
		insecure: opts.AllowInvalidTLS,
		cookies:  opts.HandleCookies && d.config.CookieJar != nil,
	}

	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	if c, ok := d.clients[key]; ok {
		return c
	}

	base := d.config.Client
	if base == nil {
		base = &http.Client{}
	}
	c := *base
	c.Timeout = 0
	c.Jar = nil
	if key.cookies {
		c.Jar = d.config.CookieJar
	}
	switch {
	case key.insecure:
		c.Transport = insecureTransport(base.Transport)
	case c.Transport == nil:
		c.Transport = newTransport()
	}
	d.clients[key] = &c
	return &c
}
