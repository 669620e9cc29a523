// Package proxy parses proxy settings and builds proxy-aware network clients.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Keys used in a proxy map.
const (
	KeyHTTP   = "http"
	KeyHTTPS  = "https"
	KeySOCKS5 = "socks5"
)

// ErrUnsupportedScheme is returned for proxy URLs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported proxy type")

// Parse merges a --proxy flag value into base and returns the result.
// http:// and https:// set both http and https, socks5:// sets socks5, and
// all:// sets every key to the given value.
func Parse(flag string, base map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(base)+3)
	for k, v := range base {
		out[k] = v
	}
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return out, nil
	}

	scheme := strings.ToLower(strings.SplitN(flag, "://", 2)[0])
	switch scheme {
	case "http", "https":
		out[KeyHTTP] = flag
		out[KeyHTTPS] = flag
	case "socks5":
		out[KeySOCKS5] = flag
	case "all":
		out[KeyHTTP] = flag
		out[KeyHTTPS] = flag
		out[KeySOCKS5] = flag
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return out, nil
}

// HTTPClient builds an HTTP client honoring proxies. An http(s) proxy takes
// precedence; otherwise a socks5 entry routes connections through a SOCKS5
// dialer.
func HTTPClient(proxies map[string]string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if raw := firstNonEmpty(proxies[KeyHTTPS], proxies[KeyHTTP]); raw != "" {
		u, err := url.Parse(rewriteAll(raw, "http"))
		if err != nil {
			return nil, fmt.Errorf("parse http proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	} else if raw := proxies[KeySOCKS5]; raw != "" {
		dialer, err := SOCKS5Dialer(raw)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// ContextDialer is the dialing capability shared by net.Dialer and SOCKS5.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// SOCKS5Dialer returns a dialer that tunnels through the given socks5 URL.
func SOCKS5Dialer(raw string) (ContextDialer, error) {
	u, err := url.Parse(rewriteAll(raw, "socks5"))
	if err != nil {
		return nil, fmt.Errorf("parse socks5 proxy: %w", err)
	}

	var auth *xproxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &xproxy.Auth{User: u.User.Username(), Password: pass}
	}

	d, err := xproxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := d.(ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	return cd, nil
}

// rewriteAll turns an all:// URL into one with a concrete scheme.
func rewriteAll(raw, scheme string) string {
	if strings.HasPrefix(strings.ToLower(raw), "all://") {
		return scheme + "://" + raw[len("all://"):]
	}
	return raw
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
