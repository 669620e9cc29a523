package proxy

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		flag string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"http://127.0.0.1:7890", map[string]string{"http": "http://127.0.0.1:7890", "https": "http://127.0.0.1:7890"}},
		{"HTTPS://p:1", map[string]string{"http": "HTTPS://p:1", "https": "HTTPS://p:1"}},
		{"socks5://127.0.0.1:1080", map[string]string{"socks5": "socks5://127.0.0.1:1080"}},
		{"all://127.0.0.1:1080", map[string]string{
			"http":   "all://127.0.0.1:1080",
			"https":  "all://127.0.0.1:1080",
			"socks5": "all://127.0.0.1:1080",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, err := Parse(tt.flag, nil)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.flag, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.flag, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("Parse(%q)[%s] = %q, want %q", tt.flag, k, got[k], v)
				}
			}
		})
	}
}

func TestParse_KeepsBase(t *testing.T) {
	base := map[string]string{"socks5": "socks5://a:1"}
	got, err := Parse("http://b:2", base)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	if got["socks5"] != "socks5://a:1" || got["http"] != "http://b:2" {
		t.Errorf("Unexpected merge result: %v", got)
	}
	if len(base) != 1 {
		t.Error("Parse must not mutate the base map")
	}
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse("ftp://x:21", nil)
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("Expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestHTTPClient(t *testing.T) {
	c, err := HTTPClient(map[string]string{"http": "all://127.0.0.1:7890"}, time.Second)
	if err != nil {
		t.Fatalf("HTTPClient error = %v", err)
	}
	tr := c.Transport.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	u, err := tr.Proxy(req)
	if err != nil || u == nil || u.String() != "http://127.0.0.1:7890" {
		t.Errorf("Expected rewritten http proxy, got %v (%v)", u, err)
	}

	c, err = HTTPClient(map[string]string{"socks5": "socks5://127.0.0.1:1080"}, time.Second)
	if err != nil {
		t.Fatalf("HTTPClient socks5 error = %v", err)
	}
	if c.Transport.(*http.Transport).DialContext == nil {
		t.Error("Expected socks5 dialer to be installed")
	}
}
