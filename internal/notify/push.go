package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PushTimeout bounds a single push request.
const PushTimeout = 10 * time.Second

// DefaultPushPlusURL is the PushPlus send endpoint.
const DefaultPushPlusURL = "http://www.pushplus.plus/send"

// PushPlus sends through the PushPlus service.
type PushPlus struct {
	client   *http.Client
	endpoint string
	token    string
}

// NewPushPlus creates a PushPlus transport. A nil client uses one with
// PushTimeout.
func NewPushPlus(client *http.Client, token string) *PushPlus {
	if client == nil {
		client = &http.Client{Timeout: PushTimeout}
	}
	return &PushPlus{client: client, endpoint: DefaultPushPlusURL, token: token}
}

func (p *PushPlus) Name() string { return "pushplus" }

func (p *PushPlus) Send(ctx context.Context, subject, body string) error {
	q := url.Values{}
	q.Set("token", p.token)
	q.Set("title", subject)
	q.Set("content", body)
	return get(ctx, p.client, p.endpoint+"?"+q.Encode())
}

// Bark sends through a Bark server. The token is the device URL,
// e.g. https://api.day.app/<key>.
type Bark struct {
	client *http.Client
	token  string
}

// NewBark creates a Bark transport. A nil client uses one with PushTimeout.
func NewBark(client *http.Client, token string) *Bark {
	if client == nil {
		client = &http.Client{Timeout: PushTimeout}
	}
	return &Bark{client: client, token: token}
}

func (b *Bark) Name() string { return "bark" }

func (b *Bark) Send(ctx context.Context, subject, body string) error {
	base := strings.TrimRight(b.token, "/")
	return get(ctx, b.client, base+"/"+url.PathEscape(subject)+"/"+url.PathEscape(body))
}

func get(ctx context.Context, client *http.Client, target string) error {
	ctx, cancel := context.WithTimeout(ctx, PushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
