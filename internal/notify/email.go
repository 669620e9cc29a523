package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/proxy"
)

// SMTPTimeout bounds connecting to the mail server.
const SMTPTimeout = 30 * time.Second

// ErrPlaintextAuth reports that the server offered no TLS, so the password
// was not sent. Use port 465 or a server that supports STARTTLS.
var ErrPlaintextAuth = errors.New("smtp server offers no TLS, refusing to send credentials in plain text")

// Email sends through SMTP. Port 465 uses implicit TLS; other ports connect
// in plain text and upgrade with STARTTLS when the server offers it.
type Email struct {
	cfg    config.Email
	dialer proxy.ContextDialer
	now    func() time.Time
}

// NewEmail creates an SMTP transport. cfg.SOCKS5, when set, routes the
// connection through that proxy.
func NewEmail(cfg config.Email) (*Email, error) {
	var dialer proxy.ContextDialer = &net.Dialer{Timeout: SMTPTimeout}
	if cfg.SOCKS5 != "" {
		d, err := proxy.SOCKS5Dialer(cfg.SOCKS5)
		if err != nil {
			return nil, fmt.Errorf("smtp proxy: %w", err)
		}
		dialer = d
	}
	return &Email{cfg: cfg, dialer: dialer, now: time.Now}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, subject, body string) error {
	addr := net.JoinHostPort(e.cfg.Server, strconv.Itoa(e.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, SMTPTimeout)
	defer cancel()
	conn, err := e.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(2 * SMTPTimeout))
	}

	tlsConfig := &tls.Config{ServerName: e.cfg.Server}
	if e.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, e.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	secure := e.cfg.Port == 465
	if !secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
			secure = true
		}
	}

	if err := c.Auth(smtp.PlainAuth("", e.cfg.Sender, e.cfg.Password, e.cfg.Server)); err != nil {
		// PlainAuth only allows unencrypted connections to localhost.
		if !secure && !isLocalhost(e.cfg.Server) {
			return fmt.Errorf("smtp auth on %s: %w", addr, ErrPlaintextAuth)
		}
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(e.cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(e.cfg.Receiver); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(e.message(subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}
	return c.Quit()
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// message renders a UTF-8 plain text mail.
func (e *Email) message(subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.cfg.Sender)
	fmt.Fprintf(&buf, "To: %s\r\n", e.cfg.Receiver)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded + "\r\n")
	return buf.Bytes()
}
