package notify

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/models"
)

type mockTransport struct {
	name  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (m *mockTransport) Name() string { return m.name }

func (m *mockTransport) Send(ctx context.Context, subject, body string) error {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.err
}

type mockJournal struct {
	mu      sync.Mutex
	records []models.NotificationRecord
}

func (m *mockJournal) RecordNotification(ctx context.Context, rec models.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func routine() models.NotificationEvent {
	return models.NotificationEvent{Subject: "tick", Body: "running", Severity: models.SeverityRoutine}
}

func alert() models.NotificationEvent {
	return models.NotificationEvent{Subject: "failed", Body: "course c1", Severity: models.SeverityAlert, Force: true}
}

func TestGateway_Gating(t *testing.T) {
	tests := []struct {
		name  string
		level models.ReportLevel
		event models.NotificationEvent
		want  int32
	}{
		{"rough routine suppressed", models.ReportRough, routine(), 0},
		{"rough forced delivered", models.ReportRough, alert(), 1},
		{"debug routine delivered", models.ReportDebug, routine(), 1},
		{"debug forced delivered", models.ReportDebug, alert(), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mockTransport{name: "a"}
			b := &mockTransport{name: "b"}
			g := NewGateway(tt.level, []Transport{a, b}, nil)

			g.Send(context.Background(), tt.event)

			if a.calls.Load() != tt.want || b.calls.Load() != tt.want {
				t.Errorf("Expected %d calls per transport, got a=%d b=%d", tt.want, a.calls.Load(), b.calls.Load())
			}
		})
	}
}

func TestGateway_TransportIsolation(t *testing.T) {
	failing := &mockTransport{name: "failing", err: errors.New("smtp down")}
	slow := &mockTransport{name: "slow", delay: 50 * time.Millisecond}
	ok := &mockTransport{name: "ok"}
	journal := &mockJournal{}
	g := NewGateway(models.ReportRough, []Transport{failing, slow, ok}, nil)
	g.SetJournal(journal, "run-1")

	g.Send(context.Background(), alert())

	if failing.calls.Load() != 1 || slow.calls.Load() != 1 || ok.calls.Load() != 1 {
		t.Error("Expected every transport to be attempted once")
	}
	if len(journal.records) != 1 {
		t.Fatalf("Expected 1 journal record, got %d", len(journal.records))
	}
	rec := journal.records[0]
	if !rec.Delivered || rec.Failures != 1 || rec.RunID != "run-1" || !rec.Forced {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

type panicTransport struct{}

func (panicTransport) Name() string { return "panic" }
func (panicTransport) Send(context.Context, string, string) error {
	panic("transport bug")
}

func TestGateway_TransportPanic(t *testing.T) {
	ok := &mockTransport{name: "ok"}
	g := NewGateway(models.ReportDebug, []Transport{panicTransport{}, ok}, nil)

	g.Send(context.Background(), routine())

	if ok.calls.Load() != 1 {
		t.Error("Expected sibling transport to run despite panic")
	}
}

func TestGateway_Concurrent(t *testing.T) {
	tr := &mockTransport{name: "a"}
	journal := &mockJournal{}
	g := NewGateway(models.ReportDebug, []Transport{tr}, nil)
	g.SetJournal(journal, "run")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Send(context.Background(), routine())
		}()
	}
	wg.Wait()

	if tr.calls.Load() != 20 {
		t.Errorf("Expected 20 deliveries, got %d", tr.calls.Load())
	}
	if len(journal.records) != 20 {
		t.Errorf("Expected 20 journal records, got %d", len(journal.records))
	}
}

func TestGateway_SuppressedIsJournaled(t *testing.T) {
	journal := &mockJournal{}
	g := NewGateway(models.ReportRough, nil, nil)
	g.SetJournal(journal, "run")

	g.Send(context.Background(), routine())

	if len(journal.records) != 1 || journal.records[0].Delivered {
		t.Errorf("Expected one undelivered record, got %+v", journal.records)
	}
}

func TestPushPlus(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPushPlus(server.Client(), "tok")
	p.endpoint = server.URL + "/send"

	if err := p.Send(context.Background(), "标题", "a & b"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	q := got.URL.Query()
	if q.Get("token") != "tok" || q.Get("title") != "标题" || q.Get("content") != "a & b" {
		t.Errorf("Unexpected query: %v", q)
	}
}

func TestBark(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if strings.HasPrefix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	b := NewBark(server.Client(), server.URL+"/key/")
	if err := b.Send(context.Background(), "done", "all complete"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if path != "/key/done/all complete" {
		t.Errorf("Unexpected path: %q", path)
	}

	bad := NewBark(server.Client(), server.URL+"/bad")
	if err := bad.Send(context.Background(), "x", "y"); err == nil {
		t.Error("Expected error on 500 response")
	}
}

// serveSMTP accepts one connection and speaks just enough SMTP to accept a
// message, which is sent on got.
func serveSMTP(ln net.Listener, got chan<- string) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	write := func(s string) { conn.Write([]byte(s + "\r\n")) }
	write("220 localhost ESMTP")

	var data strings.Builder
	inData := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if inData {
			if line == "." {
				inData = false
				write("250 queued")
				continue
			}
			data.WriteString(line + "\n")
			continue
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			write("250-localhost")
			write("250 AUTH PLAIN")
		case strings.HasPrefix(cmd, "AUTH"):
			write("235 accepted")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			write("250 ok")
		case strings.HasPrefix(cmd, "DATA"):
			inData = true
			write("354 go ahead")
		case strings.HasPrefix(cmd, "QUIT"):
			write("221 bye")
			got <- data.String()
			return
		default:
			write("500 unknown")
		}
	}
}

func TestEmail_Send(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go serveSMTP(ln, got)

	port := ln.Addr().(*net.TCPAddr).Port
	e, err := NewEmail(config.Email{
		Server:   "127.0.0.1",
		Port:     port,
		Sender:   "bot@example.com",
		Password: "pw",
		Receiver: "me@example.com",
	})
	if err != nil {
		t.Fatalf("NewEmail failed: %v", err)
	}

	if err := e.Send(context.Background(), "全部完成", "all courses done"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var msg string
	select {
	case msg = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}

	if !strings.Contains(msg, "To: me@example.com") {
		t.Errorf("Missing To header in %q", msg)
	}
	if !strings.Contains(msg, "Subject: =?utf-8?b?") {
		t.Errorf("Expected encoded subject in %q", msg)
	}
	parts := strings.SplitN(msg, "\n\n", 2)
	if len(parts) != 2 {
		t.Fatalf("Malformed message %q", msg)
	}
	body, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[1]), "\n", ""))
	if err != nil {
		t.Fatalf("Body is not base64: %v", err)
	}
	if string(body) != "all courses done" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestEmail_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	e, err := NewEmail(config.Email{Server: "127.0.0.1", Port: port, Sender: "a", Password: "b", Receiver: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Send(context.Background(), "s", "b"); err == nil {
		t.Error("Expected error when the server is unreachable")
	}
}

type redirectDialer struct{ addr string }

func (d redirectDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.addr)
}

func TestEmail_PlaintextAuthRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go serveSMTP(ln, got)

	e, err := NewEmail(config.Email{
		Server:   "smtp.example.com",
		Port:     587,
		Sender:   "bot@example.com",
		Password: "pw",
		Receiver: "me@example.com",
	})
	if err != nil {
		t.Fatalf("NewEmail failed: %v", err)
	}
	e.dialer = redirectDialer{addr: ln.Addr().String()}

	err = e.Send(context.Background(), "s", "b")
	if !errors.Is(err, ErrPlaintextAuth) {
		t.Fatalf("Expected ErrPlaintextAuth, got %v", err)
	}
	if !strings.Contains(err.Error(), "smtp.example.com:587") {
		t.Errorf("Expected server address in error, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if got := FromConfig(cfg, nil, nil); len(got) != 0 {
		t.Errorf("Expected no transports by default, got %d", len(got))
	}

	cfg.Email = config.Email{Server: "smtp.example.com", Port: 587, Sender: "a", Password: "b", Receiver: "c"}
	cfg.PushPlus = config.PushToken{Enable: true, Token: "t"}
	cfg.Bark = config.PushToken{Enable: true, Token: "https://api.day.app/k"}

	got := FromConfig(cfg, nil, nil)
	var names []string
	for _, tr := range got {
		names = append(names, tr.Name())
	}
	if strings.Join(names, ",") != "email,pushplus,bark" {
		t.Errorf("Unexpected transports: %v", names)
	}
}

func TestTransportError(t *testing.T) {
	inner := errors.New("timeout")
	err := error(&TransportError{Transport: "bark", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("Expected TransportError to unwrap")
	}
	if err.Error() != "bark: timeout" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
