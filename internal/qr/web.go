// Package qr shows QR login codes to the user, either through a local web
// page or directly in the terminal.
package qr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ImageFile is the name of the QR image written next to the web page.
const ImageFile = "qrcode.png"

const shutdownTimeout = 2 * time.Second

// WebPresenter writes the QR image to disk and serves it on a local page.
// The server starts on the first Present and keeps running across code
// refreshes; each refresh swaps the served image in place.
type WebPresenter struct {
	dir    string
	port   int
	logger *slog.Logger

	mu      sync.RWMutex
	image   []byte
	version int
	server  *http.Server
	url     string
	tried   bool
}

// NewWebPresenter creates a presenter writing into dir and listening on
// 127.0.0.1:port. Port 0 picks a free port.
func NewWebPresenter(dir string, port int, logger *slog.Logger) *WebPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPresenter{dir: dir, port: port, logger: logger}
}

// Present publishes image. A port that cannot be bound is not an error: the
// image is still on disk and its path is logged instead.
func (p *WebPresenter) Present(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return errors.New("empty qr image")
	}
	path := p.ImagePath()
	if err := writeAtomic(path, image); err != nil {
		return fmt.Errorf("writing qr image: %w", err)
	}

	p.mu.Lock()
	p.image = append([]byte(nil), image...)
	p.version++
	start := !p.tried
	p.tried = true
	p.mu.Unlock()

	if start {
		if err := p.start(); err != nil {
			p.logger.Warn("qr web page unavailable, open the image file instead", "port", p.port, "file", path, "error", err)
			return nil
		}
	}

	if url := p.URL(); url != "" {
		p.logger.Info("scan the QR code to log in", "url", url+"/", "file", path)
	} else {
		p.logger.Info("scan the QR code to log in", "file", path)
	}
	return nil
}

// ImagePath returns where the QR image is written.
func (p *WebPresenter) ImagePath() string {
	return filepath.Join(p.dir, ImageFile)
}

// URL returns the base URL of the running page, or "" when it is not
// serving.
func (p *WebPresenter) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Handler returns the router serving the page and the image.
func (p *WebPresenter) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/", p.handleIndex)
	r.Get("/"+ImageFile, p.handleImage)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// Close stops the server if it is running.
func (p *WebPresenter) Close() error {
	p.mu.Lock()
	server := p.server
	p.server = nil
	p.url = ""
	p.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func (p *WebPresenter) start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port)))
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	p.mu.Lock()
	p.server = server
	p.url = "http://" + listener.Addr().String()
	p.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("qr web server stopped", "error", err)
		}
	}()
	return nil
}

func (p *WebPresenter) handleIndex(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	version := p.version
	p.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexPage, version)
}

func (p *WebPresenter) handleImage(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	image := p.image
	p.mu.RUnlock()

	if len(image) == 0 {
		http.Error(w, "no qr code yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(image)))
	w.Write(image)
}

// writeAtomic replaces path with data so readers never see a partial image.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>coursepilot login</title>
<style>body{font-family:sans-serif;text-align:center;margin-top:3em}img{width:280px;image-rendering:pixelated}</style>
</head>
<body>
<h2>Scan to log in</h2>
<img src="/qrcode.png?v=%d" alt="QR code">
<p>The page reloads when the code is refreshed.</p>
</body>
</html>
`
