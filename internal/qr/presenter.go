package qr

import (
	"io"
	"log/slog"
	"runtime"

	"github.com/zsyeh/coursepilot/internal/auth"
	"github.com/zsyeh/coursepilot/internal/config"
)

// ShowInTerminal reports whether codes go to the terminal. Unset means the
// terminal on Windows and the web page elsewhere.
func ShowInTerminal(q config.QRExtra) bool {
	if q.ShowInTerminal != nil {
		return *q.ShowInTerminal
	}
	return runtime.GOOS == "windows"
}

// FromConfig picks the presenter configured in q. dir receives the image
// file of the web presenter.
func FromConfig(q config.QRExtra, dir string, out io.Writer, logger *slog.Logger) auth.Presenter {
	if ShowInTerminal(q) {
		return NewTerminalPresenter(out, q.EnsureUnicode)
	}
	return NewWebPresenter(dir, q.Port, logger)
}
