package qr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// quietZone is the light margin, in modules, drawn around the code.
const quietZone = 2

var errNoCode = errors.New("no dark modules in qr image")

var asciiBorder = lipgloss.Border{
	Top: "-", Bottom: "-", Left: "|", Right: "|",
	TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
}

// TerminalPresenter prints QR codes to a terminal.
type TerminalPresenter struct {
	out     io.Writer
	unicode bool
}

// NewTerminalPresenter creates a presenter writing to out. With unicode
// false the code is drawn with ASCII characters only.
func NewTerminalPresenter(out io.Writer, unicode bool) *TerminalPresenter {
	return &TerminalPresenter{out: out, unicode: unicode}
}

// Present renders image and writes it out.
func (p *TerminalPresenter) Present(ctx context.Context, data []byte) error {
	rendered, err := Render(data, p.unicode)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.out, "Scan the QR code to log in:\n%s\n", rendered)
	return err
}

// Render decodes a PNG QR code and draws it as text inside a border.
func Render(data []byte, unicode bool) (string, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding qr image: %w", err)
	}
	grid, err := sample(img)
	if err != nil {
		return "", err
	}
	grid = pad(grid, quietZone)

	style := lipgloss.NewStyle().Border(lipgloss.NormalBorder())
	body := halfBlocks(grid)
	if !unicode {
		style = style.Border(asciiBorder)
		body = ascii(grid)
	}
	return style.Render(body), nil
}

// sample reduces img to one bool per module, true for dark. The module size
// is taken from the top-left finder pattern, which is seven modules wide.
func sample(img image.Image) ([][]bool, error) {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if dark(img.At(x, y)) {
				minX, minY = min(minX, x), min(minY, y)
				maxX, maxY = max(maxX, x), max(maxY, y)
			}
		}
	}
	if maxX < minX {
		return nil, errNoCode
	}

	run := 0
	for x := minX; x <= maxX && dark(img.At(x, minY)); x++ {
		run++
	}
	module := run / 7
	if module < 1 {
		module = 1
	}

	cols := (maxX - minX + 1) / module
	rows := (maxY - minY + 1) / module
	grid := make([][]bool, rows)
	for r := range grid {
		grid[r] = make([]bool, cols)
		y := minY + r*module + module/2
		for c := range grid[r] {
			grid[r][c] = dark(img.At(minX+c*module+module/2, y))
		}
	}
	return grid, nil
}

func dark(c color.Color) bool {
	if _, _, _, a := c.RGBA(); a < 0x8000 {
		return false
	}
	return color.GrayModel.Convert(c).(color.Gray).Y < 128
}

func pad(grid [][]bool, n int) [][]bool {
	width := n * 2
	if len(grid) > 0 {
		width += len(grid[0])
	}
	out := make([][]bool, 0, len(grid)+2*n)
	for i := 0; i < n; i++ {
		out = append(out, make([]bool, width))
	}
	for _, row := range grid {
		line := make([]bool, width)
		copy(line[n:], row)
		out = append(out, line)
	}
	for i := 0; i < n; i++ {
		out = append(out, make([]bool, width))
	}
	return out
}

// halfBlocks packs two module rows into each text line.
func halfBlocks(grid [][]bool) string {
	var sb strings.Builder
	for r := 0; r < len(grid); r += 2 {
		if r > 0 {
			sb.WriteByte('\n')
		}
		for c := range grid[r] {
			top := grid[r][c]
			bottom := r+1 < len(grid) && grid[r+1][c]
			switch {
			case top && bottom:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bottom:
				sb.WriteRune('▄')
			default:
				sb.WriteByte(' ')
			}
		}
	}
	return sb.String()
}

// ascii draws each module as two characters so the code stays square.
func ascii(grid [][]bool) string {
	var sb strings.Builder
	for r, row := range grid {
		if r > 0 {
			sb.WriteByte('\n')
		}
		for _, d := range row {
			if d {
				sb.WriteString("##")
			} else {
				sb.WriteString("  ")
			}
		}
	}
	return sb.String()
}
