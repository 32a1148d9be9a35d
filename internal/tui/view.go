package tui

import (
	"image"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	var b strings.Builder

	name := filepath.Base(m.imagePath)
	if m.imagePath == "" {
		name = "<no image>"
	}
	b.WriteString(titleStyle.Render("clickseg") + " " + dimStyle.Render(name) + "  " + m.statusLine())
	b.WriteString("\n")

	body := m.canvasLines()
	avail := max(0, m.height-headerHeight-footerHeight)
	for i := 0; i < avail; i++ {
		if i < len(body) {
			b.WriteString(body[i])
		}
		b.WriteString("\n")
	}

	switch {
	case m.opening:
		b.WriteString(m.input.View())
	case m.helpVisible:
		b.WriteString(dimStyle.Render("click/enter: positive  right-click/n: negative  click point: remove  arrows: move  o: open  e: export  h: help  q: quit"))
	}
	return appStyle.Render(b.String())
}

func (m Model) statusLine() string {
	text := m.status
	if m.busy > 0 && m.statusKind != statusLoading {
		text += " (working)"
	}
	switch m.statusKind {
	case statusError:
		return errorStyle.Render(text)
	case statusLoading:
		return loadingStyle.Render(text)
	default:
		return readyStyle.Render(text)
	}
}

func (m Model) canvasLines() []string {
	if m.frame == nil || m.layout.empty() {
		return nil
	}
	markers := promptMarkers(m.session.Prompts(), m.layout)
	cursor := image.Point{X: m.cursorX, Y: m.cursorY}
	if _, taken := markers[cursor]; !taken {
		markers[cursor] = marker{glyph: "+", style: cursorMarker}
	}
	lines := renderHalfBlocks(m.frame, m.layout, markers)
	for i, l := range lines {
		lines[i] = lipgloss.NewStyle().MaxWidth(m.width).Render(l)
	}
	return lines
}
