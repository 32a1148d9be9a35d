package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/sam2"
)

const (
	headerHeight = 1
	footerHeight = 1
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.relayout()

	case imageLoadedMsg:
		m.busy = max(0, m.busy-1)
		if msg.err != nil {
			m.setStatus(statusError, "Error processing image: "+msg.err.Error())
			m.logger.Error("image load failed", zap.String("path", m.imagePath), zap.Error(msg.err))
			m.redraw()
			return m, nil
		}
		m.setStatus(statusReady, "Ready! Click on the image to segment. Right-click for negative points.")
		m.relayout()
		m.cursorX, m.cursorY = m.layout.cols/2, m.layout.rows/2
		m.redraw()

	case segmentedMsg:
		m.busy = max(0, m.busy-1)
		m.redraw()
		n := len(m.session.Prompts())
		switch {
		case msg.err != nil && errors.Is(msg.err, sam2.ErrNotReady):
			m.setStatus(statusError, "Image is not ready yet.")
		case msg.err != nil:
			m.setStatus(statusError, "Segmentation error: "+msg.err.Error())
		case msg.removed && n == 0:
			m.setStatus(statusReady, "All points removed. Click to add new points.")
		case msg.removed:
			m.setStatus(statusReady, fmt.Sprintf("Point removed. Remaining points: %d", n))
		default:
			m.setStatus(statusReady, fmt.Sprintf("Segmentation complete! Points: %d (Click on existing points to remove them)", n))
		}

	case exportedMsg:
		if msg.err != nil {
			m.setStatus(statusError, "Export failed: "+msg.err.Error())
		} else {
			m.setStatus(statusReady, "Exported "+msg.path)
		}

	case tea.KeyMsg:
		if m.opening {
			return m.updateOpenPrompt(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "h", "?":
			m.helpVisible = !m.helpVisible
		case "up", "k":
			m.moveCursor(0, -1)
		case "down", "j":
			m.moveCursor(0, 1)
		case "left":
			m.moveCursor(-1, 0)
		case "right", "l":
			m.moveCursor(1, 0)
		case "enter", " ":
			return m.clickCell(m.cursorX, m.cursorY, sam2.LabelPositive)
		case "n", "x":
			return m.clickCell(m.cursorX, m.cursorY, sam2.LabelNegative)
		case "o":
			m.opening = true
			m.input.SetValue("")
			m.setStatus(statusReady, "Enter the path of a new image.")
			return m, m.input.Focus()
		case "e":
			if m.session.State() != sam2.StateEncoded {
				m.setStatus(statusError, "Nothing to export yet.")
				return m, nil
			}
			return m, exportCmd(m.renderer, m.session.Snapshot(), m.exportPath)
		}

	case tea.MouseMsg:
		if m.opening || msg.Action != tea.MouseActionPress {
			return m, nil
		}
		cx, cy := msg.X, msg.Y-headerHeight
		switch msg.Button {
		case tea.MouseButtonLeft:
			return m.clickCell(cx, cy, sam2.LabelPositive)
		case tea.MouseButtonRight:
			return m.clickCell(cx, cy, sam2.LabelNegative)
		}
	}
	if m.opening {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// updateOpenPrompt 路径输入框获得焦点时的按键处理
func (m Model) updateOpenPrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.opening = false
		m.input.Blur()
		m.setStatus(statusReady, "Open cancelled.")
		return m, nil
	case "enter":
		path := strings.TrimSpace(m.input.Value())
		if path == "" {
			m.setStatus(statusError, "Image path is empty.")
			return m, nil
		}
		m.opening = false
		m.input.Blur()
		m.imagePath = path
		m.busy++
		m.setStatus(statusLoading, "Loading image...")
		return m, loadImageCmd(m.session, path)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// clickCell 字符格上的点击转为画布坐标交给 Session
func (m Model) clickCell(cx, cy int, label sam2.Label) (tea.Model, tea.Cmd) {
	if m.session.State() != sam2.StateEncoded || m.layout.empty() || !m.layout.contains(cx, cy) {
		return m, nil
	}
	m.cursorX, m.cursorY = cx, cy
	x, y := m.layout.cellToCanvas(cx, cy)
	m.busy++
	m.setStatus(statusLoading, "Processing segmentation...")
	return m, clickCmd(m.session, x, y, label)
}

func (m *Model) moveCursor(dx, dy int) {
	if m.layout.empty() {
		return
	}
	m.cursorX = min(max(m.cursorX+dx, 0), m.layout.cols-1)
	m.cursorY = min(max(m.cursorY+dy, 0), m.layout.rows-1)
}

func (m *Model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

// relayout 根据终端尺寸和画布尺寸重新计算映射
func (m *Model) relayout() {
	w, h := m.session.DisplaySize()
	m.layout = computeLayout(w, h, m.width, m.height-headerHeight-footerHeight)
	m.moveCursor(0, 0)
}

// redraw 按当前会话状态重新渲染画布
func (m *Model) redraw() {
	if m.session.State() != sam2.StateEncoded {
		m.frame = nil
		return
	}
	m.frame = m.renderer.Render(m.session.Snapshot())
}
