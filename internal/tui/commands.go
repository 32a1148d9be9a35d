package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/up-zero/gotool/imageutil"

	"github.com/getcharzp/go-clickseg/sam2"
)

type imageLoadedMsg struct {
	err      error
	duration time.Duration
}

type segmentedMsg struct {
	removed bool
	err     error
}

type exportedMsg struct {
	path string
	err  error
}

func loadImageCmd(s *sam2.Session, path string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		img, err := imageutil.Open(path)
		if err != nil {
			return imageLoadedMsg{err: fmt.Errorf("打开图片失败: %w", err)}
		}
		err = s.LoadImage(context.Background(), img)
		return imageLoadedMsg{err: err, duration: time.Since(start)}
	}
}

func clickCmd(s *sam2.Session, x, y float64, label sam2.Label) tea.Cmd {
	return func() tea.Msg {
		removed, err := s.Click(context.Background(), x, y, label)
		return segmentedMsg{removed: removed, err: err}
	}
}

func exportCmd(r *sam2.Renderer, frame sam2.Frame, path string) tea.Cmd {
	return func() tea.Msg {
		return exportedMsg{path: path, err: r.Export(path, frame)}
	}
}
