package tui

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/getcharzp/go-clickseg/sam2"
)

// layout 画布到字符格的映射, 每格上下两个半块像素
type layout struct {
	cols, rows int
	pxH        int // 纵向半块像素数
	canvasW    int
	canvasH    int
}

// computeLayout 在可用区域内等比放置画布
func computeLayout(canvasW, canvasH, availW, availH int) layout {
	if canvasW <= 0 || canvasH <= 0 || availW <= 0 || availH <= 0 {
		return layout{}
	}
	cols := min(availW, canvasW)
	pxH := max(1, cols*canvasH/canvasW)
	if (pxH+1)/2 > availH {
		pxH = availH * 2
		cols = max(1, pxH*canvasW/canvasH)
	}
	return layout{
		cols:    cols,
		rows:    (pxH + 1) / 2,
		pxH:     pxH,
		canvasW: canvasW,
		canvasH: canvasH,
	}
}

func (l layout) empty() bool { return l.cols == 0 || l.rows == 0 }

// contains 字符格是否落在画布内
func (l layout) contains(cx, cy int) bool {
	return cx >= 0 && cy >= 0 && cx < l.cols && cy < l.rows
}

// cellToCanvas 字符格中心对应的画布坐标
func (l layout) cellToCanvas(cx, cy int) (float64, float64) {
	x := (float64(cx) + 0.5) * float64(l.canvasW) / float64(l.cols)
	y := (float64(cy)*2 + 1) * float64(l.canvasH) / float64(l.pxH)
	return x, y
}

// canvasToCell 画布坐标所在的字符格
func (l layout) canvasToCell(x, y float64) (int, int) {
	cx := int(x * float64(l.cols) / float64(l.canvasW))
	cy := int(y * float64(l.pxH) / float64(l.canvasH) / 2)
	return cx, cy
}

type marker struct {
	glyph string
	style lipgloss.Style
}

// renderHalfBlocks 用 ▀ 将画布按最近邻采样绘制成字符画, markers 覆盖对应格
func renderHalfBlocks(frame *image.RGBA, l layout, markers map[image.Point]marker) []string {
	lines := make([]string, l.rows)
	var sb strings.Builder
	for cy := 0; cy < l.rows; cy++ {
		sb.Reset()
		for cx := 0; cx < l.cols; cx++ {
			top := l.sample(frame, cx, cy*2)
			bottom := top
			if cy*2+1 < l.pxH {
				bottom = l.sample(frame, cx, cy*2+1)
			}
			if mk, ok := markers[image.Point{X: cx, Y: cy}]; ok {
				sb.WriteString(mk.style.Background(hexColor(avg(top, bottom))).Render(mk.glyph))
				continue
			}
			sb.WriteString(lipgloss.NewStyle().
				Foreground(hexColor(top)).
				Background(hexColor(bottom)).
				Render("▀"))
		}
		lines[cy] = sb.String()
	}
	return lines
}

func (l layout) sample(frame *image.RGBA, cx, py int) color.RGBA {
	b := frame.Bounds()
	x := min(b.Min.X+cx*b.Dx()/l.cols, b.Max.X-1)
	y := min(b.Min.Y+py*b.Dy()/l.pxH, b.Max.Y-1)
	return frame.RGBAAt(x, y)
}

func hexColor(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B))
}

func avg(a, b color.RGBA) color.RGBA {
	return color.RGBA{
		R: uint8((int(a.R) + int(b.R)) / 2),
		G: uint8((int(a.G) + int(b.G)) / 2),
		B: uint8((int(a.B) + int(b.B)) / 2),
		A: 255,
	}
}

// promptMarkers 提示点在字符格上的标记
func promptMarkers(prompts []sam2.Prompt, l layout) map[image.Point]marker {
	markers := make(map[image.Point]marker, len(prompts))
	for _, p := range prompts {
		x, y := sam2.ToDisplaySpace(p.Point, l.canvasW, l.canvasH)
		cx, cy := l.canvasToCell(x, y)
		style := positiveMarker
		if p.Label == sam2.LabelNegative {
			style = negativeMarker
		}
		markers[image.Point{X: cx, Y: cy}] = marker{glyph: "●", style: style}
	}
	return markers
}
