package sam2

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"github.com/getcharzp/go-clickseg"
	"github.com/up-zero/gotool/imageutil"
	xdraw "golang.org/x/image/draw"
)

// DefaultExportName 导出文件的默认名称
const DefaultExportName = "sam2_segmentation.png"

var (
	positiveColor = color.RGBA{R: 0x44, G: 0xff, B: 0x44, A: 255}
	negativeColor = color.RGBA{R: 0xff, G: 0x44, B: 0x44, A: 255}
	boxColor      = color.RGBA{G: 0xff, A: 255}
	borderColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	outlineColor  = color.RGBA{A: 255}
)

const (
	pointRadius   = 6
	boxThickness  = 3
	boxDashLength = 5
)

// Frame 一次渲染需要的状态
type Frame struct {
	Image   image.Image
	Width   int // 画布宽度
	Height  int // 画布高度
	Prompts []Prompt
	Mask    *Mask // 画布分辨率, 可为 nil
}

// Renderer 将图片、Mask、提示点和包围框绘制到画布上
type Renderer struct {
	text *clickseg.TextDrawer
	// ShowIndex 是否在提示点旁标注序号
	ShowIndex bool
}

// NewRenderer 创建渲染器
func NewRenderer() (*Renderer, error) {
	td, err := clickseg.NewDefaultTextDrawer()
	if err != nil {
		return nil, fmt.Errorf("创建文本绘制工具失败: %w", err)
	}
	return &Renderer{text: td, ShowIndex: true}, nil
}

// Close 释放资源
func (r *Renderer) Close() {
	if r.text != nil {
		r.text.Close()
	}
}

// Render 绘制顺序: 图片, Mask 叠加, 提示点, 包围框
func (r *Renderer) Render(f Frame) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if f.Image != nil {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), draw.Src, nil)
	}

	if f.Mask != nil {
		f.Mask.BlendOverlay(dst)
	}

	for i, p := range f.Prompts {
		x, y := ToDisplaySpace(p.Point, f.Width, f.Height)
		center := image.Point{X: int(x), Y: int(y)}
		r.drawPoint(dst, center, p.Label)
		if r.ShowIndex && r.text != nil {
			r.text.DrawText(dst, strconv.Itoa(i+1), center.X+pointRadius+3, center.Y-pointRadius, borderColor)
		}
	}

	if f.Mask != nil {
		if box, ok := f.Mask.BoundingBox(); ok {
			drawDashedRect(dst, box, boxColor)
		}
	}
	return dst
}

// Export 渲染并保存为 PNG
func (r *Renderer) Export(path string, f Frame) error {
	if path == "" {
		path = DefaultExportName
	}
	if err := imageutil.Save(path, r.Render(f), 100); err != nil {
		return fmt.Errorf("保存图片失败: %w", err)
	}
	return nil
}

// drawPoint 实心圆, 圆周上先描 2px 白边, 再描 1px 黑边
func (r *Renderer) drawPoint(dst *image.RGBA, center image.Point, label Label) {
	fill := positiveColor
	if label == LabelNegative {
		fill = negativeColor
	}
	imageutil.DrawFilledCircle(dst, center, pointRadius, fill)
	drawRing(dst, center, pointRadius, 2, borderColor)
	drawRing(dst, center, pointRadius, 1, outlineColor)
}

// drawRing 以半径 radius 为中线、宽 width 的圆环
func drawRing(dst *image.RGBA, center image.Point, radius, width float64, c color.RGBA) {
	inner, outer := radius-width/2, radius+width/2
	extent := int(math.Ceil(outer))
	bounds := dst.Bounds()
	for dy := -extent; dy <= extent; dy++ {
		for dx := -extent; dx <= extent; dx++ {
			d := math.Hypot(float64(dx), float64(dy))
			if d < inner || d > outer {
				continue
			}
			p := image.Point{X: center.X + dx, Y: center.Y + dy}
			if p.In(bounds) {
				dst.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawDashedRect 虚线矩形, 线段与间隔等长
func drawDashedRect(dst *image.RGBA, box Box, c color.RGBA) {
	corners := []image.Point{
		{X: box.MinX, Y: box.MinY},
		{X: box.MaxX, Y: box.MinY},
		{X: box.MaxX, Y: box.MaxY},
		{X: box.MinX, Y: box.MaxY},
	}
	for i := range corners {
		drawDashedLine(dst, corners[i], corners[(i+1)%len(corners)], c)
	}
}

func drawDashedLine(dst *image.RGBA, from, to image.Point, c color.RGBA) {
	dx, dy := to.X-from.X, to.Y-from.Y
	length := max(abs(dx), abs(dy))
	if length == 0 {
		imageutil.DrawThickLine(dst, from, to, boxThickness, c)
		return
	}
	for s := 0; s < length; s += 2 * boxDashLength {
		e := min(s+boxDashLength, length)
		p1 := image.Point{X: from.X + dx*s/length, Y: from.Y + dy*s/length}
		p2 := image.Point{X: from.X + dx*e/length, Y: from.Y + dy*e/length}
		imageutil.DrawThickLine(dst, p1, p2, boxThickness, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
