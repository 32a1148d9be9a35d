package sam2

import (
	"fmt"
	"image"
	"image/color"
)

// Mask 按行存储的逐像素分数, 未做二值化
type Mask struct {
	Data   []float32
	Width  int
	Height int
}

// NewMask 校验数据长度并创建 Mask, 超出 width*height 的部分被忽略
func NewMask(data []float32, width, height int) (*Mask, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("mask 尺寸非法: %dx%d", width, height)
	}
	if len(data) < width*height {
		return nil, fmt.Errorf("%w: 需要 %d, 实际 %d", ErrMaskSize, width*height, len(data))
	}
	return &Mask{Data: data[:width*height], Width: width, Height: height}, nil
}

// Box 包围框, Min 与 Max 都包含在内
type Box struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Rect 转换为半开区间的 image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.MinX, b.MinY, b.MaxX+1, b.MaxY+1)
}

// BoundingBox 扫描全部像素, 分数 > BoxThreshold 视为前景
//
// 没有前景像素时 ok 为 false.
func (m *Mask) BoundingBox() (box Box, ok bool) {
	box = Box{MinX: m.Width, MinY: m.Height}
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v <= BoxThreshold {
				continue
			}
			box.MinX = min(box.MinX, x)
			box.MaxX = max(box.MaxX, x)
			box.MinY = min(box.MinY, y)
			box.MaxY = max(box.MaxY, y)
			ok = true
		}
	}
	if !ok {
		return Box{}, false
	}
	return box, true
}

// Resize 最近邻缩放到 dstW x dstH
//
// 目标像素 (x, y) 取源像素 (floor(x*srcW/dstW), floor(y*srcH/dstH)), 坐标截断到源尺寸内.
func (m *Mask) Resize(dstW, dstH int) *Mask {
	out := make([]float32, dstW*dstH)
	if m.Width == 0 || m.Height == 0 {
		return &Mask{Data: out, Width: dstW, Height: dstH}
	}
	for y := 0; y < dstH; y++ {
		srcY := min(y*m.Height/dstH, m.Height-1)
		for x := 0; x < dstW; x++ {
			srcX := min(x*m.Width/dstW, m.Width-1)
			out[y*dstW+x] = m.Data[srcY*m.Width+srcX]
		}
	}
	return &Mask{Data: out, Width: dstW, Height: dstH}
}

// Binary 按阈值二值化为灰度图, 前景 255
func (m *Mask) Binary(threshold float32) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Data {
		if v > threshold {
			img.Pix[i] = 255
		}
	}
	return img
}

// BlendOverlay 将 mask 以半透明蓝色叠加到 dst 上
//
// 分数 > OverlayThreshold 的像素: c = floor(c*0.7 + t*0.3), t = (100, 150, 255).
// dst 与 mask 尺寸需一致, 超出部分忽略.
func (m *Mask) BlendOverlay(dst *image.RGBA) {
	b := dst.Bounds()
	w := min(b.Dx(), m.Width)
	h := min(b.Dy(), m.Height)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.Data[y*m.Width+x] <= OverlayThreshold {
				continue
			}
			i := dst.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst.Pix[i] = blend(dst.Pix[i], overlayColor.R)
			dst.Pix[i+1] = blend(dst.Pix[i+1], overlayColor.G)
			dst.Pix[i+2] = blend(dst.Pix[i+2], overlayColor.B)
		}
	}
}

var overlayColor = color.RGBA{R: 100, G: 150, B: 255, A: 255}

func blend(c, t uint8) uint8 {
	return uint8(min(float64(c)*0.7+float64(t)*0.3, 255))
}
