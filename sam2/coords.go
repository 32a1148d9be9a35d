package sam2

import "math"

// ToModelSpace 原图像素坐标转换到模型输入空间, 不做截断
func ToModelSpace(x, y float64, imageWidth, imageHeight int) Point {
	return Point{
		X: float32(x / float64(imageWidth) * ModelInputSize),
		Y: float32(y / float64(imageHeight) * ModelInputSize),
	}
}

// ToDisplaySpace 模型输入空间坐标转换到显示画布坐标
func ToDisplaySpace(p Point, canvasWidth, canvasHeight int) (x, y float64) {
	x = float64(p.X) / ModelInputSize * float64(canvasWidth)
	y = float64(p.Y) / ModelInputSize * float64(canvasHeight)
	return x, y
}

// HitTest 返回距离点击位置不超过 tolerance 的第一个提示点下标, 没有则返回 -1
func HitTest(clickX, clickY float64, prompts []Prompt, canvasWidth, canvasHeight int, tolerance float64) int {
	for i, p := range prompts {
		px, py := ToDisplaySpace(p.Point, canvasWidth, canvasHeight)
		if math.Hypot(clickX-px, clickY-py) <= tolerance {
			return i
		}
	}
	return -1
}

// FitCanvas 在不放大的前提下将图片等比缩放到 maxW x maxH 以内
func FitCanvas(imageWidth, imageHeight, maxW, maxH int) (w, h int) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(maxW)/float64(imageWidth), float64(maxH)/float64(imageHeight))
	scale = math.Min(scale, 1)
	w = max(1, int(float64(imageWidth)*scale))
	h = max(1, int(float64(imageHeight)*scale))
	return w, h
}

// DisplayToImage 显示画布坐标转换到原图像素坐标
func DisplayToImage(x, y float64, canvasWidth, canvasHeight, imageWidth, imageHeight int) (float64, float64) {
	return x * float64(imageWidth) / float64(canvasWidth),
		y * float64(imageHeight) / float64(canvasHeight)
}
