package sam2

import (
	"image"

	"github.com/up-zero/gotool/imageutil"
)

// preprocess 将图片拉伸到 size x size 并按 CHW 排列, 每个通道由 [0,255] 映射到 [-1,1]
func preprocess(img image.Image, size int) []float32 {
	bounds := img.Bounds()
	src := img
	if bounds.Dx() != size || bounds.Dy() != size {
		src = imageutil.Resize(img, size, size)
	}
	return normalize(src, size)
}

// normalize v' = v/255*2 - 1
func normalize(src image.Image, size int) []float32 {
	bounds := src.Bounds()
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// RGBA returns 0-65535
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*size + x
			data[idx] = float32(r>>8)/255.0*2.0 - 1.0
			data[plane+idx] = float32(g>>8)/255.0*2.0 - 1.0
			data[2*plane+idx] = float32(b>>8)/255.0*2.0 - 1.0
		}
	}
	return data
}

// flattenPrompts 拆分为 decoder 需要的坐标与标签数组
func flattenPrompts(prompts []Prompt) (coords, labels []float32) {
	coords = make([]float32, 0, len(prompts)*2)
	labels = make([]float32, 0, len(prompts))
	for _, p := range prompts {
		coords = append(coords, p.X, p.Y)
		labels = append(labels, float32(p.Label))
	}
	return coords, labels
}
