package sam2

import (
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/up-zero/gotool/imageutil"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func rgbaAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	defer r.Close()

	m := newTestMask(200, 100)
	fillRect(m, 20, 10, 79, 59, 1)
	f := Frame{
		Image:  solidImage(400, 200, color.RGBA{A: 255}),
		Width:  200,
		Height: 100,
		Prompts: []Prompt{
			{Point: Point{X: 256, Y: 512}, Label: LabelPositive}, // (50, 50)
			{Point: Point{X: 768, Y: 768}, Label: LabelNegative}, // (150, 75)
		},
		Mask: m,
	}
	out := r.Render(f)
	require.Equal(t, image.Rect(0, 0, 200, 100), out.Bounds())

	// 叠加: floor(0*0.7 + t*0.3)
	assert.Equal(t, color.RGBA{R: 30, G: 45, B: 76, A: 255}, rgbaAt(out, 40, 20))
	// mask 外保持原图
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(out, 120, 20))

	assert.Equal(t, positiveColor, rgbaAt(out, 50, 50))
	assert.Equal(t, negativeColor, rgbaAt(out, 150, 75))

	// 描边都在半径 6 的圆周上: 黑边压在白边中间, 圆外保持叠加色
	assert.Equal(t, positiveColor, rgbaAt(out, 54, 50))
	assert.Equal(t, outlineColor, rgbaAt(out, 56, 50))
	assert.Equal(t, borderColor, rgbaAt(out, 57, 50))
	assert.Equal(t, color.RGBA{R: 30, G: 45, B: 76, A: 255}, rgbaAt(out, 58, 50))

	// 包围框左上角
	assert.Equal(t, boxColor, rgbaAt(out, 20, 10))
}

func TestRenderer_RenderWithoutMask(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	defer r.Close()
	r.ShowIndex = false

	out := r.Render(Frame{Image: solidImage(10, 10, color.RGBA{R: 9, G: 9, B: 9, A: 255}), Width: 10, Height: 10})
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			require.Equal(t, color.RGBA{R: 9, G: 9, B: 9, A: 255}, rgbaAt(out, x, y))
		}
	}
}

func TestRenderer_Export(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	defer r.Close()

	path := filepath.Join(t.TempDir(), DefaultExportName)
	f := Frame{Image: solidImage(32, 16, color.RGBA{R: 200, A: 255}), Width: 32, Height: 16}
	require.NoError(t, r.Export(path, f))

	_, err = os.Stat(path)
	require.NoError(t, err)
	img, err := imageutil.Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
}

func TestDrawDashedRect(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 60, 60))
	drawDashedRect(dst, Box{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50}, boxColor)

	assert.Equal(t, boxColor, dst.RGBAAt(12, 10))
	assert.Equal(t, boxColor, dst.RGBAAt(50, 12))
	// 内部保持空白
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(30, 30))
}
