package sam2

import (
	"time"

	"github.com/getcharzp/go-clickseg"
	"go.uber.org/zap"
)

// Label 提示点标签
type Label int

const (
	LabelNegative Label = 0 // 背景/排除
	LabelPositive Label = 1 // 前景/选中
)

func (l Label) String() string {
	if l == LabelPositive {
		return "positive"
	}
	return "negative"
}

const (
	// ModelInputSize 模型输入空间的边长
	ModelInputSize = 1024
	// MaskSize decoder 输出的低分辨率 mask 边长
	MaskSize = 256

	// OverlayThreshold 叠加显示时的前景阈值
	OverlayThreshold = 0.5
	// BoxThreshold 计算包围框时的前景阈值, 与 OverlayThreshold 不同
	BoxThreshold = 0.0

	// DefaultHitTolerance 点击命中已有提示点的距离 (显示空间像素)
	DefaultHitTolerance = 15.0

	// DefaultMaxDisplayWidth 显示画布的最大宽度
	DefaultMaxDisplayWidth = 800
	// DefaultMaxDisplayHeight 显示画布的最大高度
	DefaultMaxDisplayHeight = 600
)

// Point 模型输入空间中的坐标
type Point struct {
	X, Y float32
}

// Prompt 提示点及其标签
type Prompt struct {
	Point
	Label Label
}

// Config 配置项
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	EncodeModelPath    string // 图片特征提取模型
	DecodeModelPath    string // Mask解码模型

	// 可选参数
	UseCuda    bool          // (可选) 是否启用 CUDA
	NumThreads int           // (可选) ONNX 线程数, 默认由CPU核心数决定
	Timeout    time.Duration // (可选) 单次 encode/decode 的超时时间, 0 表示不限制

	// 交互参数
	MaxDisplayWidth  int     // 显示画布最大宽度
	MaxDisplayHeight int     // 显示画布最大高度
	HitTolerance     float64 // 点击命中已有提示点的距离

	Logger *zap.Logger // (可选) 日志
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: clickseg.DefaultLibraryPath(),
		EncodeModelPath:    "./sam2_weights/sam2_hiera_tiny.encoder.onnx",
		DecodeModelPath:    "./sam2_weights/sam2_hiera_tiny.decoder.onnx",
		Timeout:            30 * time.Second,
		MaxDisplayWidth:    DefaultMaxDisplayWidth,
		MaxDisplayHeight:   DefaultMaxDisplayHeight,
		HitTolerance:       DefaultHitTolerance,
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
