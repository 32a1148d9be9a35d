package sam2

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/getcharzp/go-clickseg"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	encoderInputs  = []string{"image"}
	encoderOutputs = []string{"image_embed"}

	decoderInputs = []string{
		"image_embed",
		"point_coords", "point_labels",
		"mask_input", "has_mask_input",
		"high_res_feats_0", "high_res_feats_1",
	}
	decoderOutputs = []string{"masks"}
)

// Engine 持有 encoder/decoder 的 ONNX Session, 实现 Adapter
type Engine struct {
	encoderSession *ort.DynamicAdvancedSession
	decoderSession *ort.DynamicAdvancedSession

	// decoder 中固定为零的输入, 只读, 所有解码共享
	maskInput    *ort.Tensor[float32]
	hasMaskInput *ort.Tensor[float32]
	highRes0     *ort.Tensor[float32]
	highRes1     *ort.Tensor[float32]

	// 推理持读锁, Destroy 持写锁
	life sync.RWMutex

	config Config
	logger *zap.Logger
}

// NewEngine 初始化 sam2 引擎
func NewEngine(cfg Config) (*Engine, error) {
	onnxConfig := new(clickseg.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	onnxConfig.Logger = cfg.logger()
	if err := onnxConfig.New(); err != nil {
		return nil, err
	}
	defer onnxConfig.Destroy()

	e := &Engine{config: cfg, logger: cfg.logger()}

	var err error
	e.encoderSession, err = ort.NewDynamicAdvancedSession(cfg.EncodeModelPath, encoderInputs, encoderOutputs, onnxConfig.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 Encoder ONNX 会话失败: %w", err)
	}

	e.decoderSession, err = ort.NewDynamicAdvancedSession(cfg.DecodeModelPath, decoderInputs, decoderOutputs, onnxConfig.SessionOptions)
	if err != nil {
		e.Destroy()
		return nil, fmt.Errorf("创建 Decoder ONNX 会话失败: %w", err)
	}

	if err := e.newConstInputs(); err != nil {
		e.Destroy()
		return nil, err
	}

	e.logger.Info("sam2 engine ready",
		zap.String("encoder", cfg.EncodeModelPath),
		zap.String("decoder", cfg.DecodeModelPath))
	return e, nil
}

// newConstInputs 创建 decoder 的占位输入
func (e *Engine) newConstInputs() error {
	var err error
	if e.maskInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, MaskSize, MaskSize)); err != nil {
		return fmt.Errorf("创建 mask_input Tensor 失败: %w", err)
	}
	if e.hasMaskInput, err = ort.NewTensor(ort.NewShape(1), []float32{0}); err != nil {
		return fmt.Errorf("创建 has_mask_input Tensor 失败: %w", err)
	}
	if e.highRes0, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 32, 256, 256)); err != nil {
		return fmt.Errorf("创建 high_res_feats_0 Tensor 失败: %w", err)
	}
	if e.highRes1, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 64, 128, 128)); err != nil {
		return fmt.Errorf("创建 high_res_feats_1 Tensor 失败: %w", err)
	}
	return nil
}

// Destroy 释放相关资源
//
// 等待进行中的推理结束后再释放.
func (e *Engine) Destroy() error {
	e.life.Lock()
	defer e.life.Unlock()

	for _, t := range []**ort.Tensor[float32]{&e.maskInput, &e.hasMaskInput, &e.highRes0, &e.highRes1} {
		if *t != nil {
			(*t).Destroy()
			*t = nil
		}
	}
	if e.encoderSession != nil {
		if err := e.encoderSession.Destroy(); err != nil {
			return fmt.Errorf("销毁 Encoder ONNX 会话失败: %w", err)
		}
		e.encoderSession = nil
	}
	if e.decoderSession != nil {
		if err := e.decoderSession.Destroy(); err != nil {
			return fmt.Errorf("销毁 Decoder ONNX 会话失败: %w", err)
		}
		e.decoderSession = nil
	}
	return nil
}

// embedding encoder 输出的图像特征, 解码时持读锁
type embedding struct {
	mu    sync.RWMutex
	value ort.Value
}

// Destroy 释放图像特征, 会等待使用它的解码结束
func (emb *embedding) Destroy() {
	emb.mu.Lock()
	defer emb.mu.Unlock()
	if emb.value != nil {
		emb.value.Destroy()
		emb.value = nil
	}
}

// Encode 图像特征提取
//
// ONNX 推理无法中断, ctx 只在推理开始前检查.
func (e *Engine) Encode(ctx context.Context, img image.Image) (Embedding, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	if e.encoderSession == nil {
		return nil, ErrEngineDestroyed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensorData := preprocess(img, ModelInputSize)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, ModelInputSize, ModelInputSize), tensorData)
	if err != nil {
		return nil, fmt.Errorf("创建图片 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(encoderOutputs))
	if err := e.encoderSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("encoder 推理失败: %w", err)
	}
	emb := &embedding{value: outputs[0]}

	// 防止调用方忘记 Destroy
	runtime.SetFinalizer(emb, (*embedding).Destroy)
	return emb, nil
}

// Decode 使用全部提示点解码 Mask, 返回 MaskSize x MaskSize 的分数
func (e *Engine) Decode(ctx context.Context, emb Embedding, prompts []Prompt) (*Mask, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	if e.decoderSession == nil {
		return nil, ErrEngineDestroyed
	}

	cached, ok := emb.(*embedding)
	if !ok {
		return nil, fmt.Errorf("图片特征无效: %T", emb)
	}
	cached.mu.RLock()
	defer cached.mu.RUnlock()
	if cached.value == nil {
		return nil, fmt.Errorf("图片特征已释放")
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("至少需要一个提示点")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coords, labels := flattenPrompts(prompts)
	numPoints := int64(len(prompts))

	tPoints, err := ort.NewTensor(ort.NewShape(1, numPoints, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Points Tensor 失败: %w", err)
	}
	tLabels, err := ort.NewTensor(ort.NewShape(1, numPoints), labels)
	if err != nil {
		tPoints.Destroy()
		return nil, fmt.Errorf("创建 Decoder Labels Tensor 失败: %w", err)
	}
	defer tPoints.Destroy()
	defer tLabels.Destroy()

	inputs := []ort.Value{
		cached.value,
		tPoints, tLabels,
		e.maskInput, e.hasMaskInput,
		e.highRes0, e.highRes1,
	}
	outputs := make([]ort.Value, len(decoderOutputs))
	if err := e.decoderSession.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("decoder 推理失败: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	masks, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("masks 输出类型错误: %T", outputs[0])
	}
	// 多个候选时取第一个
	data := masks.GetData()
	if len(data) < MaskSize*MaskSize {
		return nil, fmt.Errorf("%w: masks 输出 %d", ErrMaskSize, len(data))
	}
	scores := make([]float32, MaskSize*MaskSize)
	copy(scores, data)
	return &Mask{Data: scores, Width: MaskSize, Height: MaskSize}, nil
}
