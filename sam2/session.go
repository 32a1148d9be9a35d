package sam2

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Embedding encoder 生成的图像特征, 对 Session 不透明
type Embedding interface {
	Destroy()
}

// Adapter 推理引擎, 无状态: 每次 Decode 都必须传入全部提示点
//
// 返回之后不得再访问 Embedding. Session 在 ctx 超时后不再等待结果,
// 但会在调用真正返回之前保留 Embedding, 也不会发起新的调用.
type Adapter interface {
	Encode(ctx context.Context, img image.Image) (Embedding, error)
	Decode(ctx context.Context, emb Embedding, prompts []Prompt) (*Mask, error)
}

// State 会话状态
type State int

const (
	StateEmpty       State = iota // 没有图片
	StateImageLoaded              // 图片已加载, 尚无特征
	StateEncoded                  // 特征已缓存, 可以添加提示点
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateImageLoaded:
		return "image_loaded"
	case StateEncoded:
		return "encoded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session 单张图片的交互式分割状态
//
// 修改提示点的操作通过单信号量串行执行, 后发起的操作等待前一次解码完成.
// 解码失败时提示点的修改不回滚, Mask 保留上一次成功的结果.
type Session struct {
	adapter Adapter
	config  Config
	logger  *zap.Logger

	// 串行化所有会调用 adapter 的操作
	flight *semaphore.Weighted
	// adapter 调用进行中, 超时放弃的调用返回前一直占用
	busy *semaphore.Weighted

	mu        sync.RWMutex
	state     State
	image     image.Image
	imgW      int
	imgH      int
	displayW  int
	displayH  int
	embedding Embedding
	prompts   []Prompt
	lowRes    *Mask
	display   *Mask
}

// NewSession 创建会话
func NewSession(adapter Adapter, cfg Config) *Session {
	if cfg.HitTolerance <= 0 {
		cfg.HitTolerance = DefaultHitTolerance
	}
	if cfg.MaxDisplayWidth <= 0 {
		cfg.MaxDisplayWidth = DefaultMaxDisplayWidth
	}
	if cfg.MaxDisplayHeight <= 0 {
		cfg.MaxDisplayHeight = DefaultMaxDisplayHeight
	}
	return &Session{
		adapter: adapter,
		config:  cfg,
		logger:  cfg.logger(),
		flight:  semaphore.NewWeighted(1),
		busy:    semaphore.NewWeighted(1),
	}
}

// LoadImage 加载新图片并提取特征
//
// 无论成功与否都会清空提示点、Mask 和旧特征. 失败时停留在 StateImageLoaded.
// 显示尺寸按 Config 中的最大画布尺寸等比适配.
func (s *Session) LoadImage(ctx context.Context, img image.Image) error {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return &EncodeError{Err: err}
	}
	defer s.flight.Release(1)

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return &EncodeError{Err: fmt.Errorf("图片尺寸为空: %dx%d", w, h)}
	}
	dw, dh := FitCanvas(w, h, s.config.MaxDisplayWidth, s.config.MaxDisplayHeight)

	s.mu.Lock()
	old := s.embedding
	s.state = StateImageLoaded
	s.image = img
	s.imgW, s.imgH = w, h
	s.displayW, s.displayH = dw, dh
	s.embedding = nil
	s.prompts = nil
	s.lowRes = nil
	s.display = nil
	s.mu.Unlock()

	s.releaseEmbedding(old)

	s.logger.Info("image loaded",
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("display_width", dw),
		zap.Int("display_height", dh))

	start := time.Now()
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	emb, err := invoke(callCtx, s.busy, func(ctx context.Context) (Embedding, error) {
		return s.adapter.Encode(ctx, img)
	}, releaseLate)
	if err != nil {
		s.logger.Error("encode failed", zap.Error(err))
		return &EncodeError{Err: err}
	}

	s.mu.Lock()
	s.embedding = emb
	s.state = StateEncoded
	s.mu.Unlock()

	s.logger.Info("image encoded", zap.Duration("duration", time.Since(start)))
	return nil
}

// AddPrompt 添加提示点并重新解码
//
// # Params:
//
//	x, y: 原图像素坐标
//	label: 前景或背景
func (s *Session) AddPrompt(ctx context.Context, x, y float64, label Label) error {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return &DecodeError{Err: err}
	}
	defer s.flight.Release(1)
	return s.addPrompt(ctx, x, y, label)
}

func (s *Session) addPrompt(ctx context.Context, x, y float64, label Label) error {
	s.mu.Lock()
	if s.state != StateEncoded {
		s.mu.Unlock()
		return ErrNotReady
	}
	p := Prompt{Point: ToModelSpace(x, y, s.imgW, s.imgH), Label: label}
	s.prompts = append(s.prompts, p)
	n := len(s.prompts)
	s.mu.Unlock()

	s.logger.Debug("prompt added",
		zap.Float32("x", p.X),
		zap.Float32("y", p.Y),
		zap.Stringer("label", label),
		zap.Int("prompts", n))

	return s.recompute(ctx)
}

// RemovePromptAt 删除指定下标的提示点, 其余提示点保持原有顺序
//
// 删除后没有提示点时直接清空 Mask, 不调用 decoder.
func (s *Session) RemovePromptAt(ctx context.Context, index int) error {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return &DecodeError{Err: err}
	}
	defer s.flight.Release(1)
	return s.removePromptAt(ctx, index)
}

func (s *Session) removePromptAt(ctx context.Context, index int) error {
	s.mu.Lock()
	if s.state != StateEncoded {
		s.mu.Unlock()
		return ErrNotReady
	}
	if index < 0 || index >= len(s.prompts) {
		n := len(s.prompts)
		s.mu.Unlock()
		return fmt.Errorf("%w: %d (共 %d 个)", ErrPromptIndex, index, n)
	}
	s.prompts = append(s.prompts[:index:index], s.prompts[index+1:]...)
	remaining := len(s.prompts)
	if remaining == 0 {
		s.lowRes = nil
		s.display = nil
	}
	s.mu.Unlock()

	s.logger.Debug("prompt removed", zap.Int("index", index), zap.Int("prompts", remaining))
	if remaining == 0 {
		return nil
	}
	return s.recompute(ctx)
}

// Click 处理显示画布上的一次点击
//
// 命中已有提示点时删除该点, 否则按 label 添加新提示点. removed 表示本次是否为删除.
func (s *Session) Click(ctx context.Context, x, y float64, label Label) (removed bool, err error) {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return false, &DecodeError{Err: err}
	}
	defer s.flight.Release(1)

	s.mu.RLock()
	if s.state != StateEncoded {
		s.mu.RUnlock()
		return false, ErrNotReady
	}
	idx := HitTest(x, y, s.prompts, s.displayW, s.displayH, s.config.HitTolerance)
	ix, iy := DisplayToImage(x, y, s.displayW, s.displayH, s.imgW, s.imgH)
	s.mu.RUnlock()

	if idx >= 0 {
		return true, s.removePromptAt(ctx, idx)
	}
	return false, s.addPrompt(ctx, ix, iy, label)
}

// SetDisplaySize 修改显示分辨率, 已有 Mask 直接重新采样, 不调用 decoder
func (s *Session) SetDisplaySize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("显示尺寸非法: %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayW, s.displayH = width, height
	if s.lowRes != nil {
		s.display = s.lowRes.Resize(width, height)
	}
	return nil
}

// recompute 用全部提示点和缓存特征重新解码, 调用方需持有 flight
func (s *Session) recompute(ctx context.Context) error {
	s.mu.RLock()
	emb := s.embedding
	prompts := append([]Prompt(nil), s.prompts...)
	dw, dh := s.displayW, s.displayH
	s.mu.RUnlock()

	start := time.Now()
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	low, err := invoke(callCtx, s.busy, func(ctx context.Context) (*Mask, error) {
		return s.adapter.Decode(ctx, emb, prompts)
	}, nil)
	if err != nil {
		s.logger.Error("decode failed", zap.Int("prompts", len(prompts)), zap.Error(err))
		return &DecodeError{Prompts: len(prompts), Err: err}
	}
	if low == nil {
		return &DecodeError{Prompts: len(prompts), Err: fmt.Errorf("decoder 未返回 mask")}
	}
	if len(low.Data) < low.Width*low.Height {
		err = fmt.Errorf("%w: %dx%d, 实际 %d", ErrMaskSize, low.Width, low.Height, len(low.Data))
		return &DecodeError{Prompts: len(prompts), Err: err}
	}
	display := low.Resize(dw, dh)

	s.mu.Lock()
	// 解码期间显示尺寸可能已被 SetDisplaySize 修改
	if s.displayW != dw || s.displayH != dh {
		display = low.Resize(s.displayW, s.displayH)
	}
	s.lowRes = low
	s.display = display
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("prompts", len(prompts)),
		zap.Duration("duration", time.Since(start)),
	}
	if box, ok := display.BoundingBox(); ok {
		fields = append(fields, zap.Any("bbox", box))
	}
	s.logger.Info("mask decoded", fields...)
	return nil
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// State 当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Prompts 当前提示点的副本, 坐标在模型输入空间
func (s *Session) Prompts() []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Prompt(nil), s.prompts...)
}

// Mask 显示分辨率的 Mask, 没有时为 nil
func (s *Session) Mask() *Mask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// LowResMask decoder 原始输出的 Mask, 没有时为 nil
func (s *Session) LowResMask() *Mask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowRes
}

// BoundingBox 显示分辨率 Mask 的包围框
func (s *Session) BoundingBox() (Box, bool) {
	m := s.Mask()
	if m == nil {
		return Box{}, false
	}
	return m.BoundingBox()
}

// Image 当前图片
func (s *Session) Image() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.image
}

// DisplaySize 显示画布尺寸
func (s *Session) DisplaySize() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayW, s.displayH
}

// Snapshot 渲染所需的一致状态
func (s *Session) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Frame{
		Image:   s.image,
		Width:   s.displayW,
		Height:  s.displayH,
		Prompts: append([]Prompt(nil), s.prompts...),
		Mask:    s.display,
	}
}

// Close 释放缓存的图像特征并回到 StateEmpty
func (s *Session) Close() {
	// 等待进行中的推理结束
	_ = s.flight.Acquire(context.Background(), 1)
	defer s.flight.Release(1)

	s.mu.Lock()
	emb := s.embedding
	s.embedding = nil
	s.state = StateEmpty
	s.image = nil
	s.prompts = nil
	s.lowRes = nil
	s.display = nil
	s.mu.Unlock()

	s.releaseEmbedding(emb)
}

// releaseEmbedding 等进行中的 adapter 调用返回后再释放特征
func (s *Session) releaseEmbedding(emb Embedding) {
	if emb == nil {
		return
	}
	_ = s.busy.Acquire(context.Background(), 1)
	defer s.busy.Release(1)
	emb.Destroy()
}

// releaseLate 释放超时之后才返回的特征
func releaseLate(emb Embedding) {
	if emb != nil {
		emb.Destroy()
	}
}

// invoke 在后台执行一次 adapter 调用, ctx 结束时提前返回
//
// busy 在调用真正返回时才释放, 迟到的结果交给 discard.
func invoke[T any](ctx context.Context, busy *semaphore.Weighted, fn func(context.Context) (T, error), discard func(T)) (T, error) {
	var zero T
	if err := busy.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer busy.Release(1)
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			r := <-done
			if r.err == nil && discard != nil {
				discard(r.v)
			}
		}()
		return zero, ctx.Err()
	}
}
