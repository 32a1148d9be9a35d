package sam2

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type mockEmbedding struct {
	id        int
	destroyed atomic.Bool
}

func (e *mockEmbedding) Destroy() { e.destroyed.Store(true) }

// mockAdapter 记录调用次数, 返回可配置的 mask
type mockAdapter struct {
	mu          sync.Mutex
	encodeCalls int
	decodeCalls int
	lastPrompts []Prompt
	lastEmb     Embedding
	embeddings  []*mockEmbedding

	encodeErr error
	decodeErr error
	mask      func(prompts []Prompt) *Mask
	delay     time.Duration
}

func (a *mockAdapter) Encode(ctx context.Context, img image.Image) (Embedding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encodeCalls++
	if a.encodeErr != nil {
		return nil, a.encodeErr
	}
	emb := &mockEmbedding{id: a.encodeCalls}
	a.embeddings = append(a.embeddings, emb)
	return emb, nil
}

func (a *mockAdapter) Decode(ctx context.Context, emb Embedding, prompts []Prompt) (*Mask, error) {
	a.mu.Lock()
	a.decodeCalls++
	a.lastPrompts = append([]Prompt(nil), prompts...)
	a.lastEmb = emb
	delay, decodeErr, maskFn := a.delay, a.decodeErr, a.mask
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if maskFn != nil {
		return maskFn(prompts), nil
	}
	return blockMask(100, 100, 109, 109), nil
}

func (a *mockAdapter) calls() (encode, decode int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encodeCalls, a.decodeCalls
}

func (a *mockAdapter) setDecodeErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decodeErr = err
}

// blockMask 在 MaskSize 画布上填充一个正分矩形
func blockMask(x1, y1, x2, y2 int) *Mask {
	m := newTestMask(MaskSize, MaskSize)
	for i := range m.Data {
		m.Data[i] = -1
	}
	fillRect(m, x1, y1, x2, y2, 2)
	return m
}

func newImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func newEncodedSession(t *testing.T, a *mockAdapter, w, h int) *Session {
	t.Helper()
	s := NewSession(a, DefaultConfig())
	require.NoError(t, s.LoadImage(context.Background(), newImage(w, h)))
	require.Equal(t, StateEncoded, s.State())
	return s
}

func TestSession_EndToEnd(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 2048, 1024)

	dw, dh := s.DisplaySize()
	assert.Equal(t, 800, dw)
	assert.Equal(t, 400, dh)

	require.NoError(t, s.AddPrompt(context.Background(), 1024, 512, LabelPositive))

	prompts := s.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, Point{X: 512, Y: 512}, prompts[0].Point)
	assert.Equal(t, LabelPositive, prompts[0].Label)
	assert.Equal(t, prompts, a.lastPrompts)
	assert.Same(t, a.embeddings[0], a.lastEmb)

	low := s.LowResMask()
	require.NotNil(t, low)
	assert.Equal(t, MaskSize, low.Width)

	m := s.Mask()
	require.NotNil(t, m)
	assert.Equal(t, 800, m.Width)
	assert.Equal(t, 400, m.Height)

	box, ok := s.BoundingBox()
	require.True(t, ok)
	assert.Equal(t, Box{MinX: 313, MinY: 157, MaxX: 343, MaxY: 171}, box)
	// 与按比例缩放的结果相差不超过一个像素
	assert.InDelta(t, 100.0*800/MaskSize, float64(box.MinX), 1)
	assert.InDelta(t, 110.0*800/MaskSize, float64(box.MaxX+1), 1)
	assert.InDelta(t, 100.0*400/MaskSize, float64(box.MinY), 1)
	assert.InDelta(t, 110.0*400/MaskSize, float64(box.MaxY+1), 1)
}

func TestSession_NotReady(t *testing.T) {
	a := &mockAdapter{}
	s := NewSession(a, DefaultConfig())
	assert.Equal(t, StateEmpty, s.State())

	err := s.AddPrompt(context.Background(), 1, 1, LabelPositive)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.RemovePromptAt(context.Background(), 0), ErrNotReady)
	_, err = s.Click(context.Background(), 1, 1, LabelPositive)
	assert.ErrorIs(t, err, ErrNotReady)

	_, decodes := a.calls()
	assert.Zero(t, decodes)
}

func TestSession_EncodeError(t *testing.T) {
	cause := errors.New("model unavailable")
	a := &mockAdapter{encodeErr: cause}
	s := NewSession(a, DefaultConfig())

	err := s.LoadImage(context.Background(), newImage(10, 10))
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateImageLoaded, s.State())
	assert.ErrorIs(t, s.AddPrompt(context.Background(), 1, 1, LabelPositive), ErrNotReady)

	// 会话仍可用, 重新加载即可
	a.encodeErr = nil
	require.NoError(t, s.LoadImage(context.Background(), newImage(10, 10)))
	assert.Equal(t, StateEncoded, s.State())
}

func TestSession_EmptyImage(t *testing.T) {
	a := &mockAdapter{}
	s := NewSession(a, DefaultConfig())
	var encErr *EncodeError
	require.ErrorAs(t, s.LoadImage(context.Background(), newImage(0, 5)), &encErr)
	encodes, _ := a.calls()
	assert.Zero(t, encodes)
}

func TestSession_LoadImageResets(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 100, 100)
	require.NoError(t, s.AddPrompt(context.Background(), 50, 50, LabelPositive))
	require.NotNil(t, s.Mask())

	require.NoError(t, s.LoadImage(context.Background(), newImage(300, 200)))
	assert.Empty(t, s.Prompts())
	assert.Nil(t, s.Mask())
	assert.Nil(t, s.LowResMask())
	assert.True(t, a.embeddings[0].destroyed.Load(), "旧特征应被释放")
	assert.False(t, a.embeddings[1].destroyed.Load())

	// 新图片使用新特征
	require.NoError(t, s.AddPrompt(context.Background(), 150, 100, LabelPositive))
	assert.Same(t, a.embeddings[1], a.lastEmb)

	encodes, _ := a.calls()
	assert.Equal(t, 2, encodes, "每张图片只 encode 一次")
}

func TestSession_DecodeSendsFullHistory(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 1024, 1024)
	ctx := context.Background()

	require.NoError(t, s.AddPrompt(ctx, 10, 20, LabelPositive))
	require.NoError(t, s.AddPrompt(ctx, 30, 40, LabelNegative))
	require.NoError(t, s.AddPrompt(ctx, 50, 60, LabelPositive))

	assert.Equal(t, []Prompt{
		{Point: Point{X: 10, Y: 20}, Label: LabelPositive},
		{Point: Point{X: 30, Y: 40}, Label: LabelNegative},
		{Point: Point{X: 50, Y: 60}, Label: LabelPositive},
	}, a.lastPrompts)

	encodes, decodes := a.calls()
	assert.Equal(t, 1, encodes)
	assert.Equal(t, 3, decodes)
}

func TestSession_RemovePromptAtPreservesOrder(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 1024, 1024)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		label := LabelPositive
		if i%2 == 1 {
			label = LabelNegative
		}
		require.NoError(t, s.AddPrompt(ctx, float64(i*100), float64(i*10), label))
	}
	before := s.Prompts()

	require.NoError(t, s.RemovePromptAt(ctx, 2))
	after := s.Prompts()
	require.Len(t, after, 4)
	assert.Equal(t, []Prompt{before[0], before[1], before[3], before[4]}, after)
	assert.Equal(t, after, a.lastPrompts)

	require.NoError(t, s.RemovePromptAt(ctx, 0))
	assert.Equal(t, []Prompt{before[1], before[3], before[4]}, s.Prompts())

	require.NoError(t, s.RemovePromptAt(ctx, 2))
	assert.Equal(t, []Prompt{before[1], before[3]}, s.Prompts())
}

func TestSession_RemovePromptAtOutOfRange(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 64, 64)
	require.NoError(t, s.AddPrompt(context.Background(), 1, 1, LabelPositive))

	assert.ErrorIs(t, s.RemovePromptAt(context.Background(), 1), ErrPromptIndex)
	assert.ErrorIs(t, s.RemovePromptAt(context.Background(), -1), ErrPromptIndex)
	assert.Len(t, s.Prompts(), 1)
}

func TestSession_RemoveLastPromptSkipsDecode(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 640, 480)
	ctx := context.Background()
	require.NoError(t, s.AddPrompt(ctx, 10, 10, LabelPositive))
	require.NotNil(t, s.Mask())

	// 从这里开始计数
	a.mu.Lock()
	a.decodeCalls = 0
	a.mu.Unlock()

	require.NoError(t, s.RemovePromptAt(ctx, 0))
	assert.Empty(t, s.Prompts())
	assert.Nil(t, s.Mask())
	assert.Nil(t, s.LowResMask())
	_, ok := s.BoundingBox()
	assert.False(t, ok)

	_, decodes := a.calls()
	assert.Zero(t, decodes)
}

func TestSession_DecodeErrorKeepsStaleMask(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 256, 256)
	ctx := context.Background()
	require.NoError(t, s.AddPrompt(ctx, 10, 10, LabelPositive))
	good := s.Mask()
	require.NotNil(t, good)

	cause := errors.New("decoder crashed")
	a.setDecodeErr(cause)

	err := s.AddPrompt(ctx, 20, 20, LabelNegative)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, decErr.Prompts)

	// 提示点不回滚, mask 保持上一次成功的结果
	assert.Len(t, s.Prompts(), 2)
	assert.Same(t, good, s.Mask())

	err = s.RemovePromptAt(ctx, 0)
	require.ErrorAs(t, err, &decErr)
	assert.Len(t, s.Prompts(), 1)
	assert.Same(t, good, s.Mask())

	// 恢复后继续可用
	a.setDecodeErr(nil)
	require.NoError(t, s.AddPrompt(ctx, 30, 30, LabelPositive))
	assert.NotSame(t, good, s.Mask())
}

func TestSession_DecodeTimeout(t *testing.T) {
	a := &mockAdapter{delay: time.Second}
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	s := NewSession(a, cfg)
	require.NoError(t, s.LoadImage(context.Background(), newImage(64, 64)))

	err := s.AddPrompt(context.Background(), 5, 5, LabelPositive)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, s.Prompts(), 1)
	assert.Nil(t, s.Mask())
}

func TestSession_BadDecoderMask(t *testing.T) {
	a := &mockAdapter{mask: func([]Prompt) *Mask {
		return &Mask{Data: make([]float32, 10), Width: MaskSize, Height: MaskSize}
	}}
	s := newEncodedSession(t, a, 64, 64)
	err := s.AddPrompt(context.Background(), 5, 5, LabelPositive)
	assert.ErrorIs(t, err, ErrMaskSize)
	assert.Nil(t, s.Mask())
}

func TestSession_ConcurrentMutationsAreSerialized(t *testing.T) {
	a := &mockAdapter{delay: 5 * time.Millisecond}
	s := newEncodedSession(t, a, 1024, 1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AddPrompt(context.Background(), float64(i), float64(i), LabelPositive))
		}(i)
	}
	wg.Wait()

	// 最后一次解码一定看到全部提示点
	assert.Len(t, s.Prompts(), 8)
	assert.Len(t, a.lastPrompts, 8)
	_, decodes := a.calls()
	assert.Equal(t, 8, decodes)
}

func TestSession_Click(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 2048, 1024)
	ctx := context.Background()

	// 画布 800x400, 中心点击对应原图 (1024, 512)
	removed, err := s.Click(ctx, 400, 200, LabelPositive)
	require.NoError(t, err)
	assert.False(t, removed)
	require.Len(t, s.Prompts(), 1)
	assert.Equal(t, Point{X: 512, Y: 512}, s.Prompts()[0].Point)

	removed, err = s.Click(ctx, 100, 100, LabelNegative)
	require.NoError(t, err)
	assert.False(t, removed)
	require.Len(t, s.Prompts(), 2)
	assert.Equal(t, LabelNegative, s.Prompts()[1].Label)

	// 容差内点击删除第一个点
	removed, err = s.Click(ctx, 405, 205, LabelPositive)
	require.NoError(t, err)
	assert.True(t, removed)
	require.Len(t, s.Prompts(), 1)
	assert.Equal(t, LabelNegative, s.Prompts()[0].Label)
}

func TestSession_SetDisplaySize(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 1024, 1024)
	require.NoError(t, s.AddPrompt(context.Background(), 400, 400, LabelPositive))
	_, before := a.calls()

	require.NoError(t, s.SetDisplaySize(512, 512))
	m := s.Mask()
	require.NotNil(t, m)
	assert.Equal(t, 512, m.Width)
	box, ok := m.BoundingBox()
	require.True(t, ok)
	assert.Equal(t, Box{MinX: 200, MinY: 200, MaxX: 219, MaxY: 219}, box)

	_, after := a.calls()
	assert.Equal(t, before, after)

	assert.Error(t, s.SetDisplaySize(-1, 512))
	assert.Error(t, s.SetDisplaySize(512, 0))
	assert.Equal(t, 512, s.Mask().Width)
}

func TestSession_SetDisplaySizeDuringDecode(t *testing.T) {
	a := &mockAdapter{delay: 50 * time.Millisecond}
	s := newEncodedSession(t, a, 1024, 1024)

	done := make(chan error, 1)
	go func() { done <- s.AddPrompt(context.Background(), 400, 400, LabelPositive) }()
	assert.Eventually(t, func() bool {
		_, d := a.calls()
		return d == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.SetDisplaySize(512, 256))
	require.NoError(t, <-done)

	m := s.Mask()
	require.NotNil(t, m)
	assert.Equal(t, 512, m.Width)
	assert.Equal(t, 256, m.Height)
}

func TestSession_SnapshotAndClose(t *testing.T) {
	a := &mockAdapter{}
	s := newEncodedSession(t, a, 100, 50)
	require.NoError(t, s.AddPrompt(context.Background(), 50, 25, LabelPositive))

	f := s.Snapshot()
	assert.Equal(t, 100, f.Width)
	assert.Equal(t, 50, f.Height)
	assert.Len(t, f.Prompts, 1)
	assert.NotNil(t, f.Mask)
	assert.NotNil(t, f.Image)

	s.Close()
	assert.Equal(t, StateEmpty, s.State())
	assert.True(t, a.embeddings[0].destroyed.Load())
	assert.Nil(t, s.Image())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "image_loaded", StateImageLoaded.String())
	assert.Equal(t, "encoded", StateEncoded.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "positive", LabelPositive.String())
	assert.Equal(t, "negative", LabelNegative.String())
}

// stuckAdapter 的 Decode 不响应 ctx, 一直运行到 release 关闭
type stuckAdapter struct {
	release chan struct{}

	mu         sync.Mutex
	embeddings []*mockEmbedding

	decodes      atomic.Int32
	running      atomic.Int32
	maxRunning   atomic.Int32
	sawDestroyed atomic.Bool
}

func (a *stuckAdapter) Encode(context.Context, image.Image) (Embedding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	emb := &mockEmbedding{id: len(a.embeddings) + 1}
	a.embeddings = append(a.embeddings, emb)
	return emb, nil
}

func (a *stuckAdapter) Decode(_ context.Context, emb Embedding, _ []Prompt) (*Mask, error) {
	a.decodes.Add(1)
	n := a.running.Add(1)
	defer a.running.Add(-1)
	for {
		m := a.maxRunning.Load()
		if n <= m || a.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	<-a.release
	if emb.(*mockEmbedding).destroyed.Load() {
		a.sawDestroyed.Store(true)
	}
	return blockMask(10, 10, 20, 20), nil
}

func (a *stuckAdapter) embedding(i int) *mockEmbedding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.embeddings[i]
}

func TestSession_TimedOutDecodeKeepsEmbeddingAlive(t *testing.T) {
	ctx := context.Background()
	a := &stuckAdapter{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	s := NewSession(a, cfg)
	require.NoError(t, s.LoadImage(ctx, newImage(64, 64)))

	err := s.AddPrompt(ctx, 10, 10, LabelPositive)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 超时的解码仍在运行, 新的解码只能排队直到超时
	err = s.AddPrompt(ctx, 20, 20, LabelPositive)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, a.decodes.Load())

	loaded := make(chan error, 1)
	go func() { loaded <- s.LoadImage(ctx, newImage(32, 32)) }()

	select {
	case err := <-loaded:
		t.Fatalf("LoadImage returned before the running decode finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	first := a.embedding(0)
	assert.False(t, first.destroyed.Load())

	close(a.release)
	require.NoError(t, <-loaded)

	assert.False(t, a.sawDestroyed.Load())
	assert.True(t, first.destroyed.Load())
	assert.EqualValues(t, 1, a.maxRunning.Load())
	assert.Equal(t, StateEncoded, s.State())
	assert.Empty(t, s.Prompts())
	assert.Nil(t, s.Mask())
}

func TestSession_CloseWaitsForTimedOutDecode(t *testing.T) {
	ctx := context.Background()
	a := &stuckAdapter{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	s := NewSession(a, cfg)
	require.NoError(t, s.LoadImage(ctx, newImage(64, 64)))
	require.Error(t, s.AddPrompt(ctx, 10, 10, LabelPositive))

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	time.Sleep(30 * time.Millisecond)
	assert.False(t, a.embedding(0).destroyed.Load())

	close(a.release)
	<-closed
	assert.False(t, a.sawDestroyed.Load())
	assert.True(t, a.embedding(0).destroyed.Load())
	assert.Equal(t, StateEmpty, s.State())
}

func TestInvoke(t *testing.T) {
	busy := semaphore.NewWeighted(1)
	v, err := invoke(context.Background(), busy, func(context.Context) (int, error) { return 7, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	cause := errors.New("boom")
	_, err = invoke(context.Background(), busy, func(context.Context) (int, error) { return 0, cause }, nil)
	assert.ErrorIs(t, err, cause)
	assert.True(t, busy.TryAcquire(1))
	busy.Release(1)
}

func TestInvokeTimeoutHoldsBusy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	busy := semaphore.NewWeighted(1)
	release := make(chan struct{})
	var discarded atomic.Int32
	_, err := invoke(ctx, busy, func(context.Context) (int, error) {
		<-release
		return 42, nil
	}, func(v int) {
		discarded.Store(int32(v))
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, busy.TryAcquire(1))

	close(release)
	assert.Eventually(t, func() bool { return discarded.Load() == 42 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		if busy.TryAcquire(1) {
			busy.Release(1)
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
