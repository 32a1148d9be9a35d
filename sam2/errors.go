package sam2

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady 图片尚未完成特征提取
	ErrNotReady = errors.New("图片尚未完成特征提取")
	// ErrPromptIndex 删除的提示点下标越界
	ErrPromptIndex = errors.New("提示点下标越界")
	// ErrMaskSize mask 数据长度小于声明的尺寸
	ErrMaskSize = errors.New("mask 数据长度不足")
	// ErrEngineDestroyed 引擎已经销毁
	ErrEngineDestroyed = errors.New("引擎已销毁")
)

// EncodeError 图片特征提取失败
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode 失败: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError Mask 解码失败, 提示点的修改不会回滚
type DecodeError struct {
	Prompts int // 发起解码时的提示点数量
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode 失败 (%d 个提示点): %v", e.Prompts, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
