package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/sam2"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string       `mapstructure:"mode"`
	Model  ModelConfig  `mapstructure:"model"`
	Canvas CanvasConfig `mapstructure:"canvas"`
	Export ExportConfig `mapstructure:"export"`
}

type ModelConfig struct {
	OnnxRuntimeLibPath string        `mapstructure:"onnx_runtime_lib_path"`
	EncodeModelPath    string        `mapstructure:"encode_model_path"`
	DecodeModelPath    string        `mapstructure:"decode_model_path"`
	UseCuda            bool          `mapstructure:"use_cuda"`
	NumThreads         int           `mapstructure:"num_threads"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type CanvasConfig struct {
	MaxWidth     int     `mapstructure:"max_width"`
	MaxHeight    int     `mapstructure:"max_height"`
	HitTolerance float64 `mapstructure:"hit_tolerance"`
}

type ExportConfig struct {
	Path string `mapstructure:"path"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLICKSEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 加载配置, 文件不存在或无法解析时使用默认值
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mode", d.Mode)

	v.SetDefault("model.onnx_runtime_lib_path", d.Model.OnnxRuntimeLibPath)
	v.SetDefault("model.encode_model_path", d.Model.EncodeModelPath)
	v.SetDefault("model.decode_model_path", d.Model.DecodeModelPath)
	v.SetDefault("model.use_cuda", d.Model.UseCuda)
	v.SetDefault("model.num_threads", d.Model.NumThreads)
	v.SetDefault("model.timeout", d.Model.Timeout)

	v.SetDefault("canvas.max_width", d.Canvas.MaxWidth)
	v.SetDefault("canvas.max_height", d.Canvas.MaxHeight)
	v.SetDefault("canvas.hit_tolerance", d.Canvas.HitTolerance)

	v.SetDefault("export.path", d.Export.Path)
}

// Default 默认配置
func Default() *Config {
	sc := sam2.DefaultConfig()
	return &Config{
		Mode: "debug",
		Model: ModelConfig{
			OnnxRuntimeLibPath: clickseg.DefaultLibraryPath(),
			EncodeModelPath:    sc.EncodeModelPath,
			DecodeModelPath:    sc.DecodeModelPath,
			Timeout:            sc.Timeout,
		},
		Canvas: CanvasConfig{
			MaxWidth:     sc.MaxDisplayWidth,
			MaxHeight:    sc.MaxDisplayHeight,
			HitTolerance: sc.HitTolerance,
		},
		Export: ExportConfig{
			Path: sam2.DefaultExportName,
		},
	}
}

// SAM2 转换为 sam2.Config
func (c *Config) SAM2() sam2.Config {
	return sam2.Config{
		OnnxRuntimeLibPath: c.Model.OnnxRuntimeLibPath,
		EncodeModelPath:    c.Model.EncodeModelPath,
		DecodeModelPath:    c.Model.DecodeModelPath,
		UseCuda:            c.Model.UseCuda,
		NumThreads:         c.Model.NumThreads,
		Timeout:            c.Model.Timeout,
		MaxDisplayWidth:    c.Canvas.MaxWidth,
		MaxDisplayHeight:   c.Canvas.MaxHeight,
		HitTolerance:       c.Canvas.HitTolerance,
	}
}
