// config.go defines the configuration of avblur, loaded from YAML and overridden by flags.

// Package config is the configuration of avblur.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avblur/blur"
	"github.com/xaionaro-go/avblur/detector"
	"github.com/xaionaro-go/avblur/framesource"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/segmentencoder"
	"github.com/xaionaro-go/avblur/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Blur     BlurConfig     `yaml:"blur"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Cache    CacheConfig    `yaml:"cache"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	LogLevel string         `yaml:"log_level"`

	SegmentSeconds float64 `yaml:"segment_seconds"`
}

type ModelConfig struct {
	Name               string   `yaml:"name"`
	Dir                string   `yaml:"dir"`
	ExecutionProviders []string `yaml:"execution_providers"`
	UseMultiThreading  bool     `yaml:"multithreading"`
}

type BlurConfig struct {
	// Labels are the model labels to blur.
	Labels        []string `yaml:"labels"`
	DrawBoxes     bool     `yaml:"draw_boxes"`
	MaskCacheSize int      `yaml:"mask_cache_size"`
}

type DecoderConfig struct {
	HardwareDevices    []types.HardwareDeviceType `yaml:"hardware_devices"`
	DisableAccelerated bool                       `yaml:"disable_accelerated"`
}

type EncoderConfig struct {
	Codecs             []string `yaml:"codecs"`
	DisableAccelerated bool     `yaml:"disable_accelerated"`
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type FFmpegConfig struct {
	Path string `yaml:"path"`
}

func Default() Config {
	cacheDir := filepath.Join(os.TempDir(), "avblur")
	if userCacheDir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCacheDir, "avblur")
	}
	return Config{
		Model: ModelConfig{
			Name:               model.DefaultModelName,
			Dir:                "models",
			ExecutionProviders: append([]string(nil), detector.DefaultProviders...),
			UseMultiThreading:  true,
		},
		Blur: BlurConfig{
			Labels:        []string{"person", "plate"},
			MaskCacheSize: blur.DefaultMaskCacheSize,
		},
		Decoder: DecoderConfig{
			HardwareDevices: []types.HardwareDeviceType{
				types.HardwareDeviceTypeCUDA,
				types.HardwareDeviceTypeVAAPI,
				types.HardwareDeviceTypeVideoToolbox,
			},
		},
		Encoder: EncoderConfig{
			Codecs: append([]string(nil), segmentencoder.DefaultCodecs...),
		},
		Cache: CacheConfig{
			Dir: cacheDir,
		},
		FFmpeg: FFmpegConfig{
			Path: "ffmpeg",
		},
		LogLevel:       logger.LevelWarning.String(),
		SegmentSeconds: framesource.DefaultSegmentSeconds,
	}
}

// Load reads the YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: unable to parse the config file '%s': %w", types.ErrConfigurationInvalid, path, err)
	}
	return cfg, nil
}

func (cfg Config) Bytes() ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (cfg Config) Validate() error {
	var problems []string
	if _, err := model.ByName(cfg.Model.Name); err != nil {
		problems = append(problems, err.Error())
	}
	if len(cfg.Model.ExecutionProviders) == 0 {
		problems = append(problems, "no execution providers")
	}
	if cfg.SegmentSeconds <= 0 || math.IsNaN(cfg.SegmentSeconds) || math.IsInf(cfg.SegmentSeconds, 0) {
		problems = append(problems, fmt.Sprintf("segment_seconds must be positive, received %v", cfg.SegmentSeconds))
	}
	if cfg.Blur.MaskCacheSize <= 0 {
		problems = append(problems, fmt.Sprintf("mask_cache_size must be positive, received %d", cfg.Blur.MaskCacheSize))
	}
	if cfg.FFmpeg.Path == "" {
		problems = append(problems, "the ffmpeg path is empty")
	}
	if _, err := cfg.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrConfigurationInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (cfg Config) Level() (logger.Level, error) {
	var level logger.Level
	if err := level.Set(cfg.LogLevel); err != nil {
		return logger.LevelUndefined, fmt.Errorf("invalid log level '%s': %w", cfg.LogLevel, err)
	}
	return level, nil
}

// BlurLabelSet returns the labels to blur as a set.
func (cfg Config) BlurLabelSet() map[string]bool {
	result := make(map[string]bool, len(cfg.Blur.Labels))
	for _, label := range cfg.Blur.Labels {
		result[label] = true
	}
	return result
}

// AddFlags binds the flags to the fields of cfg; parsing the flag set
// overrides the values loaded before.
func (cfg *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.Model.Name, "model", cfg.Model.Name, "the detection model")
	fs.StringVar(&cfg.Model.Dir, "model-dir", cfg.Model.Dir, "the directory with the model weights")
	fs.StringSliceVar(&cfg.Model.ExecutionProviders, "execution-providers", cfg.Model.ExecutionProviders, "the inference execution providers in the order of preference")
	fs.BoolVar(&cfg.Model.UseMultiThreading, "multithreading", cfg.Model.UseMultiThreading, "use multiple threads for inference")
	fs.StringSliceVar(&cfg.Blur.Labels, "blur", cfg.Blur.Labels, "the labels to blur")
	fs.BoolVar(&cfg.Blur.DrawBoxes, "draw-boxes", cfg.Blur.DrawBoxes, "draw the detection boxes")
	fs.IntVar(&cfg.Blur.MaskCacheSize, "mask-cache-size", cfg.Blur.MaskCacheSize, "the amount of blur masks to keep")
	fs.Var((*hardwareDevicesValue)(&cfg.Decoder.HardwareDevices), "decoder-hardware", "the hardware decoders to try, in the order of preference")
	fs.BoolVar(&cfg.Decoder.DisableAccelerated, "disable-accelerated-decoder", cfg.Decoder.DisableAccelerated, "decode with the ffmpeg binary only")
	fs.StringSliceVar(&cfg.Encoder.Codecs, "encoder-codecs", cfg.Encoder.Codecs, "the in-process encoders to try, in the order of preference")
	fs.BoolVar(&cfg.Encoder.DisableAccelerated, "disable-accelerated-encoder", cfg.Encoder.DisableAccelerated, "encode with the ffmpeg binary only")
	fs.StringVar(&cfg.Cache.Dir, "cache-dir", cfg.Cache.Dir, "the directory of the detection cache")
	fs.StringVar(&cfg.FFmpeg.Path, "ffmpeg", cfg.FFmpeg.Path, "the path to the ffmpeg binary")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "the log level")
	fs.Float64Var(&cfg.SegmentSeconds, "segment-seconds", cfg.SegmentSeconds, "the duration of one encoded segment")
}

type hardwareDevicesValue []types.HardwareDeviceType

var _ pflag.Value = (*hardwareDevicesValue)(nil)

func (v *hardwareDevicesValue) String() string {
	parts := make([]string, 0, len(*v))
	for _, t := range *v {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}

func (v *hardwareDevicesValue) Set(s string) error {
	var result []types.HardwareDeviceType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := types.HardwareDeviceTypeFromString(part)
		if err != nil {
			return err
		}
		result = append(result, t)
	}
	*v = result
	return nil
}

func (v *hardwareDevicesValue) Type() string {
	return "hardwareDevices"
}
