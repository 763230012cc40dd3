package video

import (
	"github.com/xaionaro-go/avblur/framesource"
	"github.com/xaionaro-go/avblur/segmentencoder"
)

type Option interface {
	apply(*Config)
}

type Options []Option

func (s Options) Config() Config {
	cfg := Config{
		SegmentSeconds: framesource.DefaultSegmentSeconds,
	}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type Config struct {
	SegmentSeconds float64
	SourceOptions  []framesource.Option
	EncoderOptions []segmentencoder.Option
}

type OptionSegmentSeconds float64

func (opt OptionSegmentSeconds) apply(cfg *Config) {
	if opt > 0 {
		cfg.SegmentSeconds = float64(opt)
	}
}

type OptionSourceOptions []framesource.Option

func (opt OptionSourceOptions) apply(cfg *Config) {
	cfg.SourceOptions = append(cfg.SourceOptions, opt...)
}

type OptionEncoderOptions []segmentencoder.Option

func (opt OptionEncoderOptions) apply(cfg *Config) {
	cfg.EncoderOptions = append(cfg.EncoderOptions, opt...)
}
