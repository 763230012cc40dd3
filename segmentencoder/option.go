package segmentencoder

import (
	"github.com/xaionaro-go/avblur/mediatool"
)

// DefaultCodecs are the in-process encoders tried in order. Segments are
// MPEG-TS, so only H.264 encoders are listed.
var DefaultCodecs = []string{
	"h264_nvenc",
	"h264_videotoolbox",
	"h264_qsv",
	"libx264",
	"libopenh264",
}

type Option interface {
	apply(*Config)
}

type Options []Option

func (s Options) Config() Config {
	cfg := Config{
		Codecs: DefaultCodecs,
	}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type Config struct {
	Codecs             []string
	DisableAccelerated bool
	Progress           mediatool.ProgressFunc
}

type OptionCodecs []string

func (opt OptionCodecs) apply(cfg *Config) {
	cfg.Codecs = opt
}

// OptionDisableAccelerated forces encoding through the media tool.
type OptionDisableAccelerated bool

func (opt OptionDisableAccelerated) apply(cfg *Config) {
	cfg.DisableAccelerated = bool(opt)
}

// OptionProgress receives the progress of each segment encoded through the media tool.
type OptionProgress mediatool.ProgressFunc

func (opt OptionProgress) apply(cfg *Config) {
	cfg.Progress = mediatool.ProgressFunc(opt)
}
