package framesource

import (
	"github.com/xaionaro-go/avblur/types"
)

const (
	DefaultSegmentSeconds = 2.0
)

type Option interface {
	apply(*Config)
}

type Options []Option

func (s Options) Config() Config {
	cfg := Config{
		SegmentSeconds: DefaultSegmentSeconds,
	}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type Config struct {
	SegmentSeconds float64

	// HardwareDevices are tried in order before the software decoder.
	HardwareDevices []types.HardwareDeviceType

	DisableAccelerated bool
}

type OptionSegmentSeconds float64

func (opt OptionSegmentSeconds) apply(cfg *Config) {
	if opt > 0 {
		cfg.SegmentSeconds = float64(opt)
	}
}

type OptionHardwareDevices []types.HardwareDeviceType

func (opt OptionHardwareDevices) apply(cfg *Config) {
	cfg.HardwareDevices = opt
}

// OptionDisableAccelerated forces the subprocess decoding path.
type OptionDisableAccelerated bool

func (opt OptionDisableAccelerated) apply(cfg *Config) {
	cfg.DisableAccelerated = bool(opt)
}
