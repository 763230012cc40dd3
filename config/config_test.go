package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/types"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, logger.LevelWarning, level)
	require.Equal(t, map[string]bool{"person": true, "plate": true}, cfg.BlurLabelSet())
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "avblur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  name: detect_m_2024_04
  execution_providers: [cpu]
blur:
  labels: [plate]
decoder:
  hardware_devices: [vaapi, software]
segment_seconds: 1.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "detect_m_2024_04", cfg.Model.Name)
	require.Equal(t, []string{"cpu"}, cfg.Model.ExecutionProviders)
	require.Equal(t, []string{"plate"}, cfg.Blur.Labels)
	require.Equal(t, []types.HardwareDeviceType{types.HardwareDeviceTypeVAAPI, types.HardwareDeviceTypeNone}, cfg.Decoder.HardwareDevices)
	require.Equal(t, 1.5, cfg.SegmentSeconds)
	require.Equal(t, "ffmpeg", cfg.FFmpeg.Path)

	b, err := cfg.Bytes()
	require.NoError(t, err)
	require.Contains(t, string(b), "vaapi")
}

func TestLoadBroken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "avblur.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [\n"), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, types.ErrConfigurationInvalid)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	for name, mutate := range map[string]func(*Config){
		"unknown_model":    func(c *Config) { c.Model.Name = "nope" },
		"no_providers":     func(c *Config) { c.Model.ExecutionProviders = nil },
		"zero_segment":     func(c *Config) { c.SegmentSeconds = 0 },
		"zero_mask_cache":  func(c *Config) { c.Blur.MaskCacheSize = 0 },
		"no_ffmpeg":        func(c *Config) { c.FFmpeg.Path = "" },
		"broken_log_level": func(c *Config) { c.LogLevel = "loud" },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), types.ErrConfigurationInvalid)
		})
	}
}

func TestAddFlags(t *testing.T) {
	t.Parallel()
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--model", "detect_x_2024_04",
		"--blur", "person",
		"--decoder-hardware", "cuda,software",
		"--segment-seconds", "3",
		"--draw-boxes",
	}))
	require.Equal(t, "detect_x_2024_04", cfg.Model.Name)
	require.Equal(t, []string{"person"}, cfg.Blur.Labels)
	require.Equal(t, []types.HardwareDeviceType{types.HardwareDeviceTypeCUDA, types.HardwareDeviceTypeNone}, cfg.Decoder.HardwareDevices)
	require.Equal(t, 3.0, cfg.SegmentSeconds)
	require.True(t, cfg.Blur.DrawBoxes)

	require.Error(t, fs.Parse([]string{"--decoder-hardware", "bogus"}))
}
