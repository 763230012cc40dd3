package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	beltlogger "github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avblur/blur"
	"github.com/xaionaro-go/avblur/config"
	"github.com/xaionaro-go/avblur/detectioncache"
	"github.com/xaionaro-go/avblur/framesource"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/model"
	"github.com/xaionaro-go/avblur/pipeline"
	"github.com/xaionaro-go/avblur/segmentencoder"
	"github.com/xaionaro-go/avblur/video"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <input> <output>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	cfg := config.Default()
	if configPath := preparseConfigPath(os.Args[1:]); configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	pflag.String("config", "", "a YAML config file; flags override its values")
	purgeCache := pflag.Bool("purge-cache", false, "forget the cached detections of the input before processing")
	cfg.AddFlags(pflag.CommandLine)
	pflag.Parse()
	if len(pflag.Args()) != 2 {
		pflag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	loggerLevel, _ := cfg.Level()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	beltlogger.Default = func() beltlogger.Logger {
		return l
	}
	defer belt.Flush(ctx)
	logger.ForwardAstiavLogs(ctx)

	err := run(ctx, cancelFn, cfg, pflag.Arg(0), pflag.Arg(1), *purgeCache)
	if errors.Is(err, context.Canceled) {
		logger.Infof(ctx, "stopped: %v", err)
		err = nil
	}
	if err != nil {
		belt.Flush(ctx)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// preparseConfigPath finds --config before the other flags are bound, so
// that the file provides their defaults.
func preparseConfigPath(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(nopWriter{})
	configPath := fs.String("config", "", "")
	_ = fs.Parse(args)
	return *configPath
}

type nopWriter struct{}

func (nopWriter) Write(b []byte) (int, error) { return len(b), nil }

func isImage(path string) bool {
	return strings.HasPrefix(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), "image/")
}

func run(
	ctx context.Context,
	cancelFn context.CancelFunc,
	cfg config.Config,
	inputPath string,
	outputPath string,
	purgeCache bool,
) (_err error) {
	m, err := model.ByName(cfg.Model.Name)
	if err != nil {
		return err
	}

	tool, err := mediatool.NewFFmpeg(ctx, cfg.FFmpeg.Path)
	if err != nil {
		return err
	}
	defer tool.Close(ctx)

	v := video.New(tool,
		video.OptionSegmentSeconds(cfg.SegmentSeconds),
		video.OptionSourceOptions{
			framesource.OptionHardwareDevices(cfg.Decoder.HardwareDevices),
			framesource.OptionDisableAccelerated(cfg.Decoder.DisableAccelerated),
		},
		video.OptionEncoderOptions{
			segmentencoder.OptionCodecs(cfg.Encoder.Codecs),
			segmentencoder.OptionDisableAccelerated(cfg.Encoder.DisableAccelerated),
		},
	)
	input, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("unable to open the input: %w", err)
	}
	fileSize, err := v.Load(ctx, inputPath, input)
	input.Close()
	if err != nil {
		return err
	}
	defer v.Abort(ctx)
	logger.Infof(ctx, "loaded '%s' (%s)", v.FileName(ctx), humanize.Bytes(uint64(fileSize)))

	store, err := detectioncache.NewFileStore(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	cache := detectioncache.New(ctx, store, detectioncache.DefaultStorageKey)
	bucket := cache.For(ctx, v.FileName(ctx), fileSize, m.Name)
	if purgeCache {
		if err := bucket.Purge(ctx); err != nil {
			return fmt.Errorf("unable to purge the detection cache: %w", err)
		}
	}
	logger.Infof(ctx, "%d frames of '%s' have cached detections", bucket.Size(ctx), v.FileName(ctx))

	holder := pipeline.NewDetectorHolder(model.DirSource(cfg.Model.Dir))
	defer holder.Close(ctx)
	engine, err := holder.Load(ctx, m, cfg.Model.ExecutionProviders, cfg.Model.UseMultiThreading, func(done, total int) {
		logger.Infof(ctx, "model weights: %d/%d parts loaded", done, total)
	})
	if err != nil {
		return fmt.Errorf("unable to load the model '%s': %w", m.Name, err)
	}

	compositor, err := blur.New(cfg.Blur.MaskCacheSize)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(compositor)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt)
	defer signal.Stop(signalCh)
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-signalCh:
		}
		logger.Warnf(ctx, "stopping after the current frame; interrupt again to abort")
		runner.Stop()
		select {
		case <-ctx.Done():
		case <-signalCh:
			cancelFn()
		}
	})

	output, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("unable to create the output: %w", err)
	}
	keepOutput := true
	defer func() {
		if err := output.Close(); err != nil && _err == nil {
			_err = fmt.Errorf("unable to close the output: %w", err)
		}
		if _err != nil || !keepOutput {
			os.Remove(outputPath)
		}
	}()

	res, err := runner.Run(ctx, pipeline.Job{
		Video:      v,
		Detector:   engine,
		Model:      m,
		Cache:      bucket,
		BlurLabels: cfg.BlurLabelSet(),
		DrawBoxes:  cfg.Blur.DrawBoxes,
		IsImage:    isImage(inputPath),
		Output:     output,
		Progress: func(p pipeline.Progress) {
			logger.Debugf(ctx, "processed %.1fs of %.1fs, about %s left", p.Processed, p.Total, p.Remaining.Round(time.Second))
		},
	})
	if err != nil {
		return err
	}
	if res.Stopped {
		logger.Infof(ctx, "stopped after %d frames, no output is written", res.Frames)
		keepOutput = false
		return nil
	}
	logger.Infof(ctx, "done: %d frames (%d detected, %d from the cache), %d segments; %d masks computed",
		res.Frames, res.DetectedFrames, res.Frames-res.DetectedFrames, res.Segments, compositor.Masks.Computed())
	return nil
}
