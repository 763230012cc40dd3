package segmentencoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avblur/avconv"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/scaler"
	"github.com/xaionaro-go/avblur/types"
)

const segmentFormatName = "mpegts"

// keyFrameOptions disable scene-cut key frames; options unknown to an
// encoder are left unused by libav.
var keyFrameOptions = [][2]string{
	{"sc_threshold", "0"},
	{"no-scenecut", "1"},
}

// accelerated encodes in-process with libav and starts a new MPEG-TS
// segment every keyFrameInterval frames.
type accelerated struct {
	tool             mediatool.Tool
	pathPrefix       string
	metadata         types.Metadata
	keyFrameInterval int

	closer       *astikit.Closer
	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	rgbaFrame    *astiav.Frame
	frame        *astiav.Frame
	packet       *astiav.Packet
	scaler       *scaler.Software

	frameIndex int64
	segment    *segmentMuxer
	chunkNames []string
}

var _ backend = (*accelerated)(nil)

func openAccelerated(
	ctx context.Context,
	tool mediatool.Tool,
	pathPrefix string,
	metadata types.Metadata,
	keyFrameInterval int,
	codecName string,
) (_ret *accelerated, _err error) {
	logger.Debugf(ctx, "openAccelerated(%s)", codecName)
	defer func() { logger.Debugf(ctx, "/openAccelerated(%s): %v", codecName, _err) }()

	fps, err := types.RationalFromString(metadata.FPSRatio)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the frame rate '%s': %w", metadata.FPSRatio, err)
	}
	if fps.IsZero() {
		return nil, fmt.Errorf("zero frame rate")
	}

	a := &accelerated{
		tool:             tool,
		pathPrefix:       pathPrefix,
		metadata:         metadata,
		keyFrameInterval: keyFrameInterval,
		closer:           astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			a.release(ctx)
		}
	}()

	a.codec = astiav.FindEncoderByName(codecName)
	if a.codec == nil {
		return nil, fmt.Errorf("encoder '%s' is not available", codecName)
	}
	a.codecContext = astiav.AllocCodecContext(a.codec)
	if a.codecContext == nil {
		return nil, fmt.Errorf("unable to allocate a codec context for '%s'", codecName)
	}
	a.closer.Add(a.codecContext.Free)

	pixFmt := astiav.PixelFormatYuv420P
	if pixFmts := a.codec.PixelFormats(); len(pixFmts) > 0 && !containsPixelFormat(pixFmts, pixFmt) {
		pixFmt = pixFmts[0]
	}
	a.codecContext.SetWidth(metadata.Width)
	a.codecContext.SetHeight(metadata.Height)
	a.codecContext.SetPixelFormat(pixFmt)
	a.codecContext.SetFramerate(avconv.RationalToAstiav(*fps))
	a.codecContext.SetTimeBase(avconv.RationalToAstiav(fps.Reverse()))
	a.codecContext.SetGopSize(keyFrameInterval)
	a.codecContext.SetMaxBFrames(0)
	opts := astiav.NewDictionary()
	defer opts.Free()
	for _, kv := range keyFrameOptions {
		if err := opts.Set(kv[0], kv[1], 0); err != nil {
			return nil, fmt.Errorf("unable to set option %s=%s: %w", kv[0], kv[1], err)
		}
	}
	if err := a.codecContext.Open(a.codec, opts); err != nil {
		return nil, fmt.Errorf("unable to open the encoder '%s': %w", codecName, err)
	}

	size := image.Pt(metadata.Width, metadata.Height)
	a.scaler, err = scaler.FromRGBA(ctx, size, pixFmt)
	if err != nil {
		return nil, err
	}
	a.rgbaFrame = astiav.AllocFrame()
	a.closer.Add(a.rgbaFrame.Free)
	a.frame = astiav.AllocFrame()
	a.closer.Add(a.frame.Free)
	a.frame.SetWidth(size.X)
	a.frame.SetHeight(size.Y)
	a.frame.SetPixelFormat(pixFmt)
	if err := a.frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("unable to allocate a %s frame: %w", pixFmt, err)
	}
	a.packet = astiav.AllocPacket()
	a.closer.Add(a.packet.Free)
	return a, nil
}

func containsPixelFormat(s []astiav.PixelFormat, pixFmt astiav.PixelFormat) bool {
	for _, item := range s {
		if item == pixFmt {
			return true
		}
	}
	return false
}

func (a *accelerated) String() string {
	return fmt.Sprintf("AcceleratedEncoder(%s)", a.codec.Name())
}

func (a *accelerated) encode(ctx context.Context, img *image.RGBA) error {
	if err := avconv.RGBAToFrame(img, a.rgbaFrame); err != nil {
		return err
	}
	if err := a.frame.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := a.scaler.ScaleFrame(ctx, a.rgbaFrame, a.frame); err != nil {
		return err
	}
	a.frame.SetPts(a.frameIndex)
	if a.frameIndex%int64(a.keyFrameInterval) == 0 {
		a.frame.SetPictureType(astiav.PictureTypeI)
	} else {
		a.frame.SetPictureType(astiav.PictureTypeNone)
	}
	a.frameIndex++
	if err := a.codecContext.SendFrame(a.frame); err != nil {
		return fmt.Errorf("unable to send the frame to the encoder: %w", err)
	}
	return a.receivePackets(ctx)
}

func (a *accelerated) receivePackets(ctx context.Context) error {
	for {
		err := a.codecContext.ReceivePacket(a.packet)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to receive a packet from the encoder: %w", err)
		}
		err = a.writePacket(ctx, a.packet)
		a.packet.Unref()
		if err != nil {
			return err
		}
	}
}

func (a *accelerated) writePacket(ctx context.Context, pkt *astiav.Packet) error {
	if startsSegment(a.segment != nil, pkt.Flags().Has(astiav.PacketFlagKey), pkt.Pts(), a.keyFrameInterval) {
		if err := a.finishSegment(ctx); err != nil {
			return err
		}
		name := fmt.Sprintf("%s_chunk_%d.ts", a.pathPrefix, len(a.chunkNames))
		seg, err := newSegmentMuxer(ctx, a.tool.Path(name), a.codecContext)
		if err != nil {
			return err
		}
		a.segment = seg
		a.chunkNames = append(a.chunkNames, name)
	}
	return a.segment.WritePacket(ctx, pkt, a.codecContext.TimeBase())
}

// startsSegment tells if a packet opens a new segment: only key frames on
// the keyFrameInterval cadence do, pts being the frame number.
func startsSegment(segmentOpen, isKey bool, pts int64, keyFrameInterval int) bool {
	if !segmentOpen {
		return true
	}
	return isKey && keyFrameInterval > 0 && pts%int64(keyFrameInterval) == 0
}

func (a *accelerated) finishSegment(ctx context.Context) error {
	if a.segment == nil {
		return nil
	}
	seg := a.segment
	a.segment = nil
	return seg.Finish(ctx)
}

func (a *accelerated) flush(ctx context.Context) ([]string, error) {
	if err := a.codecContext.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("unable to flush the encoder: %w", err)
	}
	if err := a.receivePackets(ctx); err != nil {
		return nil, err
	}
	if err := a.finishSegment(ctx); err != nil {
		return nil, err
	}
	a.release(ctx)
	return append([]string(nil), a.chunkNames...), nil
}

func (a *accelerated) release(ctx context.Context) {
	if a.segment != nil {
		a.segment.Abort(ctx)
		a.segment = nil
	}
	if a.scaler != nil {
		a.scaler.Close(ctx)
		a.scaler = nil
	}
	if err := a.closer.Close(); err != nil {
		logger.Errorf(ctx, "unable to release the encoder: %v", err)
	}
}

func (a *accelerated) destroy(ctx context.Context) error {
	a.release(ctx)
	var result []error
	for _, name := range a.chunkNames {
		if err := a.tool.DeleteFile(ctx, name); err != nil {
			result = append(result, fmt.Errorf("unable to delete '%s': %w", name, err))
		}
	}
	a.chunkNames = nil
	return errors.Join(result...)
}
