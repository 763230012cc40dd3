package framesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avblur/avconv"
	"github.com/xaionaro-go/avblur/capability"
	"github.com/xaionaro-go/avblur/logger"
	"github.com/xaionaro-go/avblur/pool"
	"github.com/xaionaro-go/avblur/scaler"
	"github.com/xaionaro-go/avblur/types"
)

// Accelerated decodes the input in-process with libav, preferring hardware decoders.
type Accelerated struct {
	InputPath       string
	HardwareDevices []types.HardwareDeviceType
}

var _ Strategy = (*Accelerated)(nil)

func NewAccelerated(
	inputPath string,
	hardwareDevices []types.HardwareDeviceType,
) *Accelerated {
	return &Accelerated{
		InputPath:       inputPath,
		HardwareDevices: hardwareDevices,
	}
}

func (a *Accelerated) String() string {
	return fmt.Sprintf("Accelerated(%s)", a.InputPath)
}

func (a *Accelerated) Frames(
	ctx context.Context,
	metadata *types.MetadataPromise,
) iter.Seq2[types.ImageHandle, error] {
	return func(yield func(types.ImageHandle, error) bool) {
		d, err := openDecoding(ctx, a.InputPath, a.HardwareDevices)
		if err != nil {
			yield(types.ImageHandle{}, fmt.Errorf("%w: %w", types.ErrCapabilityUnavailable, err))
			return
		}
		defer d.Close(ctx)
		first := true
		d.run(ctx, func(img types.ImageHandle, err error) bool {
			if first && err == nil {
				metadata.Resolve(d.Metadata)
				first = false
			}
			return yield(img, err)
		})
	}
}

type decoding struct {
	Metadata            types.Metadata
	closer              *astikit.Closer
	formatContext       *astiav.FormatContext
	stream              *astiav.Stream
	codecContext        *astiav.CodecContext
	hardwarePixelFormat astiav.PixelFormat
	packet              *astiav.Packet
	frame               *astiav.Frame
	softwareFrame       *astiav.Frame
	rgbaFrame           *astiav.Frame
	scaler              *scaler.Software
	pool                *pool.RGBA
}

type openedDecoder struct {
	codecContext        *astiav.CodecContext
	hardwarePixelFormat astiav.PixelFormat
	closer              *astikit.Closer
}

func openDecoding(
	ctx context.Context,
	inputPath string,
	hardwareDevices []types.HardwareDeviceType,
) (_ret *decoding, _err error) {
	logger.Debugf(ctx, "openDecoding(%s)", inputPath)
	defer func() { logger.Debugf(ctx, "/openDecoding(%s): %v", inputPath, _err) }()

	d := &decoding{
		closer: astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			d.Close(ctx)
		}
	}()

	d.formatContext = astiav.AllocFormatContext()
	if d.formatContext == nil {
		return nil, fmt.Errorf("unable to allocate a format context")
	}
	d.closer.Add(d.formatContext.Free)
	if err := d.formatContext.OpenInput(inputPath, nil, nil); err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", inputPath, err)
	}
	d.closer.Add(d.formatContext.CloseInput)
	if err := d.formatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to find stream info: %w", err)
	}

	d.stream = avconv.FindFirstVideoStream(d.formatContext)
	if d.stream == nil {
		return nil, fmt.Errorf("no video track in '%s'", inputPath)
	}
	codecParams := d.stream.CodecParameters()
	codec := astiav.FindDecoder(codecParams.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("no decoder for codec %s", codecParams.CodecID())
	}

	candidates := make([]capability.Candidate[*openedDecoder], 0, len(hardwareDevices)+1)
	for _, hwType := range append(append([]types.HardwareDeviceType{}, hardwareDevices...), types.HardwareDeviceTypeNone) {
		candidates = append(candidates, capability.Candidate[*openedDecoder]{
			Name: fmt.Sprintf("%s/%s", codec.Name(), hwType),
			Open: func(ctx context.Context) (*openedDecoder, error) {
				return openDecoder(ctx, codec, codecParams, hwType)
			},
		})
	}
	dec, name, err := capability.FirstSupported(ctx, candidates...)
	if err != nil {
		return nil, err
	}
	logger.Infof(ctx, "decoding with %s", name)
	d.closer.AddWithError(func() error { return dec.closer.Close() })
	d.codecContext = dec.codecContext
	d.hardwarePixelFormat = dec.hardwarePixelFormat

	fps := d.stream.AvgFrameRate()
	if fps.Num() <= 0 || fps.Den() <= 0 {
		fps = d.stream.RFrameRate()
	}
	if fps.Num() <= 0 || fps.Den() <= 0 {
		return nil, fmt.Errorf("unable to determine the frame rate")
	}
	d.Metadata = types.NewMetadata(
		codecParams.Width(),
		codecParams.Height(),
		codecParams.PixelFormat().String(),
		avconv.RationalFromAstiav(fps),
		avconv.StreamDurationSeconds(d.formatContext, d.stream),
	)
	logger.Debugf(ctx, "metadata from the stream header: %s", d.Metadata)

	d.packet = astiav.AllocPacket()
	d.closer.Add(d.packet.Free)
	d.frame = astiav.AllocFrame()
	d.closer.Add(d.frame.Free)
	d.softwareFrame = astiav.AllocFrame()
	d.closer.Add(d.softwareFrame.Free)
	d.rgbaFrame = astiav.AllocFrame()
	d.closer.Add(d.rgbaFrame.Free)
	d.pool = pool.NewRGBA(d.Metadata.Width, d.Metadata.Height)
	return d, nil
}

func openDecoder(
	ctx context.Context,
	codec *astiav.Codec,
	codecParams *astiav.CodecParameters,
	hwType types.HardwareDeviceType,
) (_ret *openedDecoder, _err error) {
	closer := astikit.NewCloser()
	defer func() {
		if _err != nil {
			closer.Close()
		}
	}()

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("unable to allocate a codec context")
	}
	closer.Add(codecCtx.Free)
	if err := codecParams.ToCodecContext(codecCtx); err != nil {
		return nil, fmt.Errorf("unable to copy the codec parameters: %w", err)
	}

	hwPixFmt := astiav.PixelFormatNone
	if hwType.IsHardware() {
		astiavHWType := avconv.HardwareDeviceTypeToAstiav(hwType)
		for _, hwCfg := range codec.HardwareConfigs() {
			if hwCfg.HardwareDeviceType() != astiavHWType {
				continue
			}
			if !hwCfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) {
				continue
			}
			hwPixFmt = hwCfg.PixelFormat()
			break
		}
		if hwPixFmt == astiav.PixelFormatNone {
			return nil, fmt.Errorf("codec %s does not support %s", codec.Name(), hwType)
		}
		hwDevCtx, err := astiav.CreateHardwareDeviceContext(astiavHWType, "", nil, 0)
		if err != nil {
			return nil, fmt.Errorf("unable to create a %s device context: %w", hwType, err)
		}
		closer.Add(hwDevCtx.Free)
		codecCtx.SetHardwareDeviceContext(hwDevCtx)
		codecCtx.SetPixelFormatCallback(func(pfs []astiav.PixelFormat) astiav.PixelFormat {
			for _, pf := range pfs {
				if pf == hwPixFmt {
					return pf
				}
			}
			logger.Errorf(ctx, "the decoder does not offer %s", hwPixFmt)
			return astiav.PixelFormatNone
		})
	}

	if err := codecCtx.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("unable to open the decoder: %w", err)
	}
	return &openedDecoder{
		codecContext:        codecCtx,
		hardwarePixelFormat: hwPixFmt,
		closer:              closer,
	}, nil
}

func (d *decoding) Close(ctx context.Context) {
	if d.scaler != nil {
		d.scaler.Close(ctx)
	}
	if err := d.closer.Close(); err != nil {
		logger.Errorf(ctx, "unable to release the decoder: %v", err)
	}
}

func (d *decoding) run(
	ctx context.Context,
	yield func(types.ImageHandle, error) bool,
) {
	fail := func(err error) {
		yield(types.ImageHandle{}, types.ErrDecodeFailed{Err: err})
	}
	for {
		if err := ctx.Err(); err != nil {
			yield(types.ImageHandle{}, err)
			return
		}
		err := d.formatContext.ReadFrame(d.packet)
		if errors.Is(err, astiav.ErrEof) {
			if err := d.codecContext.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				fail(fmt.Errorf("unable to flush the decoder: %w", err))
				return
			}
			d.receiveFrames(ctx, yield)
			return
		}
		if err != nil {
			fail(fmt.Errorf("unable to read a packet: %w", err))
			return
		}
		if d.packet.StreamIndex() != d.stream.Index() {
			d.packet.Unref()
			continue
		}
		for {
			err := d.codecContext.SendPacket(d.packet)
			if err == nil {
				break
			}
			if !errors.Is(err, astiav.ErrEagain) {
				d.packet.Unref()
				fail(fmt.Errorf("unable to send a packet to the decoder: %w", err))
				return
			}
			if !d.receiveFrames(ctx, yield) {
				d.packet.Unref()
				return
			}
		}
		d.packet.Unref()
		if !d.receiveFrames(ctx, yield) {
			return
		}
	}
}

// receiveFrames drains the decoder; returns false if the sequence must stop.
func (d *decoding) receiveFrames(
	ctx context.Context,
	yield func(types.ImageHandle, error) bool,
) bool {
	for {
		err := d.codecContext.ReceiveFrame(d.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return true
		}
		if err != nil {
			yield(types.ImageHandle{}, types.ErrDecodeFailed{Err: fmt.Errorf("unable to receive a frame: %w", err)})
			return false
		}
		img, err := d.toRGBA(ctx, d.frame)
		d.frame.Unref()
		if err != nil {
			yield(types.ImageHandle{}, types.ErrDecodeFailed{Err: err})
			return false
		}
		if !yield(types.NewImageHandle(img, d.pool.Put), nil) {
			return false
		}
	}
}

func (d *decoding) toRGBA(
	ctx context.Context,
	frame *astiav.Frame,
) (*image.RGBA, error) {
	src := frame
	if d.hardwarePixelFormat != astiav.PixelFormatNone && frame.PixelFormat() == d.hardwarePixelFormat {
		d.softwareFrame.Unref()
		if err := frame.TransferHardwareData(d.softwareFrame); err != nil {
			return nil, fmt.Errorf("unable to transfer the frame from the hardware decoder: %w", err)
		}
		src = d.softwareFrame
	}

	size := image.Pt(src.Width(), src.Height())
	if d.scaler == nil ||
		d.scaler.SourcePixelFormat() != src.PixelFormat() ||
		d.scaler.SourceResolution() != size {
		if d.scaler != nil {
			d.scaler.Close(ctx)
		}
		s, err := scaler.ToRGBA(ctx, size, src.PixelFormat())
		if err != nil {
			return nil, err
		}
		d.scaler = s
		d.rgbaFrame.Unref()
		d.rgbaFrame.SetWidth(size.X)
		d.rgbaFrame.SetHeight(size.Y)
		d.rgbaFrame.SetPixelFormat(astiav.PixelFormatRgba)
		if err := d.rgbaFrame.AllocBuffer(0); err != nil {
			return nil, fmt.Errorf("unable to allocate the RGBA frame: %w", err)
		}
	}
	if err := d.scaler.ScaleFrame(ctx, src, d.rgbaFrame); err != nil {
		return nil, err
	}

	var img *image.RGBA
	if size.X == d.pool.Width && size.Y == d.pool.Height {
		img = d.pool.Get()
	} else {
		img = image.NewRGBA(image.Rectangle{Max: size})
	}
	if err := avconv.FrameToRGBA(d.rgbaFrame, img); err != nil {
		d.pool.Put(img)
		return nil, err
	}
	return img, nil
}
