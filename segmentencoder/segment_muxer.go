package segmentencoder

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avblur/logger"
)

// segmentMuxer writes the packets of one segment into its own MPEG-TS file.
type segmentMuxer struct {
	path          string
	closer        *astikit.Closer
	formatContext *astiav.FormatContext
	ioContext     *astiav.IOContext
	stream        *astiav.Stream
}

func newSegmentMuxer(
	ctx context.Context,
	path string,
	codecContext *astiav.CodecContext,
) (_ret *segmentMuxer, _err error) {
	logger.Debugf(ctx, "newSegmentMuxer(%s)", path)
	defer func() { logger.Debugf(ctx, "/newSegmentMuxer(%s): %v", path, _err) }()

	m := &segmentMuxer{
		path:   path,
		closer: astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			m.Abort(ctx)
		}
	}()

	formatContext, err := astiav.AllocOutputFormatContext(nil, segmentFormatName, path)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate the output format context: %w", err)
	}
	if formatContext == nil {
		return nil, fmt.Errorf("unable to allocate the output format context")
	}
	m.formatContext = formatContext
	m.closer.Add(formatContext.Free)

	if !formatContext.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioContext, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("unable to open '%s' for writing: %w", path, err)
		}
		m.ioContext = ioContext
		m.closer.AddWithError(ioContext.Close)
		formatContext.SetPb(ioContext)
	}

	m.stream = formatContext.NewStream(nil)
	if m.stream == nil {
		return nil, fmt.Errorf("unable to create a stream")
	}
	if err := m.stream.CodecParameters().FromCodecContext(codecContext); err != nil {
		return nil, fmt.Errorf("unable to copy the codec parameters: %w", err)
	}
	m.stream.SetTimeBase(codecContext.TimeBase())

	if err := formatContext.WriteHeader(nil); err != nil {
		return nil, fmt.Errorf("unable to write the header: %w", err)
	}
	return m, nil
}

func (m *segmentMuxer) WritePacket(
	ctx context.Context,
	pkt *astiav.Packet,
	timeBase astiav.Rational,
) error {
	logger.Tracef(ctx, "WritePacket(%s): pts:%d dts:%d key:%t", m.path, pkt.Pts(), pkt.Dts(), pkt.Flags().Has(astiav.PacketFlagKey))
	pkt.SetStreamIndex(m.stream.Index())
	pkt.RescaleTs(timeBase, m.stream.TimeBase())
	if err := m.formatContext.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("unable to write a packet into '%s': %w", m.path, err)
	}
	return nil
}

func (m *segmentMuxer) Finish(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Finish(%s)", m.path)
	defer func() { logger.Debugf(ctx, "/Finish(%s): %v", m.path, _err) }()
	if err := m.formatContext.WriteTrailer(); err != nil {
		m.Abort(ctx)
		return fmt.Errorf("unable to write the trailer into '%s': %w", m.path, err)
	}
	if err := m.closer.Close(); err != nil {
		return fmt.Errorf("unable to close '%s': %w", m.path, err)
	}
	return nil
}

func (m *segmentMuxer) Abort(ctx context.Context) {
	if err := m.closer.Close(); err != nil {
		logger.Errorf(ctx, "unable to close '%s': %v", m.path, err)
	}
}
