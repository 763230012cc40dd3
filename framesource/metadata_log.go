package framesource

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/xaionaro-go/avblur/mediatool"
	"github.com/xaionaro-go/avblur/types"
	"github.com/xaionaro-go/xsync"
)

// requires "-loglevel verbose"
var regexpFrameInfo = regexp.MustCompile(`w:(\d+) h:(\d+) pixfmt:([^\s]+) tb:[^\s]+ fr:(\d+)/(\d+)`)

// logMetadataParser collects the video metadata from the log of an ffmpeg run.
type logMetadataParser struct {
	locker   xsync.Mutex
	duration float64
	hasFrame bool
	width    int
	height   int
	pixFmt   string
	fps      types.Rational
}

func (p *logMetadataParser) onLine(ctx context.Context, line string) {
	p.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		p.onLineLocked(line)
	})
}

func (p *logMetadataParser) onLineLocked(line string) {
	if d, ok := mediatool.ParseDuration(line); ok && p.duration == 0 {
		p.duration = d
		return
	}
	if p.hasFrame {
		return
	}
	m := regexpFrameInfo.FindStringSubmatch(line)
	if m == nil {
		return
	}
	p.width, _ = strconv.Atoi(m[1])
	p.height, _ = strconv.Atoi(m[2])
	p.pixFmt = m[3]
	num, _ := strconv.ParseInt(m[4], 10, 64)
	den, _ := strconv.ParseInt(m[5], 10, 64)
	p.fps = types.Rational{Num: num, Den: den}
	p.hasFrame = true
}

func (p *logMetadataParser) Metadata(ctx context.Context) (types.Metadata, error) {
	return xsync.DoR2(ctx, &p.locker, p.metadataLocked)
}

func (p *logMetadataParser) metadataLocked() (types.Metadata, error) {
	if !p.hasFrame {
		return types.Metadata{}, fmt.Errorf("no frame information found in the log")
	}
	if p.width <= 0 || p.height <= 0 || p.fps.Num <= 0 || p.fps.Den <= 0 {
		return types.Metadata{}, fmt.Errorf("invalid frame information: %dx%d @ %s", p.width, p.height, p.fps)
	}
	return types.NewMetadata(p.width, p.height, p.pixFmt, p.fps, p.duration), nil
}
