package avconv

import (
	"github.com/asticode/go-astiav"
)

// FindFirstVideoStream returns the first video stream of the container or nil.
func FindFirstVideoStream(
	fmtCtx *astiav.FormatContext,
) *astiav.Stream {
	for _, stream := range fmtCtx.Streams() {
		if stream.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			return stream
		}
	}
	return nil
}
