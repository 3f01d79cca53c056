package media

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/xfrr/goffmpeg/transcoder"
)

// AudioInfo contains extracted audio stream information
type AudioInfo struct {
	Duration   time.Duration
	Codec      string
	Container  string
	SampleRate int
	Channels   int
}

// ImageInfo contains extracted image information
type ImageInfo struct {
	Width  int
	Height int
	Codec  string
}

// Prober defines the interface for extracting media information from local
// files. Probe failures on unreadable or non-media files are expected and
// reported as errors for the validators to translate.
type Prober interface {
	// ProbeAudio extracts audio information from the file at path
	ProbeAudio(path string) (*AudioInfo, error)

	// ProbeImage extracts image dimensions from the file at path
	ProbeImage(path string) (*ImageInfo, error)
}

// FFprobeProber implements Prober using FFmpeg's probe via goffmpeg
type FFprobeProber struct {
	logger logging.Logger
}

// NewFFprobeProber creates a new FFmpeg-based media prober
func NewFFprobeProber(logger logging.Logger) *FFprobeProber {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &FFprobeProber{
		logger: logger,
	}
}

// ProbeAudio extracts audio information using goffmpeg
func (p *FFprobeProber) ProbeAudio(path string) (*AudioInfo, error) {
	trans := new(transcoder.Transcoder)
	err := trans.Initialize(path, "")
	if err != nil {
		return nil, fmt.Errorf("failed to probe audio file: %w", err)
	}

	metadata := trans.MediaFile().Metadata()

	info := &AudioInfo{
		Container: metadata.Format.FormatName,
	}

	if metadata.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(metadata.Format.Duration, 64)
		if err == nil {
			info.Duration = time.Duration(seconds * float64(time.Second))
		}
	}

	for _, stream := range metadata.Streams {
		if stream.CodecType == "audio" {
			info.Codec = stream.CodecName
			info.Channels = stream.Channels
			if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.SampleRate = rate
			}
			break // Use first audio stream
		}
	}

	p.logger.Debug(fmt.Sprintf("Probed audio: %s, %v, %dHz, %dch", info.Codec, info.Duration, info.SampleRate, info.Channels))

	return info, nil
}

// ProbeImage extracts image dimensions using goffmpeg. FFmpeg reports still
// images as a single video stream.
func (p *FFprobeProber) ProbeImage(path string) (*ImageInfo, error) {
	trans := new(transcoder.Transcoder)
	err := trans.Initialize(path, "")
	if err != nil {
		return nil, fmt.Errorf("failed to probe image file: %w", err)
	}

	metadata := trans.MediaFile().Metadata()

	info := &ImageInfo{}
	for _, stream := range metadata.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			break
		}
	}

	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("could not extract image dimensions")
	}

	p.logger.Debug(fmt.Sprintf("Probed image: %s, %dx%d", info.Codec, info.Width, info.Height))

	return info, nil
}
