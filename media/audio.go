package media

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
)

// AudioLimits holds the configured validation ceilings for audio uploads
type AudioLimits struct {
	MaxFileSize  int64
	MaxDuration  time.Duration
	AllowedTypes []string
}

// AudioMetadata is the normalized metadata shape persisted with a track
type AudioMetadata struct {
	Duration   time.Duration
	Format     string
	Codec      string
	SampleRate int
	Channels   int
}

// AudioValidation is the outcome of validating an audio file. Expected
// validation failures are reported via Valid/Reason, never as errors.
type AudioValidation struct {
	Valid    bool
	Reason   string
	Metadata *AudioMetadata
}

// AudioValidator inspects a local audio file against the configured limits
type AudioValidator interface {
	// ValidateAudio checks the file at path. Returns an error only for
	// unexpected I/O failures.
	ValidateAudio(path string) (*AudioValidation, error)
}

type audioValidator struct {
	logger logging.Logger
	prober Prober
	limits AudioLimits
}

// NewAudioValidator creates an audio validator with the given limits
func NewAudioValidator(logger logging.Logger, prober Prober, limits AudioLimits) AudioValidator {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &audioValidator{
		logger: logger,
		prober: prober,
		limits: limits,
	}
}

// ValidateAudio checks the file at path against the configured limits
func (v *audioValidator) ValidateAudio(path string) (*AudioValidation, error) {
	// Size check comes first so oversized files are rejected before any
	// parsing work happens.
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if stat.Size() > v.limits.MaxFileSize {
		return invalidAudio(fmt.Sprintf("File size exceeds maximum allowed size of %dMB", v.limits.MaxFileSize/(1024*1024))), nil
	}

	fileType, ok := inferFileType(path, v.limits.AllowedTypes)
	if !ok {
		return invalidAudio(fmt.Sprintf("Unsupported audio format. Allowed formats: %s", strings.Join(v.limits.AllowedTypes, ", "))), nil
	}

	info, err := v.prober.ProbeAudio(path)
	if err != nil {
		// A file ffprobe cannot parse is not audio; that is an expected
		// validation outcome, not an I/O error.
		v.logger.Debug("audio probe failed", "path", path, "error", err)
		return invalidAudio("Failed to analyze audio file"), nil
	}

	if info.Duration > v.limits.MaxDuration {
		return invalidAudio(fmt.Sprintf("Audio duration exceeds maximum allowed length of %.0f minutes", v.limits.MaxDuration.Minutes())), nil
	}

	// Missing sample rate or channel data signals a corrupt or non-audio file.
	if info.SampleRate == 0 || info.Channels == 0 {
		return invalidAudio("Invalid audio file structure"), nil
	}

	return &AudioValidation{
		Valid: true,
		Metadata: &AudioMetadata{
			Duration:   info.Duration,
			Format:     fileType,
			Codec:      info.Codec,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		},
	}, nil
}

func invalidAudio(reason string) *AudioValidation {
	return &AudioValidation{Valid: false, Reason: reason}
}
