package media

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mixloft/mixloft-server/ccc/logging"
)

// ImageLimits holds the configured validation bounds for image uploads.
// AspectRatio of 0 disables the aspect check; a non-zero value is enforced
// with a 10% tolerance.
type ImageLimits struct {
	MaxFileSize  int64
	MinWidth     int
	MinHeight    int
	MaxWidth     int
	MaxHeight    int
	AspectRatio  float64
	AllowedTypes []string
}

// ImageMetadata is the normalized metadata of a validated image
type ImageMetadata struct {
	Width  int
	Height int
	Format string
	Size   int64
}

// ImageValidation is the outcome of validating an image file. Expected
// validation failures are reported via Valid/Reason, never as errors.
type ImageValidation struct {
	Valid    bool
	Reason   string
	Metadata *ImageMetadata
}

// ImageValidator inspects a local image file against the configured limits
type ImageValidator interface {
	// ValidateImage checks the file at path. Returns an error only for
	// unexpected I/O failures.
	ValidateImage(path string) (*ImageValidation, error)
}

// aspectRatioTolerance is the allowed deviation from the configured ratio
const aspectRatioTolerance = 0.1

type imageValidator struct {
	logger logging.Logger
	prober Prober
	limits ImageLimits
}

// NewImageValidator creates an image validator with the given limits
func NewImageValidator(logger logging.Logger, prober Prober, limits ImageLimits) ImageValidator {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &imageValidator{
		logger: logger,
		prober: prober,
		limits: limits,
	}
}

// ValidateImage checks the file at path against the configured limits
func (v *imageValidator) ValidateImage(path string) (*ImageValidation, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}
	if stat.Size() > v.limits.MaxFileSize {
		return invalidImage(fmt.Sprintf("File size exceeds maximum allowed size of %dMB", v.limits.MaxFileSize/(1024*1024))), nil
	}

	fileType, ok := inferFileType(path, v.limits.AllowedTypes)
	if !ok {
		return invalidImage(fmt.Sprintf("Unsupported image format. Allowed formats: %s", strings.Join(v.limits.AllowedTypes, ", "))), nil
	}

	info, err := v.prober.ProbeImage(path)
	if err != nil {
		v.logger.Debug("image probe failed", "path", path, "error", err)
		return invalidImage("Failed to analyze image file"), nil
	}

	if info.Width < v.limits.MinWidth || info.Height < v.limits.MinHeight {
		return invalidImage(fmt.Sprintf("Image dimensions too small. Minimum size is %dx%d pixels", v.limits.MinWidth, v.limits.MinHeight)), nil
	}

	if info.Width > v.limits.MaxWidth || info.Height > v.limits.MaxHeight {
		return invalidImage(fmt.Sprintf("Image dimensions too large. Maximum size is %dx%d pixels", v.limits.MaxWidth, v.limits.MaxHeight)), nil
	}

	if v.limits.AspectRatio > 0 {
		ratio := float64(info.Width) / float64(info.Height)
		if math.Abs(ratio-v.limits.AspectRatio) > aspectRatioTolerance {
			return invalidImage("Image does not match required aspect ratio"), nil
		}
	}

	return &ImageValidation{
		Valid: true,
		Metadata: &ImageMetadata{
			Width:  info.Width,
			Height: info.Height,
			Format: fileType,
			Size:   stat.Size(),
		},
	}, nil
}

func invalidImage(reason string) *ImageValidation {
	return &ImageValidation{Valid: false, Reason: reason}
}
