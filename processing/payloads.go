package processing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mixloft/mixloft-server/jobs"
)

// Queue names consumed by the processors in this package
const (
	QueueTrackUploads    = "track-uploads"
	QueueProfilePictures = "profile-pictures"
	QueueConversions     = "url-conversions"
	QueueAnalysis        = "audio-analysis"
	QueueCleanup         = "file-cleanup"
)

// StagedRef identifies an object a client uploaded into the staging prefix
type StagedRef struct {
	Key       string `json:"key"`
	PublicURL string `json:"public_url,omitempty"`
}

// TrackUploadPayload describes a track upload job
type TrackUploadPayload struct {
	OwnerID     string     `json:"owner_id"`
	StagedTrack StagedRef  `json:"staged_track"`
	StagedCover *StagedRef `json:"staged_cover,omitempty"`
	Name        string     `json:"name"`
	Artist      string     `json:"artist,omitempty"`
	Description string     `json:"description,omitempty"`
	IsPrivate   bool       `json:"is_private"`
	Category    string     `json:"category"`
	Genre       []string   `json:"genre,omitempty"`
	Mood        []string   `json:"mood,omitempty"`
	BPM         float64    `json:"bpm,omitempty"`
}

// Validate checks the required fields of the payload
func (p TrackUploadPayload) Validate() error {
	if p.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if p.StagedTrack.Key == "" {
		return fmt.Errorf("staged_track.key is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Category == "" {
		return fmt.Errorf("category is required")
	}
	if p.StagedCover != nil && p.StagedCover.Key == "" {
		return fmt.Errorf("staged_cover.key is required when a cover is given")
	}
	return nil
}

// ProfilePicturePayload describes a profile picture job
type ProfilePicturePayload struct {
	OwnerID     string    `json:"owner_id"`
	StagedImage StagedRef `json:"staged_image"`
}

// Validate checks the required fields of the payload
func (p ProfilePicturePayload) Validate() error {
	if p.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if p.StagedImage.Key == "" {
		return fmt.Errorf("staged_image.key is required")
	}
	return nil
}

// ConversionPayload describes a URL-to-audio conversion job
type ConversionPayload struct {
	SourceURL    string `json:"source_url"`
	TargetFormat string `json:"target_format"`
}

// Validate checks the required fields of the payload
func (p ConversionPayload) Validate() error {
	if p.SourceURL == "" {
		return fmt.Errorf("source_url is required")
	}
	if p.TargetFormat == "" {
		return fmt.Errorf("target_format is required")
	}
	return nil
}

// AnalysisPayload describes an audio analysis job. BPMRange has the form
// "min-max", e.g. "60-180".
type AnalysisPayload struct {
	StagedTrack StagedRef `json:"staged_track"`
	BPMRange    string    `json:"bpm_range"`
}

// Validate checks the required fields of the payload
func (p AnalysisPayload) Validate() error {
	if p.StagedTrack.Key == "" {
		return fmt.Errorf("staged_track.key is required")
	}
	if _, _, err := p.Range(); err != nil {
		return err
	}
	return nil
}

// Range parses the BPMRange bounds
func (p AnalysisPayload) Range() (int, int, error) {
	parts := strings.SplitN(p.BPMRange, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bpm_range must have the form min-max")
	}
	minBPM, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid bpm_range minimum: %w", err)
	}
	maxBPM, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid bpm_range maximum: %w", err)
	}
	if minBPM <= 0 || maxBPM < minBPM {
		return 0, 0, fmt.Errorf("bpm_range bounds out of order: %s", p.BPMRange)
	}
	return minBPM, maxBPM, nil
}

// CleanupPayload describes a delayed artifact deletion job
type CleanupPayload struct {
	FilePath string `json:"file_path"`
}

// Validate checks the required fields of the payload
func (p CleanupPayload) Validate() error {
	if p.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	return nil
}

// Enqueuer validates payloads and places them on their queues. Validation
// happens once here, so workers can trust the payload shape they claim.
type Enqueuer struct {
	store jobs.Store
}

// NewEnqueuer creates an enqueuer backed by the given job store
func NewEnqueuer(store jobs.Store) *Enqueuer {
	return &Enqueuer{store: store}
}

// EnqueueTrackUpload places a track upload job on its queue
func (e *Enqueuer) EnqueueTrackUpload(ctx context.Context, payload TrackUploadPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid track upload payload: %w", err)
	}
	return e.store.Enqueue(ctx, QueueTrackUploads, payload, jobs.EnqueueOptions{})
}

// EnqueueProfilePicture places a profile picture job on its queue
func (e *Enqueuer) EnqueueProfilePicture(ctx context.Context, payload ProfilePicturePayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid profile picture payload: %w", err)
	}
	return e.store.Enqueue(ctx, QueueProfilePictures, payload, jobs.EnqueueOptions{})
}

// EnqueueConversion places a conversion job on its queue
func (e *Enqueuer) EnqueueConversion(ctx context.Context, payload ConversionPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid conversion payload: %w", err)
	}
	return e.store.Enqueue(ctx, QueueConversions, payload, jobs.EnqueueOptions{})
}

// EnqueueAnalysis places an audio analysis job on its queue
func (e *Enqueuer) EnqueueAnalysis(ctx context.Context, payload AnalysisPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid analysis payload: %w", err)
	}
	return e.store.Enqueue(ctx, QueueAnalysis, payload, jobs.EnqueueOptions{})
}

// EnqueueCleanup schedules a delayed artifact deletion
func (e *Enqueuer) EnqueueCleanup(ctx context.Context, payload CleanupPayload, delay time.Duration) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid cleanup payload: %w", err)
	}
	return e.store.Enqueue(ctx, QueueCleanup, payload, jobs.EnqueueOptions{Delay: delay})
}
