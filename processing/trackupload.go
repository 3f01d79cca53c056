package processing

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/jobs"
	"github.com/mixloft/mixloft-server/media"
	"github.com/mixloft/mixloft-server/storage"
	"github.com/mixloft/mixloft-server/tracks"
)

// TrackUploadResult is the completed-job result of a track upload
type TrackUploadResult struct {
	TrackID  string `json:"track_id"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`
}

// TrackUploadProcessor runs the track upload saga: download the staged
// objects, validate them, insert a provisional track record, move the objects
// to their permanent keys and attach the final URLs to the record. A failure
// after the record insert deletes the record and any already-moved object, so
// readers never observe a track pointing at a staging key or at nothing.
type TrackUploadProcessor struct {
	logger    logging.Logger
	store     jobs.Store
	staged    storage.StagedObjectService
	audio     media.AudioValidator
	image     media.ImageValidator
	trackRepo tracks.TrackRepository
}

// NewTrackUploadProcessor creates the track upload processor
func NewTrackUploadProcessor(
	logger logging.Logger,
	store jobs.Store,
	staged storage.StagedObjectService,
	audio media.AudioValidator,
	image media.ImageValidator,
	trackRepo tracks.TrackRepository,
) *TrackUploadProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &TrackUploadProcessor{
		logger:    logger,
		store:     store,
		staged:    staged,
		audio:     audio,
		image:     image,
		trackRepo: trackRepo,
	}
}

// Process handles one claimed track upload job
func (p *TrackUploadProcessor) Process(ctx context.Context, job *jobs.Job) (any, error) {
	var payload TrackUploadPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, faults.New(faults.KindValidationError, fmt.Sprintf("malformed payload: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}

	// Terminal cleanup. Temp files and any staging key not consumed by a
	// finalize-move are released on every exit path, and each deletion
	// failure is collected and logged rather than swallowed.
	var tempFiles []string
	stagingKeys := map[string]bool{payload.StagedTrack.Key: true}
	if payload.StagedCover != nil {
		stagingKeys[payload.StagedCover.Key] = true
	}
	defer func() {
		var cleanupErr *multierror.Error
		for _, path := range tempFiles {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				cleanupErr = multierror.Append(cleanupErr, fmt.Errorf("temp file %s: %w", path, err))
			}
		}
		for key := range stagingKeys {
			if err := p.staged.Delete(ctx, key); err != nil {
				cleanupErr = multierror.Append(cleanupErr, fmt.Errorf("staging key %s: %w", key, err))
			}
		}
		if cleanupErr != nil {
			p.logger.Error("track upload cleanup incomplete", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	p.setStage(ctx, job.ID, 10, "Downloading files...")

	trackPath, err := p.staged.DownloadToTemp(ctx, payload.StagedTrack.Key)
	if err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to download staged track: %w", err))
	}
	tempFiles = append(tempFiles, trackPath)

	var coverPath string
	if payload.StagedCover != nil {
		coverPath, err = p.staged.DownloadToTemp(ctx, payload.StagedCover.Key)
		if err != nil {
			return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to download staged cover: %w", err))
		}
		tempFiles = append(tempFiles, coverPath)
	}

	p.setStage(ctx, job.ID, 30, "Validating audio...")

	audioResult, err := p.audio.ValidateAudio(trackPath)
	if err != nil {
		return nil, fmt.Errorf("audio validation error: %w", err)
	}
	if !audioResult.Valid {
		return nil, faults.New(faults.KindValidationError, audioResult.Reason)
	}

	if coverPath != "" {
		imageResult, err := p.image.ValidateImage(coverPath)
		if err != nil {
			return nil, fmt.Errorf("image validation error: %w", err)
		}
		if !imageResult.Valid {
			return nil, faults.New(faults.KindValidationError, imageResult.Reason)
		}
	}

	p.setStage(ctx, job.ID, 50, "Saving track...")

	track := &tracks.Track{
		ID:          uuid.NewString(),
		Name:        payload.Name,
		Artist:      payload.Artist,
		Description: payload.Description,
		IsPrivate:   payload.IsPrivate,
		Category:    payload.Category,
		Genre:       payload.Genre,
		Mood:        payload.Mood,
		Duration:    audioResult.Metadata.Duration.Seconds(),
		BPM:         payload.BPM,
		SoundType:   audioResult.Metadata.Format,
		CreatorID:   payload.OwnerID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.trackRepo.Add(ctx, track); err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to insert track record: %w", err))
	}

	p.setStage(ctx, job.ID, 70, "Finalizing upload...")

	// From here on a failure must compensate: delete the provisional record
	// and every object already moved out of staging.
	var movedKeys []string
	compensate := func(cause error) error {
		if err := p.trackRepo.Delete(ctx, track.ID); err != nil {
			p.logger.Error("failed to delete provisional track record", "track_id", track.ID, "error", err)
		}
		for _, key := range movedKeys {
			if err := p.staged.Delete(ctx, key); err != nil {
				p.logger.Error("failed to delete moved object during compensation", "key", key, "error", err)
			}
		}
		return faults.Wrap(faults.KindStorageError, cause)
	}

	finalTrack, err := p.staged.Finalize(ctx, storage.CategoryTrack, payload.StagedTrack.Key, payload.OwnerID, track.ID)
	if err != nil {
		return nil, compensate(fmt.Errorf("failed to finalize track object: %w", err))
	}
	delete(stagingKeys, payload.StagedTrack.Key)
	movedKeys = append(movedKeys, finalTrack.Key)

	if err := p.trackRepo.UpdateURL(ctx, track.ID, finalTrack.URL); err != nil {
		return nil, compensate(fmt.Errorf("failed to update track url: %w", err))
	}

	result := &TrackUploadResult{TrackID: track.ID, URL: finalTrack.URL}

	if payload.StagedCover != nil {
		finalCover, err := p.staged.Finalize(ctx, storage.CategoryTrackCover, payload.StagedCover.Key, payload.OwnerID, track.ID)
		if err != nil {
			return nil, compensate(fmt.Errorf("failed to finalize cover object: %w", err))
		}
		delete(stagingKeys, payload.StagedCover.Key)
		movedKeys = append(movedKeys, finalCover.Key)

		if err := p.trackRepo.UpdateImageURL(ctx, track.ID, finalCover.URL); err != nil {
			return nil, compensate(fmt.Errorf("failed to update track image url: %w", err))
		}
		result.ImageURL = finalCover.URL
	}

	p.setStage(ctx, job.ID, 95, "Upload complete")
	p.logger.Info("track upload completed", "job_id", job.ID, "track_id", track.ID)

	return result, nil
}

// setStage reports a progress value and label. Progress reporting never
// fails the saga.
func (p *TrackUploadProcessor) setStage(ctx context.Context, jobID string, progress float64, label string) {
	if err := p.store.SetProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn("failed to set job progress", "job_id", jobID, "error", err)
	}
	if err := p.store.SetProgressLabel(ctx, jobID, label); err != nil {
		p.logger.Warn("failed to set job progress label", "job_id", jobID, "error", err)
	}
}
