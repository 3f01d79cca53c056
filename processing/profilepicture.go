package processing

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/jobs"
	"github.com/mixloft/mixloft-server/media"
	"github.com/mixloft/mixloft-server/storage"
	"github.com/mixloft/mixloft-server/users"
)

// ProfilePictureResult is the completed-job result of a profile picture update
type ProfilePictureResult struct {
	URL string `json:"url"`
}

// ProfilePictureProcessor runs the reduced upload saga for profile pictures:
// download, validate, finalize-move, update the user record, then best-effort
// delete the previous picture. Removing the old object must never fail the
// update itself.
type ProfilePictureProcessor struct {
	logger   logging.Logger
	store    jobs.Store
	staged   storage.StagedObjectService
	image    media.ImageValidator
	userRepo users.UserRepository
}

// NewProfilePictureProcessor creates the profile picture processor
func NewProfilePictureProcessor(
	logger logging.Logger,
	store jobs.Store,
	staged storage.StagedObjectService,
	image media.ImageValidator,
	userRepo users.UserRepository,
) *ProfilePictureProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &ProfilePictureProcessor{
		logger:   logger,
		store:    store,
		staged:   staged,
		image:    image,
		userRepo: userRepo,
	}
}

// Process handles one claimed profile picture job
func (p *ProfilePictureProcessor) Process(ctx context.Context, job *jobs.Job) (any, error) {
	var payload ProfilePicturePayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, faults.New(faults.KindValidationError, fmt.Sprintf("malformed payload: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}

	var tempFiles []string
	stagingKeys := map[string]bool{payload.StagedImage.Key: true}
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
			p.logger.Error("profile picture cleanup incomplete", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	user, err := p.userRepo.GetByID(ctx, payload.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, faults.New(faults.KindValidationError, "user not found")
	}

	p.setStage(ctx, job.ID, 20, "Downloading image...")

	imagePath, err := p.staged.DownloadToTemp(ctx, payload.StagedImage.Key)
	if err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to download staged image: %w", err))
	}
	tempFiles = append(tempFiles, imagePath)

	p.setStage(ctx, job.ID, 50, "Validating image...")

	validation, err := p.image.ValidateImage(imagePath)
	if err != nil {
		return nil, fmt.Errorf("image validation error: %w", err)
	}
	if !validation.Valid {
		return nil, faults.New(faults.KindValidationError, validation.Reason)
	}

	p.setStage(ctx, job.ID, 75, "Updating profile...")

	finalized, err := p.staged.Finalize(ctx, storage.CategoryProfilePicture, payload.StagedImage.Key, payload.OwnerID, payload.OwnerID)
	if err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to finalize profile picture: %w", err))
	}
	delete(stagingKeys, payload.StagedImage.Key)

	if err := p.userRepo.UpdateProfilePicture(ctx, payload.OwnerID, finalized.URL); err != nil {
		// The moved object is unreferenced without the record update.
		if deleteErr := p.staged.Delete(ctx, finalized.Key); deleteErr != nil {
			p.logger.Error("failed to delete moved profile picture during compensation", "key", finalized.Key, "error", deleteErr)
		}
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to update profile picture record: %w", err))
	}

	if user.ProfilePictureURL != "" {
		if oldKey := p.staged.KeyFromPublicURL(user.ProfilePictureURL); oldKey != "" && oldKey != finalized.Key {
			if err := p.staged.Delete(ctx, oldKey); err != nil {
				p.logger.Warn("failed to delete previous profile picture", "key", oldKey, "error", err)
			}
		}
	}

	p.logger.Info("profile picture updated", "job_id", job.ID, "user_id", payload.OwnerID)

	return &ProfilePictureResult{URL: finalized.URL}, nil
}

func (p *ProfilePictureProcessor) setStage(ctx context.Context, jobID string, progress float64, label string) {
	if err := p.store.SetProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn("failed to set job progress", "job_id", jobID, "error", err)
	}
	if err := p.store.SetProgressLabel(ctx, jobID, label); err != nil {
		p.logger.Warn("failed to set job progress label", "job_id", jobID, "error", err)
	}
}
