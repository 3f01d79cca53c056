package processing

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/convert"
	"github.com/mixloft/mixloft-server/jobs"
	"github.com/mixloft/mixloft-server/media"
	"github.com/mixloft/mixloft-server/storage"
)

// AnalysisResult is the completed-job result of an audio analysis
type AnalysisResult struct {
	BPM      float64 `json:"bpm"`
	Key      string  `json:"key"`
	Duration float64 `json:"duration"`
}

// AnalysisProcessor estimates tempo and key for a staged track
type AnalysisProcessor struct {
	logger   logging.Logger
	store    jobs.Store
	staged   storage.StagedObjectService
	audio    media.AudioValidator
	analyzer convert.Analyzer
}

// NewAnalysisProcessor creates the analysis processor
func NewAnalysisProcessor(
	logger logging.Logger,
	store jobs.Store,
	staged storage.StagedObjectService,
	audio media.AudioValidator,
	analyzer convert.Analyzer,
) *AnalysisProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &AnalysisProcessor{
		logger:   logger,
		store:    store,
		staged:   staged,
		audio:    audio,
		analyzer: analyzer,
	}
}

// Process handles one claimed analysis job
func (p *AnalysisProcessor) Process(ctx context.Context, job *jobs.Job) (any, error) {
	var payload AnalysisPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, faults.New(faults.KindValidationError, fmt.Sprintf("malformed payload: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}
	minBPM, maxBPM, err := payload.Range()
	if err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}

	var tempFiles []string
	stagingKeys := map[string]bool{payload.StagedTrack.Key: true}
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
			p.logger.Error("analysis cleanup incomplete", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	p.setStage(ctx, job.ID, 15, "Downloading track...")

	trackPath, err := p.staged.DownloadToTemp(ctx, payload.StagedTrack.Key)
	if err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to download staged track: %w", err))
	}
	tempFiles = append(tempFiles, trackPath)

	p.setStage(ctx, job.ID, 35, "Validating audio...")

	validation, err := p.audio.ValidateAudio(trackPath)
	if err != nil {
		return nil, fmt.Errorf("audio validation error: %w", err)
	}
	if !validation.Valid {
		return nil, faults.New(faults.KindValidationError, validation.Reason)
	}

	p.setStage(ctx, job.ID, 55, "Estimating tempo...")

	bpm, err := p.analyzer.AnalyzeBPM(ctx, trackPath, minBPM, maxBPM)
	if err != nil {
		return nil, faults.Wrap(faults.KindConversionError, err)
	}

	p.setStage(ctx, job.ID, 80, "Estimating key...")

	key, err := p.analyzer.AnalyzeKey(ctx, trackPath)
	if err != nil {
		return nil, faults.Wrap(faults.KindConversionError, err)
	}

	p.logger.Info("audio analysis completed", "job_id", job.ID, "bpm", bpm, "key", key)

	return &AnalysisResult{
		BPM:      bpm,
		Key:      key,
		Duration: validation.Metadata.Duration.Seconds(),
	}, nil
}

func (p *AnalysisProcessor) setStage(ctx context.Context, jobID string, progress float64, label string) {
	if err := p.store.SetProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn("failed to set job progress", "job_id", jobID, "error", err)
	}
	if err := p.store.SetProgressLabel(ctx, jobID, label); err != nil {
		p.logger.Warn("failed to set job progress label", "job_id", jobID, "error", err)
	}
}
