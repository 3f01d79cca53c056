package processing

import (
	"context"
	"fmt"
	"os"

	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/jobs"
)

// CleanupProcessor deletes expired conversion artifacts from local disk. A
// file that is already gone counts as cleaned up.
type CleanupProcessor struct {
	logger logging.Logger
}

// NewCleanupProcessor creates the cleanup processor
func NewCleanupProcessor(logger logging.Logger) *CleanupProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &CleanupProcessor{logger: logger}
}

// Process handles one claimed cleanup job
func (p *CleanupProcessor) Process(ctx context.Context, job *jobs.Job) (any, error) {
	var payload CleanupPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, faults.New(faults.KindValidationError, fmt.Sprintf("malformed payload: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}

	if err := os.Remove(payload.FilePath); err != nil {
		if os.IsNotExist(err) {
			p.logger.Debug("artifact already removed", "path", payload.FilePath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to remove artifact %s: %w", payload.FilePath, err)
	}

	p.logger.Info("artifact removed", "path", payload.FilePath)
	return nil, nil
}
