package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
	"github.com/mixloft/mixloft-server/convert"
	"github.com/mixloft/mixloft-server/jobs"
)

// ConversionResult is the completed-job result of a URL-to-audio conversion.
// Content carries the artifact bytes so consumers are unaffected by the
// delayed deletion of the on-disk file.
type ConversionResult struct {
	Title    string `json:"title"`
	FilePath string `json:"file_path"`
	Content  []byte `json:"content"`
}

// ConversionProcessor drives the external converter for conversion jobs.
// The first attempt runs with the proxy enabled; a NETWORK_ERROR earns
// exactly one retry with the proxy disabled. Every other failure kind, and a
// network failure on the retry, is terminal.
type ConversionProcessor struct {
	logger       logging.Logger
	store        jobs.Store
	converter    convert.Converter
	enqueuer     *Enqueuer
	cleanupDelay time.Duration
}

// NewConversionProcessor creates the conversion processor. cleanupDelay is
// how long the conversion artifact stays on disk after completion.
func NewConversionProcessor(
	logger logging.Logger,
	store jobs.Store,
	converter convert.Converter,
	enqueuer *Enqueuer,
	cleanupDelay time.Duration,
) *ConversionProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &ConversionProcessor{
		logger:       logger,
		store:        store,
		converter:    converter,
		enqueuer:     enqueuer,
		cleanupDelay: cleanupDelay,
	}
}

// Process handles one claimed conversion job
func (p *ConversionProcessor) Process(ctx context.Context, job *jobs.Job) (any, error) {
	var payload ConversionPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, faults.New(faults.KindValidationError, fmt.Sprintf("malformed payload: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, faults.New(faults.KindValidationError, err.Error())
	}

	onProgress := func(pct float64) {
		if err := p.store.SetProgress(ctx, job.ID, pct); err != nil {
			p.logger.Warn("failed to set job progress", "job_id", job.ID, "error", err)
		}
	}

	conversion, err := p.converter.Convert(ctx, payload.SourceURL, payload.TargetFormat, true, onProgress)
	if err != nil && faults.KindOf(err) == faults.KindNetworkError {
		p.logger.Warn("conversion hit a network failure, retrying without proxy", "job_id", job.ID, "url", payload.SourceURL)
		conversion, err = p.converter.Convert(ctx, payload.SourceURL, payload.TargetFormat, false, onProgress)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.enqueuer.EnqueueCleanup(ctx, CleanupPayload{FilePath: conversion.FilePath}, p.cleanupDelay); err != nil {
		// The result is intact; a missed cleanup only leaks disk space.
		p.logger.Error("failed to schedule artifact cleanup", "job_id", job.ID, "path", conversion.FilePath, "error", err)
	}

	p.logger.Info("conversion completed", "job_id", job.ID, "title", conversion.Title)

	return &ConversionResult{
		Title:    conversion.Title,
		FilePath: conversion.FilePath,
		Content:  conversion.Content,
	}, nil
}
