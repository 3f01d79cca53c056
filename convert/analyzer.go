package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
)

// Analyzer runs the out-of-process audio analysis tools
type Analyzer interface {
	// AnalyzeBPM estimates the tempo of the audio file, constrained to the
	// given BPM range
	AnalyzeBPM(ctx context.Context, path string, minBPM, maxBPM int) (float64, error)

	// AnalyzeKey estimates the musical key of the audio file
	AnalyzeKey(ctx context.Context, path string) (string, error)
}

// AnalyzerConfig holds the settings for the external analysis tools
type AnalyzerConfig struct {
	Python    string
	ScriptDir string
	Timeout   time.Duration
}

type scriptAnalyzer struct {
	logger logging.Logger
	cfg    AnalyzerConfig
}

// NewScriptAnalyzer creates an analyzer that shells out to the analysis
// scripts
func NewScriptAnalyzer(logger logging.Logger, cfg AnalyzerConfig) Analyzer {
	if logger == nil {
		logger = logging.NopLogger
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	return &scriptAnalyzer{
		logger: logger,
		cfg:    cfg,
	}
}

// AnalyzeBPM estimates the tempo of the audio file
func (a *scriptAnalyzer) AnalyzeBPM(ctx context.Context, path string, minBPM, maxBPM int) (float64, error) {
	output, err := a.run(ctx, "bpm_analyzer.py", path, strconv.Itoa(minBPM), strconv.Itoa(maxBPM))
	if err != nil {
		return 0, fmt.Errorf("bpm analysis failed: %w", err)
	}

	var result struct {
		BPM float64 `json:"bpm"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("failed to parse bpm analysis output: %w", err)
	}
	if result.BPM <= 0 {
		return 0, fmt.Errorf("bpm analysis returned no tempo")
	}

	return result.BPM, nil
}

// AnalyzeKey estimates the musical key of the audio file
func (a *scriptAnalyzer) AnalyzeKey(ctx context.Context, path string) (string, error) {
	output, err := a.run(ctx, "key_analyzer.py", path)
	if err != nil {
		return "", fmt.Errorf("key analysis failed: %w", err)
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return "", fmt.Errorf("failed to parse key analysis output: %w", err)
	}
	if result.Key == "" {
		return "", fmt.Errorf("key analysis returned no key")
	}

	return result.Key, nil
}

// run executes an analysis script and returns its stdout
func (a *scriptAnalyzer) run(ctx context.Context, script string, args ...string) ([]byte, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	cmdArgs := append([]string{filepath.Join(a.cfg.ScriptDir, script)}, args...)
	cmd := exec.CommandContext(ctx, a.cfg.Python, cmdArgs...)

	output, err := cmd.Output()
	if err != nil {
		a.logger.Warn("analysis script failed", "script", script, "error", err)
		return nil, err
	}

	return output, nil
}
