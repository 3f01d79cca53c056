package convert

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
)

// proxyEnvVar is the environment variable the converter tool reads its
// network proxy from. Clearing it disables the proxy for a run.
const proxyEnvVar = "YT_DLP_PROXY_URL"

// resultMarker prefixes the stdout line carrying the result file location
const resultMarker = "RESULT_FILE:"

// hardFailureMarker on stderr means the tool cannot succeed; the subprocess
// is terminated early instead of waiting for it to exit on its own
const hardFailureMarker = "ERROR:"

var progressPattern = regexp.MustCompile(`(\d+\.?\d*)%`)

// Conversion is the successful outcome of a URL-to-audio conversion. Content
// holds the full artifact bytes so a delayed cleanup of the on-disk artifact
// cannot race a consumer still reading it.
type Conversion struct {
	Title    string `json:"title"`
	FilePath string `json:"file_path"`
	Content  []byte `json:"-"`
}

// Converter drives the external URL-to-audio conversion tool
type Converter interface {
	// Convert downloads and converts the media at sourceURL into the target
	// format. Progress percentages parsed from the tool's output are
	// reported through onProgress, monotonically and capped below 100.
	// Failures come back as classified errors.
	Convert(ctx context.Context, sourceURL, format string, useProxy bool, onProgress func(float64)) (*Conversion, error)
}

// ConverterConfig holds the settings for the external converter tool
type ConverterConfig struct {
	Python    string
	ScriptDir string
	ProxyURL  string
	Timeout   time.Duration
}

type scriptConverter struct {
	logger logging.Logger
	cfg    ConverterConfig
}

// NewScriptConverter creates a converter that shells out to the conversion
// script
func NewScriptConverter(logger logging.Logger, cfg ConverterConfig) Converter {
	if logger == nil {
		logger = logging.NopLogger
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	return &scriptConverter{
		logger: logger,
		cfg:    cfg,
	}
}

// Convert runs the conversion tool and joins its outcome at a single point:
// the process exit. Stream consumption happens on the side; only the exit
// status decides success or failure, so there is no duplicate completion path.
func (c *scriptConverter) Convert(ctx context.Context, sourceURL, format string, useProxy bool, onProgress func(float64)) (*Conversion, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	script := filepath.Join(c.cfg.ScriptDir, "url_to_audio.py")
	cmd := exec.CommandContext(ctx, c.cfg.Python, script, sourceURL, format)

	env := os.Environ()
	env = removeEnv(env, proxyEnvVar)
	if useProxy && c.cfg.ProxyURL != "" {
		env = append(env, proxyEnvVar+"="+c.cfg.ProxyURL)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to open stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to open stderr pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		// Spawn failures are process-level errors, not tool output.
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to start converter: %v", err))
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf strings.Builder
	var killOnce sync.Once

	wg.Add(2)

	go func() {
		defer wg.Done()

		lastProgress := 0.0
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			stdoutBuf.WriteString(line)
			stdoutBuf.WriteByte('\n')

			if match := progressPattern.FindStringSubmatch(line); match != nil {
				pct, err := strconv.ParseFloat(match[1], 64)
				if err != nil {
					continue
				}
				// Hold back 100 until the result artifact is confirmed.
				if pct > 99 {
					pct = 99
				}
				if pct > lastProgress {
					lastProgress = pct
					onProgress(pct)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()

		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')

			if strings.Contains(line, hardFailureMarker) {
				// The tool cannot recover; don't wait for it to exit.
				killOnce.Do(func() {
					c.logger.Debug("terminating converter on failure marker", "url", sourceURL)
					cmd.Process.Kill()
				})
			}
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, faults.New(faults.KindTimeout, "Conversion exceeded the allowed time")
		}
		fault := faults.ClassifyConverterOutput(stderrBuf.String())
		c.logger.Warn("converter failed", "url", sourceURL, "kind", fault.Kind, "exit_error", waitErr)
		return nil, fault
	}

	return c.readResult(stdoutBuf.String())
}

// readResult locates the result file named on stdout and loads the
// conversion artifact into memory
func (c *scriptConverter) readResult(stdout string) (*Conversion, error) {
	var resultPath string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(line, resultMarker) {
			resultPath = strings.TrimSpace(strings.TrimPrefix(line, resultMarker))
		}
	}
	if resultPath == "" {
		return nil, faults.New(faults.KindUnknownError, "Result file not found")
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to read result file: %v", err))
	}

	conversion := &Conversion{}
	if err := json.Unmarshal(data, conversion); err != nil {
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to parse result file: %v", err))
	}

	content, err := os.ReadFile(conversion.FilePath)
	if err != nil {
		return nil, faults.New(faults.KindUnknownError, fmt.Sprintf("failed to read conversion artifact: %v", err))
	}
	conversion.Content = content

	return conversion, nil
}

// removeEnv returns env without any entry for the given key
func removeEnv(env []string, key string) []string {
	result := env[:0]
	for _, entry := range env {
		if !strings.HasPrefix(entry, key+"=") {
			result = append(result, entry)
		}
	}
	return result
}
