package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
)

func writeAnalyzerScripts(t *testing.T, bpmScript, keyScript string) AnalyzerConfig {
	t.Helper()

	dir := t.TempDir()
	if bpmScript != "" {
		if err := os.WriteFile(filepath.Join(dir, "bpm_analyzer.py"), []byte(bpmScript), 0755); err != nil {
			t.Fatalf("Failed to write bpm script: %v", err)
		}
	}
	if keyScript != "" {
		if err := os.WriteFile(filepath.Join(dir, "key_analyzer.py"), []byte(keyScript), 0755); err != nil {
			t.Fatalf("Failed to write key script: %v", err)
		}
	}

	return AnalyzerConfig{
		Python:    "/bin/sh",
		ScriptDir: dir,
		Timeout:   10 * time.Second,
	}
}

func TestScriptAnalyzer_AnalyzeBPM(t *testing.T) {
	cfg := writeAnalyzerScripts(t, `echo '{"bpm":128.5}'`, "")
	analyzer := NewScriptAnalyzer(logging.NopLogger, cfg)

	bpm, err := analyzer.AnalyzeBPM(context.Background(), "/tmp/track.mp3", 60, 180)
	if err != nil {
		t.Fatalf("AnalyzeBPM failed: %v", err)
	}
	if bpm != 128.5 {
		t.Errorf("Expected BPM 128.5, got %f", bpm)
	}
}

func TestScriptAnalyzer_AnalyzeBPMPassesRange(t *testing.T) {
	// The script echoes its range arguments back as the BPM value.
	cfg := writeAnalyzerScripts(t, `printf '{"bpm":%s%s}' "$2" "$3"`, "")
	analyzer := NewScriptAnalyzer(logging.NopLogger, cfg)

	bpm, err := analyzer.AnalyzeBPM(context.Background(), "/tmp/track.mp3", 7, 5)
	if err != nil {
		t.Fatalf("AnalyzeBPM failed: %v", err)
	}
	if bpm != 75 {
		t.Errorf("Expected range arguments 7 and 5 to reach the tool, got %f", bpm)
	}
}

func TestScriptAnalyzer_AnalyzeKey(t *testing.T) {
	cfg := writeAnalyzerScripts(t, "", `echo '{"key":"A minor"}'`)
	analyzer := NewScriptAnalyzer(logging.NopLogger, cfg)

	key, err := analyzer.AnalyzeKey(context.Background(), "/tmp/track.mp3")
	if err != nil {
		t.Fatalf("AnalyzeKey failed: %v", err)
	}
	if key != "A minor" {
		t.Errorf("Expected key 'A minor', got %q", key)
	}
}

func TestScriptAnalyzer_ToolFailure(t *testing.T) {
	cfg := writeAnalyzerScripts(t, `echo "essentia crashed" 1>&2; exit 1`, `exit 1`)
	analyzer := NewScriptAnalyzer(logging.NopLogger, cfg)

	if _, err := analyzer.AnalyzeBPM(context.Background(), "/tmp/track.mp3", 60, 180); err == nil {
		t.Error("Expected AnalyzeBPM to fail")
	}
	if _, err := analyzer.AnalyzeKey(context.Background(), "/tmp/track.mp3"); err == nil {
		t.Error("Expected AnalyzeKey to fail")
	}
}

func TestScriptAnalyzer_MalformedOutput(t *testing.T) {
	cfg := writeAnalyzerScripts(t, `echo "not json"`, `echo '{"wrong":"shape"}'`)
	analyzer := NewScriptAnalyzer(logging.NopLogger, cfg)

	if _, err := analyzer.AnalyzeBPM(context.Background(), "/tmp/track.mp3", 60, 180); err == nil {
		t.Error("Expected AnalyzeBPM to reject malformed output")
	}
	if _, err := analyzer.AnalyzeKey(context.Background(), "/tmp/track.mp3"); err == nil {
		t.Error("Expected AnalyzeKey to reject output without a key")
	}
}
