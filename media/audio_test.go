package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixloft/mixloft-server/ccc/logging"
)

// fakeProber is a scripted Prober for tests
type fakeProber struct {
	audioInfo  *AudioInfo
	audioErr   error
	imageInfo  *ImageInfo
	imageErr   error
	audioCalls int
	imageCalls int
}

func (f *fakeProber) ProbeAudio(path string) (*AudioInfo, error) {
	f.audioCalls++
	return f.audioInfo, f.audioErr
}

func (f *fakeProber) ProbeImage(path string) (*ImageInfo, error) {
	f.imageCalls++
	return f.imageInfo, f.imageErr
}

func defaultAudioLimits() AudioLimits {
	return AudioLimits{
		MaxFileSize:  10 * 1024 * 1024,
		MaxDuration:  15 * time.Minute,
		AllowedTypes: []string{"mp3", "wav", "ogg"},
	}
}

func validAudioInfo() *AudioInfo {
	return &AudioInfo{
		Duration:   3 * time.Minute,
		Codec:      "mp3",
		Container:  "mp3",
		SampleRate: 44100,
		Channels:   2,
	}
}

// writeTestFile creates a file with the given name and size in a temp dir
func writeTestFile(t *testing.T, name string, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestAudioValidator_ValidFile(t *testing.T) {
	prober := &fakeProber{audioInfo: validAudioInfo()}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	path := writeTestFile(t, "song.mp3", 1024)

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("ValidateAudio failed: %v", err)
	}

	if !result.Valid {
		t.Fatalf("Expected valid, got invalid: %s", result.Reason)
	}
	if result.Metadata == nil {
		t.Fatal("Expected metadata on valid result")
	}
	if result.Metadata.Duration != 3*time.Minute {
		t.Errorf("Expected duration 3m, got %v", result.Metadata.Duration)
	}
	if result.Metadata.Format != "mp3" {
		t.Errorf("Expected format mp3, got %s", result.Metadata.Format)
	}
	if result.Metadata.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", result.Metadata.SampleRate)
	}
	if result.Metadata.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", result.Metadata.Channels)
	}
}

func TestAudioValidator_OversizedFileFailsBeforeProbe(t *testing.T) {
	prober := &fakeProber{audioInfo: validAudioInfo()}
	limits := defaultAudioLimits()
	limits.MaxFileSize = 512
	validator := NewAudioValidator(logging.NopLogger, prober, limits)

	path := writeTestFile(t, "song.mp3", 1024)

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("ValidateAudio failed: %v", err)
	}

	if result.Valid {
		t.Fatal("Expected oversized file to be invalid")
	}
	if prober.audioCalls != 0 {
		t.Errorf("Expected no probe calls for oversized file, got %d", prober.audioCalls)
	}
}

func TestAudioValidator_UnsupportedFormat(t *testing.T) {
	prober := &fakeProber{audioInfo: validAudioInfo()}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just some text"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("ValidateAudio failed: %v", err)
	}

	if result.Valid {
		t.Fatal("Expected unsupported format to be invalid")
	}
	if prober.audioCalls != 0 {
		t.Errorf("Expected no probe calls for unsupported format, got %d", prober.audioCalls)
	}
}

func TestAudioValidator_MimeFallbackForMisnamedFile(t *testing.T) {
	prober := &fakeProber{audioInfo: validAudioInfo()}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	// An MP3 with an unhelpful extension: the ID3 magic identifies it.
	path := filepath.Join(t.TempDir(), "upload.bin")
	content := append([]byte("ID3"), make([]byte, 64)...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("ValidateAudio failed: %v", err)
	}

	if !result.Valid {
		t.Fatalf("Expected MIME fallback to accept the file, got: %s", result.Reason)
	}
	if result.Metadata.Format != "mp3" {
		t.Errorf("Expected detected format mp3, got %s", result.Metadata.Format)
	}
}

func TestAudioValidator_DurationExceedsCeiling(t *testing.T) {
	info := validAudioInfo()
	info.Duration = 20 * time.Minute
	prober := &fakeProber{audioInfo: info}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	path := writeTestFile(t, "long.mp3", 1024)

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("ValidateAudio failed: %v", err)
	}

	if result.Valid {
		t.Fatal("Expected over-length audio to be invalid")
	}
}

func TestAudioValidator_MissingStreamDataIsCorrupt(t *testing.T) {
	tests := []struct {
		name string
		info *AudioInfo
	}{
		{"no sample rate", &AudioInfo{Duration: time.Minute, Channels: 2}},
		{"no channels", &AudioInfo{Duration: time.Minute, SampleRate: 44100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{audioInfo: tt.info}
			validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

			path := writeTestFile(t, "corrupt.mp3", 1024)

			result, err := validator.ValidateAudio(path)
			if err != nil {
				t.Fatalf("ValidateAudio failed: %v", err)
			}
			if result.Valid {
				t.Error("Expected corrupt audio to be invalid")
			}
		})
	}
}

func TestAudioValidator_ProbeFailureIsValidationFailure(t *testing.T) {
	prober := &fakeProber{audioErr: os.ErrInvalid}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	path := writeTestFile(t, "broken.mp3", 1024)

	result, err := validator.ValidateAudio(path)
	if err != nil {
		t.Fatalf("Expected probe failure to be a validation outcome, got error: %v", err)
	}
	if result.Valid {
		t.Error("Expected unparseable file to be invalid")
	}
}

func TestAudioValidator_MissingFileIsError(t *testing.T) {
	prober := &fakeProber{audioInfo: validAudioInfo()}
	validator := NewAudioValidator(logging.NopLogger, prober, defaultAudioLimits())

	if _, err := validator.ValidateAudio(filepath.Join(t.TempDir(), "gone.mp3")); err == nil {
		t.Error("Expected I/O error for missing file")
	}
}
