package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/convert"
	"github.com/mixloft/mixloft-server/jobs"
	"github.com/mixloft/mixloft-server/media"
	"github.com/mixloft/mixloft-server/storage"
	"github.com/mixloft/mixloft-server/tracks"
	"github.com/mixloft/mixloft-server/users"
)

// newTestJob wraps a payload in a claimed job for direct processor calls
func newTestJob(t *testing.T, queue string, payload any) *jobs.Job {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}

	return &jobs.Job{
		ID:      "test-job-1",
		Queue:   queue,
		Payload: data,
		State:   jobs.StateActive,
	}
}

// enqueuedJob records one Enqueue call on the fake job store
type enqueuedJob struct {
	queue   string
	payload any
	opts    jobs.EnqueueOptions
}

// fakeJobStore records progress reports and enqueues
type fakeJobStore struct {
	progress []float64
	labels   []string
	enqueued []enqueuedJob
}

func (s *fakeJobStore) Enqueue(ctx context.Context, queue string, payload any, opts jobs.EnqueueOptions) (string, error) {
	s.enqueued = append(s.enqueued, enqueuedJob{queue: queue, payload: payload, opts: opts})
	return fmt.Sprintf("enqueued-%d", len(s.enqueued)), nil
}

func (s *fakeJobStore) Claim(ctx context.Context, queue string) (*jobs.Job, error) { return nil, nil }

func (s *fakeJobStore) SetProgress(ctx context.Context, id string, value float64) error {
	s.progress = append(s.progress, value)
	return nil
}

func (s *fakeJobStore) SetProgressLabel(ctx context.Context, id string, label string) error {
	s.labels = append(s.labels, label)
	return nil
}

func (s *fakeJobStore) Complete(ctx context.Context, id string, result any) error { return nil }

func (s *fakeJobStore) Fail(ctx context.Context, id string, kind faults.Kind, message string) error {
	return nil
}

func (s *fakeJobStore) Remove(ctx context.Context, id string) error { return nil }

func (s *fakeJobStore) Get(ctx context.Context, id string) (*jobs.Job, error) { return nil, nil }

// fakeStaged is an in-memory StagedObjectService double. Objects live in a
// map keyed by storage key; Finalize moves them under a permanent prefix.
type fakeStaged struct {
	objects     map[string][]byte
	finalizeErr map[string]error
	downloadErr map[string]error
	deleteErr   map[string]error
	deleted     []string
	tempDir     string
}

func newFakeStaged(t *testing.T) *fakeStaged {
	t.Helper()
	return &fakeStaged{
		objects:     make(map[string][]byte),
		finalizeErr: make(map[string]error),
		downloadErr: make(map[string]error),
		deleteErr:   make(map[string]error),
		tempDir:     t.TempDir(),
	}
}

const fakePublicBase = "https://cdn.test"

func (f *fakeStaged) GetPresignedUploadURL(ctx context.Context, ownerID, fileName string) (*storage.PresignedUpload, error) {
	key := "staging/" + ownerID + "/" + fileName
	return &storage.PresignedUpload{Key: key, UploadURL: fakePublicBase + "/upload/" + key, PublicURL: f.PublicURL(key)}, nil
}

func (f *fakeStaged) DownloadToTemp(ctx context.Context, key string) (string, error) {
	if err := f.downloadErr[key]; err != nil {
		return "", err
	}
	content, ok := f.objects[key]
	if !ok {
		return "", faults.New(faults.KindStorageError, "Staging file not found")
	}

	path := filepath.Join(f.tempDir, fmt.Sprintf("dl_%d_%s", len(f.deleted), filepath.Base(key)))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeStaged) Finalize(ctx context.Context, category storage.Category, stagingKey, ownerID, entityID string) (*storage.FinalizedObject, error) {
	if err := f.finalizeErr[stagingKey]; err != nil {
		return nil, err
	}
	content, ok := f.objects[stagingKey]
	if !ok {
		return nil, faults.New(faults.KindStorageError, "Staging file not found")
	}

	key := fmt.Sprintf("%s/%s/%s-%s", category, ownerID, entityID, filepath.Base(stagingKey))
	f.objects[key] = content
	delete(f.objects, stagingKey)

	return &storage.FinalizedObject{Key: key, URL: f.PublicURL(key)}, nil
}

func (f *fakeStaged) Delete(ctx context.Context, key string) error {
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStaged) PublicURL(key string) string {
	return fakePublicBase + "/" + key
}

func (f *fakeStaged) KeyFromPublicURL(publicURL string) string {
	return strings.TrimPrefix(publicURL, fakePublicBase+"/")
}

func (f *fakeStaged) wasDeleted(key string) bool {
	for _, deleted := range f.deleted {
		if deleted == key {
			return true
		}
	}
	return false
}

// fakeAudioValidator returns a fixed validation outcome
type fakeAudioValidator struct {
	validation *media.AudioValidation
	err        error
	calls      int
}

func (f *fakeAudioValidator) ValidateAudio(path string) (*media.AudioValidation, error) {
	f.calls++
	return f.validation, f.err
}

func validAudio() *media.AudioValidation {
	return &media.AudioValidation{
		Valid: true,
		Metadata: &media.AudioMetadata{
			Duration:   185 * time.Second,
			Format:     "mp3",
			Codec:      "mp3",
			SampleRate: 44100,
			Channels:   2,
		},
	}
}

// fakeImageValidator returns a fixed validation outcome
type fakeImageValidator struct {
	validation *media.ImageValidation
	err        error
	calls      int
}

func (f *fakeImageValidator) ValidateImage(path string) (*media.ImageValidation, error) {
	f.calls++
	return f.validation, f.err
}

func validImage() *media.ImageValidation {
	return &media.ImageValidation{
		Valid:    true,
		Metadata: &media.ImageMetadata{Width: 800, Height: 800, Format: "jpg", Size: 2048},
	}
}

// fakeTrackRepo is an in-memory TrackRepository double with injectable
// update failures
type fakeTrackRepo struct {
	byID          map[string]*tracks.Track
	updateURLErr  error
	updateImgErr  error
	addCalls      int
	deletedTracks []string
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{byID: make(map[string]*tracks.Track)}
}

func (f *fakeTrackRepo) GetByID(ctx context.Context, id string) (*tracks.Track, error) {
	return f.byID[id], nil
}

func (f *fakeTrackRepo) GetByCreator(ctx context.Context, creatorID string) ([]*tracks.Track, error) {
	var result []*tracks.Track
	for _, track := range f.byID {
		if track.CreatorID == creatorID {
			result = append(result, track)
		}
	}
	return result, nil
}

func (f *fakeTrackRepo) Add(ctx context.Context, track *tracks.Track) error {
	f.addCalls++
	f.byID[track.ID] = track
	return nil
}

func (f *fakeTrackRepo) UpdateURL(ctx context.Context, id, url string) error {
	if f.updateURLErr != nil {
		return f.updateURLErr
	}
	if track, ok := f.byID[id]; ok {
		track.URL = url
	}
	return nil
}

func (f *fakeTrackRepo) UpdateImageURL(ctx context.Context, id, imageURL string) error {
	if f.updateImgErr != nil {
		return f.updateImgErr
	}
	if track, ok := f.byID[id]; ok {
		track.ImageURL = imageURL
	}
	return nil
}

func (f *fakeTrackRepo) Delete(ctx context.Context, id string) error {
	delete(f.byID, id)
	f.deletedTracks = append(f.deletedTracks, id)
	return nil
}

// fakeUserRepo is an in-memory UserRepository double
type fakeUserRepo struct {
	byID      map[string]*users.User
	updateErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*users.User)}
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) Add(ctx context.Context, user *users.User) error {
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdateProfilePicture(ctx context.Context, id, pictureURL string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if user, ok := f.byID[id]; ok {
		user.ProfilePictureURL = pictureURL
	}
	return nil
}

// conversionAttempt scripts one Convert call on the fake converter
type conversionAttempt struct {
	conversion *convert.Conversion
	err        error
}

// fakeConverter replays scripted attempts and records the proxy flag of each
type fakeConverter struct {
	attempts   []conversionAttempt
	proxyFlags []bool
}

func (f *fakeConverter) Convert(ctx context.Context, sourceURL, format string, useProxy bool, onProgress func(float64)) (*convert.Conversion, error) {
	f.proxyFlags = append(f.proxyFlags, useProxy)
	if len(f.attempts) == 0 {
		return nil, faults.New(faults.KindUnknownError, "no scripted attempt left")
	}

	attempt := f.attempts[0]
	f.attempts = f.attempts[1:]
	if onProgress != nil && attempt.err == nil {
		onProgress(50)
		onProgress(99)
	}
	return attempt.conversion, attempt.err
}

// fakeAnalyzer returns fixed analysis outcomes
type fakeAnalyzer struct {
	bpm    float64
	key    string
	bpmErr error
	keyErr error

	gotMin, gotMax int
}

func (f *fakeAnalyzer) AnalyzeBPM(ctx context.Context, path string, minBPM, maxBPM int) (float64, error) {
	f.gotMin, f.gotMax = minBPM, maxBPM
	return f.bpm, f.bpmErr
}

func (f *fakeAnalyzer) AnalyzeKey(ctx context.Context, path string) (string, error) {
	return f.key, f.keyErr
}
