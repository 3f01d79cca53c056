package processing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mixloft/mixloft-server/ccc/db"
	"github.com/mixloft/mixloft-server/jobs"
)

// TestTrackUpload_EndToEnd runs a track upload through the real job store
// and registry: enqueue, claim, saga, completion, staging cleanup.
func TestTrackUpload_EndToEnd(t *testing.T) {
	testDB, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	defer testDB.Close()

	store, err := jobs.NewSQLiteStore(testDB, 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed to create job store: %v", err)
	}

	staged := newFakeStaged(t)
	audio := &fakeAudioValidator{validation: validAudio()}
	image := &fakeImageValidator{validation: validImage()}
	repo := newFakeTrackRepo()
	processor := NewTrackUploadProcessor(nil, store, staged, audio, image, repo)

	registry := jobs.NewRegistry(nil, store, 10*time.Millisecond)
	if err := registry.Register(QueueTrackUploads, processor, 1); err != nil {
		t.Fatalf("Failed to register processor: %v", err)
	}
	registry.Start(context.Background())
	defer registry.Stop()

	payload := trackUploadPayload(true)
	staged.objects[payload.StagedTrack.Key] = []byte("audio-bytes")
	staged.objects[payload.StagedCover.Key] = []byte("image-bytes")

	enqueuer := NewEnqueuer(store)
	jobID, err := enqueuer.EnqueueTrackUpload(context.Background(), payload)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	var final *jobs.Job
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if job != nil && job.State.IsTerminal() {
			final = job
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final == nil {
		t.Fatal("Job did not reach a terminal state")
	}

	if final.State != jobs.StateCompleted {
		t.Fatalf("Expected completed, got %s (%s: %s)", final.State, final.ErrorKind, final.ErrorMessage)
	}

	var result TrackUploadResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.URL == "" || result.ImageURL == "" {
		t.Errorf("Expected finalized URLs in the result, got %+v", result)
	}

	// Both staging keys are confirmed gone.
	if _, exists := staged.objects[payload.StagedTrack.Key]; exists {
		t.Error("Expected staged track to be gone")
	}
	if _, exists := staged.objects[payload.StagedCover.Key]; exists {
		t.Error("Expected staged cover to be gone")
	}

	// The status surface shows the external state set.
	status := jobs.StatusOf(final)
	if status.State != jobs.StateCompleted {
		t.Errorf("Expected status completed, got %s", status.State)
	}
	if status.Progress != 100 {
		t.Errorf("Expected progress 100, got %f", status.Progress)
	}
}
