package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
)

// Category identifies the kind of media an upload finalizes into. Each
// category has its own permanent key layout.
type Category string

const (
	CategoryTrack          Category = "track"
	CategoryTrackCover     Category = "track_cover"
	CategoryProfilePicture Category = "profile_picture"
	CategoryAlbumCover     Category = "album_cover"
)

// folder returns the permanent key prefix for the category
func (c Category) folder() (string, error) {
	switch c {
	case CategoryTrack:
		return "tracks", nil
	case CategoryTrackCover:
		return "covers", nil
	case CategoryProfilePicture:
		return "profiles", nil
	case CategoryAlbumCover:
		return "albums", nil
	default:
		return "", fmt.Errorf("unsupported category: %s", c)
	}
}

const stagingFolder = "staging"

// PresignedUpload is a grant allowing a client to upload directly to a
// staging key
type PresignedUpload struct {
	Key       string `json:"key"`
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

// FinalizedObject is the result of moving a staged object to its permanent key
type FinalizedObject struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// StagedObjectService manages the lifecycle of staged uploads: presigned
// grants into the staging prefix, downloads to local temp files, and the
// copy-then-delete finalize-move into a permanent key. Cleanup of staged
// objects that are never finalized belongs to the orchestrator, not here.
type StagedObjectService interface {
	// GetPresignedUploadURL creates a staging key for the file and returns
	// an upload grant for it
	GetPresignedUploadURL(ctx context.Context, ownerID, fileName string) (*PresignedUpload, error)

	// DownloadToTemp streams a staged object into a uniquely named local
	// temp file and returns its path. The caller owns the file and must
	// delete it.
	DownloadToTemp(ctx context.Context, key string) (string, error)

	// Finalize verifies the staging object exists, copies it to its
	// permanent key for the category, deletes the staging key, and returns
	// the permanent location. Finalizing a missing or already-consumed
	// staging key yields a STORAGE_ERROR.
	Finalize(ctx context.Context, category Category, stagingKey, ownerID, entityID string) (*FinalizedObject, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// PublicURL returns the public URL an object at the given key is
	// served from
	PublicURL(key string) string

	// KeyFromPublicURL recovers the storage key from a public URL
	KeyFromPublicURL(publicURL string) string
}

type stagedObjectService struct {
	logger        logging.Logger
	store         ObjectStore
	publicBaseURL string
	tempDir       string
	presignExpiry time.Duration
	now           func() time.Time
}

// NewStagedObjectService creates a staged-object service over the given
// object store
func NewStagedObjectService(logger logging.Logger, store ObjectStore, publicBaseURL, tempDir string) StagedObjectService {
	if logger == nil {
		logger = logging.NopLogger
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &stagedObjectService{
		logger:        logger,
		store:         store,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		tempDir:       tempDir,
		presignExpiry: time.Hour,
		now:           time.Now,
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// sanitizeFileName replaces characters that are unsafe in storage keys
func sanitizeFileName(fileName string) string {
	return unsafeKeyChars.ReplaceAllString(fileName, "_")
}

// generateKey builds a collision-resistant key under the given folder
func (s *stagedObjectService) generateKey(folder, ownerID, fileName string) string {
	timestamp := s.now().UnixMilli()
	return fmt.Sprintf("%s/%s/%d-%s", folder, ownerID, timestamp, sanitizeFileName(fileName))
}

// GetPresignedUploadURL creates a staging key and an upload grant for it
func (s *stagedObjectService) GetPresignedUploadURL(ctx context.Context, ownerID, fileName string) (*PresignedUpload, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	key := s.generateKey(stagingFolder, ownerID, fileName)

	uploadURL, err := s.store.PresignPut(ctx, key, ContentTypeForFile(fileName), s.presignExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload URL: %w", err)
	}

	return &PresignedUpload{
		Key:       key,
		UploadURL: uploadURL,
		PublicURL: s.PublicURL(key),
	}, nil
}

// DownloadToTemp streams a staged object into a uniquely named temp file
func (s *stagedObjectService) DownloadToTemp(ctx context.Context, key string) (string, error) {
	tempPath := filepath.Join(s.tempDir, fmt.Sprintf("staged_%s_%s", uuid.New().String(), path.Base(key)))

	if err := s.store.DownloadToFile(ctx, key, tempPath); err != nil {
		// The backend may have created a partial file before failing.
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to download staged object %s: %w", key, err)
	}

	return tempPath, nil
}

// Finalize moves a staged object to its permanent key via copy-then-delete.
// The storage API offers no atomic rename.
func (s *stagedObjectService) Finalize(ctx context.Context, category Category, stagingKey, ownerID, entityID string) (*FinalizedObject, error) {
	folder, err := category.folder()
	if err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(ctx, stagingKey)
	if err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to check staging object %s: %w", stagingKey, err))
	}
	if !exists {
		return nil, faults.New(faults.KindStorageError, fmt.Sprintf("staging object not found: %s", stagingKey))
	}

	fileName := path.Base(stagingKey)
	var permanentKey string
	if entityID != "" {
		permanentKey = fmt.Sprintf("%s/%s/%d-%s-%s", folder, ownerID, s.now().UnixMilli(), entityID, fileName)
	} else {
		permanentKey = fmt.Sprintf("%s/%s/%d-%s", folder, ownerID, s.now().UnixMilli(), fileName)
	}

	if err := s.store.Copy(ctx, stagingKey, permanentKey); err != nil {
		return nil, faults.Wrap(faults.KindStorageError, fmt.Errorf("failed to move %s: %w", stagingKey, err))
	}

	if err := s.store.Delete(ctx, stagingKey); err != nil {
		// The copy succeeded; an orphaned staging object is recoverable,
		// a missing permanent object is not.
		s.logger.Warn("failed to delete staging key after copy", "key", stagingKey, "error", err)
	}

	s.logger.Info("finalized staged object", "staging_key", stagingKey, "key", permanentKey)

	return &FinalizedObject{
		Key: permanentKey,
		URL: s.PublicURL(permanentKey),
	}, nil
}

// Delete removes an object
func (s *stagedObjectService) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// PublicURL returns the public URL for a key
func (s *stagedObjectService) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

// KeyFromPublicURL recovers the storage key from a public URL
func (s *stagedObjectService) KeyFromPublicURL(publicURL string) string {
	return strings.TrimPrefix(strings.TrimPrefix(publicURL, s.publicBaseURL), "/")
}

// ContentTypeForFile infers a content type from the file extension
func ContentTypeForFile(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/x-m4a"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
