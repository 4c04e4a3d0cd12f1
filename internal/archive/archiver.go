// Package archive keeps successful face analyses: the normalized image goes to
// the blob store and the result row goes to analysis_history.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContentType of every archived object.
const ContentType = "image/jpeg"

const cleanupTimeout = 5 * time.Second

// Warning codes attached to a successful response when archiving fails.
const (
	WarningBucketMissing = "storage_bucket_missing"
	WarningStorageError  = "storage_error"
)

var (
	// ErrBucketMissing means the image bucket has not been created.
	ErrBucketMissing = storage.ErrBucketMissing
	// ErrStorage covers every other upload or insert failure.
	ErrStorage = errors.New("archive storage failure")
	// ErrNotArchivable is returned for results that are not kept (no valid face).
	ErrNotArchivable = errors.New("result is not archivable")
)

// StorageError reports which archive step failed.
type StorageError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("archive %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Records is the history table.
type Records interface {
	Insert(ctx context.Context, rec *models.AnalysisRecord) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnalysisRecord, error)
}

// Archiver saves and lists archived analyses.
type Archiver struct {
	blobs   storage.BlobStore
	records Records
	now     func() time.Time
	logger  *zap.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(blobs storage.BlobStore, records Records, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, records: records, now: time.Now, logger: logger}
}

// ObjectPath is the blob key for an image archived at t.
func ObjectPath(userID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("%s/%d.jpeg", userID, t.UnixMilli())
}

// Save uploads image and records result. The row is only written after the
// upload succeeds.
func (a *Archiver) Save(ctx context.Context, userID uuid.UUID, result *models.FaceAnalysis, image []byte) (*models.AnalysisRecord, error) {
	if result == nil || !result.IsValidFace {
		return nil, ErrNotArchivable
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrNotArchivable)
	}

	at := a.now().UTC()
	path := ObjectPath(userID, at)

	if err := a.blobs.Put(ctx, path, image, ContentType); err != nil {
		kind := ErrStorage
		if errors.Is(err, storage.ErrBucketMissing) {
			kind = ErrBucketMissing
		}
		a.logger.Error("archive_upload_failed",
			zap.String("user_id", userID.String()),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &StorageError{Op: "upload", Kind: kind, Err: err}
	}

	rec := &models.AnalysisRecord{
		UserID:          userID,
		HarmonyScore:    result.HarmonyScore,
		FeatureAnalysis: result.FeatureAnalysis,
		Suggestions:     result.Suggestions,
		ImagePath:       path,
		CreatedAt:       at,
	}
	if err := a.records.Insert(ctx, rec); err != nil {
		a.logger.Error("archive_insert_failed",
			zap.String("user_id", userID.String()),
			zap.String("path", path),
			zap.Error(err),
		)
		a.removeOrphan(ctx, userID, path)
		return nil, &StorageError{Op: "insert", Kind: ErrStorage, Err: err}
	}

	a.logger.Info("analysis_archived",
		zap.String("user_id", userID.String()),
		zap.String("record_id", rec.ID.String()),
		zap.String("path", path),
	)
	return rec, nil
}

// removeOrphan deletes an uploaded image whose history row was never written.
func (a *Archiver) removeOrphan(ctx context.Context, userID uuid.UUID, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := a.blobs.Delete(ctx, path); err != nil {
		a.logger.Warn("archive_orphan_cleanup_failed",
			zap.String("user_id", userID.String()),
			zap.String("orphaned_path", path),
			zap.Error(err),
		)
	}
}

// List returns a user's archived analyses newest first, with image URLs resolved.
func (a *Archiver) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.HistoryItem, error) {
	records, err := a.records.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, &StorageError{Op: "list", Kind: ErrStorage, Err: err}
	}
	items := make([]models.HistoryItem, 0, len(records))
	for _, rec := range records {
		items = append(items, models.HistoryItem{
			AnalysisRecord: rec,
			ImageURL:       a.blobs.PublicURL(rec.ImagePath),
		})
	}
	return items, nil
}

// WarningFor converts an archive failure into the warning shown next to a
// successful result. It returns nil for nil or ErrNotArchivable.
func WarningFor(err error) *models.Warning {
	switch {
	case err == nil, errors.Is(err, ErrNotArchivable):
		return nil
	case errors.Is(err, ErrBucketMissing):
		return &models.Warning{
			Code:    WarningBucketMissing,
			Message: "Your analysis is ready, but it could not be saved to history because the image bucket is missing.",
		}
	default:
		return &models.Warning{
			Code:    WarningStorageError,
			Message: "Your analysis is ready, but it could not be saved to history.",
		}
	}
}
