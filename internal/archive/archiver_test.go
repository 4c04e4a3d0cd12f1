package archive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/storage"
	"github.com/google/uuid"
)

type mockBlobs struct {
	PutFunc    func(ctx context.Context, key string, data []byte, contentType string) error
	DeleteFunc func(ctx context.Context, key string) error
	puts       []string
	deletes    []string
}

func (m *mockBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.puts = append(m.puts, key)
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, data, contentType)
	}
	return nil
}

func (m *mockBlobs) Delete(ctx context.Context, key string) error {
	m.deletes = append(m.deletes, key)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

func (m *mockBlobs) PublicURL(key string) string {
	return "https://cdn.test/analysis-images/" + key
}

type mockRecords struct {
	InsertFunc func(ctx context.Context, rec *models.AnalysisRecord) error
	ListFunc   func(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnalysisRecord, error)
	inserted   []models.AnalysisRecord
}

func (m *mockRecords) Insert(ctx context.Context, rec *models.AnalysisRecord) error {
	if m.InsertFunc != nil {
		if err := m.InsertFunc(ctx, rec); err != nil {
			return err
		}
	}
	rec.ID = uuid.New()
	m.inserted = append(m.inserted, *rec)
	return nil
}

func (m *mockRecords) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
	return m.ListFunc(ctx, userID, limit)
}

func validFace() *models.FaceAnalysis {
	score := 8.5
	return &models.FaceAnalysis{
		IsValidFace:     true,
		HarmonyScore:    &score,
		FeatureAnalysis: []models.FeatureNote{{Feature: "eyes", Analysis: "balanced"}},
		Suggestions:     []string{"hydrate"},
	}
}

func TestArchiver_Save(t *testing.T) {
	t.Parallel()

	userID := uuid.MustParse("7f0c1c2e-9a57-4a38-9d6b-2f4d0d8d1a11")
	at := time.UnixMilli(1719820800123)

	tests := []struct {
		name     string
		result   *models.FaceAnalysis
		image    []byte
		putErr   error
		insErr   error
		validate func(*testing.T, *models.AnalysisRecord, error, *mockBlobs, *mockRecords)
	}{
		{
			name:   "success",
			result: validFace(),
			image:  []byte{0xff, 0xd8, 0xff},
			validate: func(t *testing.T, rec *models.AnalysisRecord, err error, b *mockBlobs, r *mockRecords) {
				if err != nil {
					t.Fatalf("Save() error = %v", err)
				}
				if len(b.deletes) != 0 {
					t.Errorf("deletes = %v, want none", b.deletes)
				}
				want := "7f0c1c2e-9a57-4a38-9d6b-2f4d0d8d1a11/1719820800123.jpeg"
				if rec.ImagePath != want || b.puts[0] != want {
					t.Errorf("path = %q, want %q", rec.ImagePath, want)
				}
				if len(r.inserted) != 1 || *r.inserted[0].HarmonyScore != 8.5 {
					t.Errorf("unexpected inserted rows %+v", r.inserted)
				}
				if !rec.CreatedAt.Equal(at) {
					t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, at)
				}
			},
		},
		{
			name:   "invalid face is not archived",
			result: &models.FaceAnalysis{IsValidFace: false},
			image:  []byte{1},
			validate: func(t *testing.T, _ *models.AnalysisRecord, err error, b *mockBlobs, _ *mockRecords) {
				if !errors.Is(err, ErrNotArchivable) {
					t.Fatalf("error = %v, want ErrNotArchivable", err)
				}
				if len(b.puts) != 0 {
					t.Error("nothing should be uploaded")
				}
			},
		},
		{
			name:   "bucket missing",
			result: validFace(),
			image:  []byte{1},
			putErr: fmt.Errorf("%w: analysis-images", storage.ErrBucketMissing),
			validate: func(t *testing.T, _ *models.AnalysisRecord, err error, _ *mockBlobs, r *mockRecords) {
				var se *StorageError
				if !errors.As(err, &se) || !errors.Is(err, ErrBucketMissing) {
					t.Fatalf("error = %v, want StorageError wrapping ErrBucketMissing", err)
				}
				if len(r.inserted) != 0 {
					t.Error("row must not be written when upload fails")
				}
			},
		},
		{
			name:   "upload failure",
			result: validFace(),
			image:  []byte{1},
			putErr: errors.New("connection reset"),
			validate: func(t *testing.T, _ *models.AnalysisRecord, err error, _ *mockBlobs, _ *mockRecords) {
				if !errors.Is(err, ErrStorage) || errors.Is(err, ErrBucketMissing) {
					t.Fatalf("error = %v, want ErrStorage only", err)
				}
			},
		},
		{
			name:   "insert failure",
			result: validFace(),
			image:  []byte{1},
			insErr: errors.New("relation does not exist"),
			validate: func(t *testing.T, _ *models.AnalysisRecord, err error, b *mockBlobs, _ *mockRecords) {
				if !errors.Is(err, ErrStorage) {
					t.Fatalf("error = %v, want ErrStorage", err)
				}
				if len(b.puts) != 1 {
					t.Error("upload should have happened before the insert")
				}
				if len(b.deletes) != 1 || b.deletes[0] != b.puts[0] {
					t.Errorf("deletes = %v, want the uploaded object %v removed", b.deletes, b.puts)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			blobs := &mockBlobs{PutFunc: func(context.Context, string, []byte, string) error { return tt.putErr }}
			records := &mockRecords{InsertFunc: func(context.Context, *models.AnalysisRecord) error { return tt.insErr }}
			a := NewArchiver(blobs, records, nil)
			a.now = func() time.Time { return at }

			rec, err := a.Save(context.Background(), userID, tt.result, tt.image)
			tt.validate(t, rec, err, blobs, records)
		})
	}
}

func TestArchiver_Save_OrphanCleanupFailureKeepsInsertError(t *testing.T) {
	t.Parallel()

	blobs := &mockBlobs{DeleteFunc: func(context.Context, string) error { return errors.New("access denied") }}
	records := &mockRecords{InsertFunc: func(context.Context, *models.AnalysisRecord) error {
		return errors.New("connection refused")
	}}
	a := NewArchiver(blobs, records, nil)

	_, err := a.Save(context.Background(), uuid.New(), validFace(), []byte{1})
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "insert" {
		t.Fatalf("error = %v, want insert StorageError", err)
	}
	if len(blobs.deletes) != 1 {
		t.Errorf("deletes = %v, want one cleanup attempt", blobs.deletes)
	}
}

func TestArchiver_List(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	records := &mockRecords{ListFunc: func(_ context.Context, id uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
		if id != userID || limit != 5 {
			t.Errorf("ListByUser(%s, %d)", id, limit)
		}
		return []models.AnalysisRecord{
			{ImagePath: userID.String() + "/2.jpeg"},
			{ImagePath: userID.String() + "/1.jpeg"},
		}, nil
	}}
	a := NewArchiver(&mockBlobs{}, records, nil)

	items, err := a.List(context.Background(), userID, 5)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 || items[0].ImageURL != "https://cdn.test/analysis-images/"+userID.String()+"/2.jpeg" {
		t.Errorf("unexpected items %+v", items)
	}

	failing := NewArchiver(&mockBlobs{}, &mockRecords{ListFunc: func(context.Context, uuid.UUID, int) ([]models.AnalysisRecord, error) {
		return nil, errors.New("timeout")
	}}, nil)
	if _, err := failing.List(context.Background(), userID, 5); !errors.Is(err, ErrStorage) {
		t.Errorf("error = %v, want ErrStorage", err)
	}
}

func TestWarningFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "not archivable", err: ErrNotArchivable, want: ""},
		{name: "bucket", err: &StorageError{Op: "upload", Kind: ErrBucketMissing, Err: errors.New("x")}, want: WarningBucketMissing},
		{name: "other", err: &StorageError{Op: "insert", Kind: ErrStorage, Err: errors.New("x")}, want: WarningStorageError},
	}
	for _, tt := range tests {
		w := WarningFor(tt.err)
		got := ""
		if w != nil {
			got = w.Code
		}
		if got != tt.want {
			t.Errorf("%s: WarningFor() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
