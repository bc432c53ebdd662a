package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/finance-importer/internal/gcs"
)

// ChunkStore holds the bytes of in-flight uploads.
type ChunkStore interface {
	PutChunk(ctx context.Context, uploadID string, index int, data []byte) error
	GetChunk(ctx context.Context, uploadID string, index int) ([]byte, error)
	// DeleteUpload removes every chunk of uploadID.
	DeleteUpload(ctx context.Context, uploadID string) error
}

// MemoryStore keeps chunks in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]map[int][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]map[int][]byte)}
}

// PutChunk implements ChunkStore.
func (s *MemoryStore) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.chunks[uploadID]
	if !ok {
		m = make(map[int][]byte)
		s.chunks[uploadID] = m
	}
	m[index] = append([]byte(nil), data...)
	return nil
}

// GetChunk implements ChunkStore.
func (s *MemoryStore) GetChunk(ctx context.Context, uploadID string, index int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.chunks[uploadID][index]
	if !ok {
		return nil, fmt.Errorf("GetChunk: chunk %d of %s: %w", index, uploadID, ErrSessionNotFound)
	}
	return data, nil
}

// DeleteUpload implements ChunkStore.
func (s *MemoryStore) DeleteUpload(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, uploadID)
	return nil
}

// GCSStore keeps chunks as objects named uploads/{uploadID}/{index:05d}.
type GCSStore struct {
	storage gcs.StorageService
	bucket  string
}

// NewGCSStore creates a GCSStore writing to bucket.
func NewGCSStore(storage gcs.StorageService, bucket string) *GCSStore {
	return &GCSStore{storage: storage, bucket: bucket}
}

func uploadPrefix(uploadID string) string {
	return "uploads/" + uploadID + "/"
}

func chunkObject(uploadID string, index int) string {
	return fmt.Sprintf("%s%05d", uploadPrefix(uploadID), index)
}

// PutChunk implements ChunkStore.
func (s *GCSStore) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	if err := s.storage.UploadBytes(ctx, s.bucket, chunkObject(uploadID, index), data); err != nil {
		return fmt.Errorf("PutChunk: %w", err)
	}
	return nil
}

// GetChunk implements ChunkStore.
func (s *GCSStore) GetChunk(ctx context.Context, uploadID string, index int) ([]byte, error) {
	data, err := s.storage.FetchFromGCS(ctx, gcs.URI(s.bucket, chunkObject(uploadID, index)))
	if err != nil {
		return nil, fmt.Errorf("GetChunk: %w", err)
	}
	return data, nil
}

// DeleteUpload implements ChunkStore.
func (s *GCSStore) DeleteUpload(ctx context.Context, uploadID string) error {
	names, err := s.storage.ListObjects(ctx, s.bucket, uploadPrefix(uploadID))
	if err != nil {
		return fmt.Errorf("DeleteUpload: %w", err)
	}
	var failed []string
	for _, name := range names {
		if err := s.storage.DeleteObject(ctx, s.bucket, name); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("DeleteUpload: could not delete %s", strings.Join(failed, ", "))
	}
	return nil
}

var (
	_ ChunkStore = (*MemoryStore)(nil)
	_ ChunkStore = (*GCSStore)(nil)
)
