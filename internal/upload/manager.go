// Package upload assembles files sent in numbered chunks.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Limits.
const (
	MaxChunks  = 1000
	SessionTTL = time.Hour

	fetchConcurrency = 8
)

var (
	// ErrSessionNotFound means the upload id is unknown, expired or owned by another user.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrIncomplete means Finalize was called before every chunk arrived.
	ErrIncomplete = errors.New("upload incomplete")
	// ErrInvalidChunk means the chunk headers or body are malformed.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrTooLarge means the chunks of one upload add up to more than the size limit.
	ErrTooLarge = errors.New("upload too large")
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Chunk is one piece of an upload.
type Chunk struct {
	// UploadID may be empty on chunk 0; a new id is assigned.
	UploadID    string
	UserID      string
	Index       int
	Total       int
	FileName    string
	ContentType string
	Data        []byte
}

// Status reports the progress of an upload session.
type Status struct {
	UploadID string `json:"uploadId"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
	Complete bool   `json:"complete"`
}

// File is an assembled upload.
type File struct {
	FileName    string
	ContentType string
	Data        []byte
}

type session struct {
	userID      string
	fileName    string
	contentType string
	total       int
	sizes       map[int]int64 // byte length of each chunk received
	bytes       int64
	finalizing  bool
	createdAt   time.Time
}

// Manager tracks upload sessions. Chunk bytes live in a ChunkStore.
type Manager struct {
	store    ChunkStore
	log      zerolog.Logger
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a Manager backed by store. Uploads whose chunks add up
// to more than maxBytes are rejected; zero disables the limit.
func NewManager(store ChunkStore, maxBytes int64, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		log:      log,
		maxBytes: maxBytes,
		ttl:      SessionTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (c Chunk) validate() error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidChunk)
	case c.UploadID != "" && !uploadIDPattern.MatchString(c.UploadID):
		return fmt.Errorf("%w: malformed upload id", ErrInvalidChunk)
	case c.Total < 1 || c.Total > MaxChunks:
		return fmt.Errorf("%w: total chunks must be between 1 and %d", ErrInvalidChunk, MaxChunks)
	case c.Index < 0 || c.Index >= c.Total:
		return fmt.Errorf("%w: chunk index %d out of range 0..%d", ErrInvalidChunk, c.Index, c.Total-1)
	case len(c.Data) == 0:
		return fmt.Errorf("%w: chunk %d is empty", ErrInvalidChunk, c.Index)
	}
	return nil
}

// UploadChunk stores one chunk. Re-sending a chunk replaces it.
func (m *Manager) UploadChunk(ctx context.Context, c Chunk) (*Status, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.UploadID == "" {
		if c.Index != 0 {
			return nil, fmt.Errorf("%w: upload id is required after chunk 0", ErrInvalidChunk)
		}
		c.UploadID = uuid.NewString()
	}

	size := int64(len(c.Data))
	if m.maxBytes > 0 && size > m.maxBytes {
		return nil, fmt.Errorf("UploadChunk: chunk %d: %w", c.Index, ErrTooLarge)
	}

	m.mu.Lock()
	s, ok := m.sessions[c.UploadID]
	switch {
	case !ok:
		s = &session{
			userID:    c.UserID,
			total:     c.Total,
			sizes:     make(map[int]int64),
			createdAt: m.now(),
		}
		m.sessions[c.UploadID] = s
	case s.userID != c.UserID:
		m.mu.Unlock()
		return nil, fmt.Errorf("UploadChunk: %s: %w", c.UploadID, ErrSessionNotFound)
	case s.finalizing:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: upload %s is being assembled", ErrInvalidChunk, c.UploadID)
	case s.total != c.Total:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: total chunks changed from %d to %d", ErrInvalidChunk, s.total, c.Total)
	}
	prev, resent := s.sizes[c.Index]
	if m.maxBytes > 0 && s.bytes-prev+size > m.maxBytes {
		m.mu.Unlock()
		return nil, fmt.Errorf("UploadChunk: %s: %d bytes over a limit of %d: %w",
			c.UploadID, s.bytes-prev+size, m.maxBytes, ErrTooLarge)
	}
	// Reserve the bytes now so concurrent chunks cannot overshoot the limit.
	s.bytes += size - prev
	s.sizes[c.Index] = size
	if c.FileName != "" && (c.Index == 0 || s.fileName == "") {
		s.fileName = c.FileName
	}
	if c.ContentType != "" && (c.Index == 0 || s.contentType == "") {
		s.contentType = c.ContentType
	}
	m.mu.Unlock()

	if err := m.store.PutChunk(ctx, c.UploadID, c.Index, c.Data); err != nil {
		m.mu.Lock()
		if m.sessions[c.UploadID] == s && s.sizes[c.Index] == size {
			s.bytes -= size
			delete(s.sizes, c.Index)
			if resent {
				s.bytes += prev
				s.sizes[c.Index] = prev
			}
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("UploadChunk: storing chunk %d: %w", c.Index, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The session may have been cancelled or swept while the chunk was stored.
	if m.sessions[c.UploadID] != s {
		return nil, fmt.Errorf("UploadChunk: %s: %w", c.UploadID, ErrSessionNotFound)
	}

	m.log.Debug().
		Str("upload_id", c.UploadID).
		Int("chunk", c.Index).
		Int("received", len(s.sizes)).
		Int("total", s.total).
		Int64("bytes", s.bytes).
		Msg("Stored upload chunk")

	return &Status{
		UploadID: c.UploadID,
		Received: len(s.sizes),
		Total:    s.total,
		Complete: len(s.sizes) == s.total,
	}, nil
}

// Finalize assembles the chunks in index order and ends the session. The
// session and its chunks are kept when assembly fails so the caller can retry.
func (m *Manager) Finalize(ctx context.Context, userID, uploadID string) (*File, error) {
	m.mu.Lock()
	s, ok := m.sessions[uploadID]
	if !ok || s.userID != userID || s.finalizing {
		m.mu.Unlock()
		return nil, fmt.Errorf("Finalize: %s: %w", uploadID, ErrSessionNotFound)
	}
	if len(s.sizes) != s.total {
		received, total := len(s.sizes), s.total
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d/%d chunks received", ErrIncomplete, received, total)
	}
	s.finalizing = true
	m.mu.Unlock()

	data, err := m.assemble(ctx, uploadID, s.total)
	if err != nil {
		m.mu.Lock()
		s.finalizing = false
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	if m.sessions[uploadID] == s {
		delete(m.sessions, uploadID)
	}
	m.mu.Unlock()
	m.discard(ctx, uploadID)

	m.log.Info().
		Str("upload_id", uploadID).
		Int("chunks", s.total).
		Int("bytes", len(data)).
		Str("file", s.fileName).
		Msg("Upload assembled")

	return &File{
		FileName:    s.fileName,
		ContentType: s.contentType,
		Data:        data,
	}, nil
}

// assemble fetches every chunk and joins them. The running size is checked
// against the limit again since the store may hold other bytes than were sent.
func (m *Manager) assemble(ctx context.Context, uploadID string, total int) ([]byte, error) {
	parts := make([][]byte, total)
	var (
		mu   sync.Mutex
		size int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range parts {
		g.Go(func() error {
			data, err := m.store.GetChunk(gctx, uploadID, i)
			if err != nil {
				return err
			}
			mu.Lock()
			size += int64(len(data))
			over := m.maxBytes > 0 && size > m.maxBytes
			mu.Unlock()
			if over {
				return fmt.Errorf("%s: more than %d bytes: %w", uploadID, m.maxBytes, ErrTooLarge)
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Finalize: reading chunks: %w", err)
	}
	return bytes.Join(parts, nil), nil
}

// Cancel drops an upload session and its chunks.
func (m *Manager) Cancel(ctx context.Context, userID, uploadID string) error {
	m.mu.Lock()
	s, ok := m.sessions[uploadID]
	if !ok || s.userID != userID {
		m.mu.Unlock()
		return fmt.Errorf("Cancel: %s: %w", uploadID, ErrSessionNotFound)
	}
	delete(m.sessions, uploadID)
	m.mu.Unlock()

	m.discard(ctx, uploadID)
	return nil
}

// CleanupExpired drops sessions older than the TTL and returns how many it removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.createdAt.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.discard(ctx, id)
	}
	if len(expired) > 0 {
		m.log.Info().Int("sessions", len(expired)).Msg("Removed expired uploads")
	}
	return len(expired)
}

// RunSweeper calls CleanupExpired every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired(ctx)
		}
	}
}

func (m *Manager) discard(ctx context.Context, uploadID string) {
	if err := m.store.DeleteUpload(context.WithoutCancel(ctx), uploadID); err != nil {
		m.log.Warn().Err(err).Str("upload_id", uploadID).Msg("Failed to delete upload chunks")
	}
}
