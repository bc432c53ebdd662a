// Package inbox turns statements dropped into a GCS prefix into import jobs.
// Objects are named {prefix}{userID}/{file}; a file is deleted once its
// import succeeds.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/gcs"
	"github.com/dvloznov/finance-importer/internal/jobs"
)

// DefaultPrefix is where the worker looks for new statements.
const DefaultPrefix = "inbox/"

// Watcher polls a bucket prefix and publishes one job per new object.
type Watcher struct {
	storage   gcs.StorageService
	publisher jobs.Publisher
	bucket    string
	prefix    string
	log       zerolog.Logger

	mu sync.Mutex
	// queued holds objects with a job in flight or a failed job; they are
	// not published again until the process restarts.
	queued map[string]bool
}

// NewWatcher creates a Watcher. An empty prefix means DefaultPrefix.
func NewWatcher(storage gcs.StorageService, publisher jobs.Publisher, bucket, prefix string, log zerolog.Logger) *Watcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Watcher{
		storage:   storage,
		publisher: publisher,
		bucket:    bucket,
		prefix:    prefix,
		log:       log,
		queued:    make(map[string]bool),
	}
}

// SplitObject returns the owner and file name of an inbox object. ok is false
// for folder placeholders and objects outside a user directory.
func SplitObject(prefix, object string) (userID, fileName string, ok bool) {
	rest, found := strings.CutPrefix(object, prefix)
	if !found || strings.HasSuffix(rest, "/") {
		return "", "", false
	}
	userID, file, found := strings.Cut(rest, "/")
	if !found || userID == "" || file == "" {
		return "", "", false
	}
	return userID, path.Base(file), true
}

// Poll lists the prefix once and publishes jobs for objects not seen before.
// It returns the number of jobs published.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	names, err := w.storage.ListObjects(ctx, w.bucket, w.prefix)
	if err != nil {
		return 0, fmt.Errorf("Poll: listing %s: %w", w.prefix, err)
	}

	published := 0
	for _, name := range names {
		userID, fileName, ok := SplitObject(w.prefix, name)
		if !ok {
			continue
		}
		if !w.claim(name) {
			continue
		}

		job := &jobs.ImportStatementJob{
			UserID:   userID,
			GCSURI:   gcs.URI(w.bucket, name),
			FileName: fileName,
		}
		if err := w.publisher.PublishImportStatement(ctx, job); err != nil {
			w.release(name)
			return published, fmt.Errorf("Poll: publishing %s: %w", name, err)
		}
		w.log.Info().
			Str("job_id", job.JobID).
			Str("user_id", userID).
			Str("object", name).
			Msg("Queued inbox statement")
		published++
	}
	return published, nil
}

func (w *Watcher) claim(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queued[name] {
		return false
	}
	w.queued[name] = true
	return true
}

func (w *Watcher) release(name string) {
	w.mu.Lock()
	delete(w.queued, name)
	w.mu.Unlock()
}

// Handler wraps next so a successfully imported object is removed from the
// inbox. Failed objects stay where they are for inspection.
func (w *Watcher) Handler(next jobs.JobHandler) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		if err := next(ctx, job); err != nil {
			return err
		}
		j, ok := job.(*jobs.ImportStatementJob)
		if !ok {
			return nil
		}
		bucket, object, err := gcs.ParseURI(j.GCSURI)
		if err != nil || bucket != w.bucket || !strings.HasPrefix(object, w.prefix) {
			return nil
		}
		if err := w.storage.DeleteObject(ctx, bucket, object); err != nil {
			// The import is stored; a leftover object is only re-queued on restart
			// and then skipped as a duplicate.
			w.log.Warn().Err(err).Str("object", object).Msg("Failed to remove imported statement")
			return nil
		}
		w.release(object)
		return nil
	}
}

// Run polls every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("Inbox poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
