package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/storage"
)

// DefaultConcurrency is the number of upload workers when none is configured.
const DefaultConcurrency = 4

// Upload outcome labels passed to Metrics.
const (
	OutcomeUploaded = "uploaded"
	OutcomeFailed   = "failed"
)

// FileUploadError aborts a whole upload pass because the destination
// cannot be reached.
type FileUploadError struct {
	Path  string
	Cause error
}

func (e *FileUploadError) Error() string {
	return fmt.Sprintf("upload of %s failed, destination unreachable: %v", e.Path, e.Cause)
}

func (e *FileUploadError) Unwrap() error { return e.Cause }

// ErrorCategory implements errors.CategorizedError.
func (e *FileUploadError) ErrorCategory() errors.ErrorCategory { return errors.CategoryStorage }

// Metrics receives per-file upload outcomes.
type Metrics interface {
	RecordUpload(store, outcome string, duration time.Duration)
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithRoot sets the directory queue items are relative to.
func WithRoot(root string) Option {
	return func(u *Uploader) { u.root = root }
}

// WithKeyPrefix prepends prefix to every object key.
func WithKeyPrefix(prefix string) Option {
	return func(u *Uploader) { u.prefix = strings.Trim(prefix, "/") }
}

// WithConcurrency sets the number of workers. Values below 1 select the default.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

// WithRateLimit limits how many files per second are started. A zero limit disables throttling.
func WithRateLimit(filesPerSecond float64, burst int) Option {
	return func(u *Uploader) {
		if filesPerSecond <= 0 {
			u.limiter = nil
			return
		}
		u.limiter = rate.NewLimiter(rate.Limit(filesPerSecond), max(burst, 1))
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

// Uploader drains a queue of file paths into an object store and records
// every outcome in its report.
type Uploader struct {
	store       storage.ObjectStore
	report      *Report
	root        string
	prefix      string
	concurrency int
	limiter     *rate.Limiter
	metrics     Metrics
	logger      logger.Logger
}

// NewUploader creates an uploader that writes into store and accounts into report.
func NewUploader(store storage.ObjectStore, report *Report, opts ...Option) *Uploader {
	u := &Uploader{
		store:       store,
		report:      report,
		concurrency: DefaultConcurrency,
		logger:      GetLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Report returns the report this uploader writes to.
func (u *Uploader) Report() *Report { return u.report }

// Upload drains queue with the configured number of workers. A failure of
// one file is recorded and the batch continues. A FileUploadError stops
// every worker and is returned.
func (u *Uploader) Upload(ctx context.Context, queue *Queue[string]) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	for range u.concurrency {
		g.Go(func() error {
			for {
				item, ok := queue.Take(gctx)
				if !ok {
					return nil
				}
				if err := u.uploadOne(gctx, item); err != nil {
					return err
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		u.logger.Error("upload aborted",
			logger.String("store", u.store.Name()),
			logger.Int64("uploaded", u.report.Uploaded()),
			logger.Error(err))
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	u.logger.Info("upload pass complete",
		logger.String("store", u.store.Name()),
		logger.Int64("uploaded", u.report.Uploaded()),
		logger.Int("failed", u.report.FailureCount()),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// uploadOne transfers a single item. Only a FileUploadError is returned.
func (u *Uploader) uploadOne(ctx context.Context, item string) error {
	u.report.ReportUploadCommenced()
	start := time.Now()

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			u.fail(item, err, start)
			return nil
		}
	}

	localPath, key, err := u.resolve(item)
	if err != nil {
		u.fail(item, err, start)
		return nil
	}

	f, err := os.Open(localPath) //nolint:gosec // paths come from the crawler or the capture ledger
	if err != nil {
		u.fail(item, err, start)
		return nil
	}
	defer func() { _ = f.Close() }()

	size := int64(-1)
	if info, statErr := f.Stat(); statErr == nil {
		size = info.Size()
	}

	if err := u.store.Put(ctx, key, f, size); err != nil {
		u.fail(item, err, start)
		if errors.Is(err, storage.ErrDestinationUnreachable) {
			return &FileUploadError{Path: item, Cause: err}
		}
		return nil
	}

	u.report.ReportUploaded()
	if u.metrics != nil {
		u.metrics.RecordUpload(u.store.Name(), OutcomeUploaded, time.Since(start))
	}
	return nil
}

func (u *Uploader) fail(item string, err error, start time.Time) {
	u.report.ReportFailure(item, err.Error())
	u.logger.Warn("file upload failed",
		logger.String("path", item),
		logger.String("store", u.store.Name()),
		logger.Error(err))
	if u.metrics != nil {
		u.metrics.RecordUpload(u.store.Name(), OutcomeFailed, time.Since(start))
	}
}

// resolve maps a queue item to the local file and the object key. Items are
// either relative to the root or absolute paths inside it.
func (u *Uploader) resolve(item string) (localPath, key string, err error) {
	rel := item
	if filepath.IsAbs(item) {
		if u.root == "" {
			rel = strings.TrimPrefix(item, string(filepath.Separator))
		} else if rel, err = filepath.Rel(u.root, item); err != nil {
			return "", "", err
		}
	}
	rel = filepath.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %s is outside the upload root", item)
	}

	localPath = rel
	if u.root != "" {
		localPath = filepath.Join(u.root, rel)
	} else if filepath.IsAbs(item) {
		localPath = item
	}
	return localPath, path.Join(u.prefix, filepath.ToSlash(rel)), nil
}
