package httpdl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
	"github.com/mapstash/mapstash/internal/util/ratelimiter"
)

// Config contains HTTP transport configuration
type Config struct {
	BaseURL          string        // remote root; artifacts live at <base>/<version>/<name>
	Timeout          time.Duration // per-attempt cap
	Attempts         int           // attempts per Start call
	RetryBackoff     time.Duration // pause between attempts
	ProgressInterval time.Duration // minimum spacing of progress reports
	UserAgent        string
}

// DefaultConfig returns transport defaults sized for large artifacts.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          30 * time.Minute,
		Attempts:         3,
		RetryBackoff:     2 * time.Second,
		ProgressInterval: 300 * time.Millisecond,
		UserAgent:        "mapstash",
	}
}

// Downloader fetches artifacts over HTTP. One Start call transfers one
// artifact: it writes to the in-progress path, reports byte progress as
// it reads, and promotes the file to its final path with a rename only
// once complete. A failed transfer leaves the in-progress file behind
// with a resume marker; the next attempt for the same artifact continues
// from the existing bytes with a Range request.
type Downloader struct {
	config *Config
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	cancel map[uuid.UUID]context.CancelFunc
}

var _ port.Downloader = (*Downloader)(nil)

// New creates a new HTTP downloader
func New(config *Config, logger *zap.Logger) *Downloader {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Attempts <= 0 {
		config.Attempts = defaults.Attempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	return &Downloader{
		config: config,
		client: &http.Client{},
		logger: logger,
		cancel: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start begins the transfer on its own goroutine and returns immediately.
func (d *Downloader) Start(t port.Transfer, onProgress port.ProgressFunc, onDone port.DoneFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel[t.Token] = cancel
	d.mu.Unlock()

	go d.run(ctx, t, onProgress, onDone)
}

// Cancel aborts the transfer with the given token. The aborted transfer
// removes its in-progress files and fires no terminal callback.
func (d *Downloader) Cancel(token uuid.UUID) {
	d.mu.Lock()
	cancel, ok := d.cancel[token]
	if ok {
		delete(d.cancel, token)
	}
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Downloader) run(ctx context.Context, t port.Transfer, onProgress port.ProgressFunc, onDone port.DoneFunc) {
	defer d.release(t.Token)

	written, err := d.fetch(ctx, t, onProgress)
	if ctx.Err() != nil {
		// Cancelled on request: stay silent, the caller has already
		// moved on. The fetch may have finished and promoted the
		// artifact before the cancel landed; a cancelled transfer must
		// leave nothing at the final path.
		if err == nil {
			d.unpromote(t)
		}
		d.cleanup(t)
		return
	}
	if err != nil {
		d.logger.Warn("transfer failed",
			zap.String("artifact", t.RemoteName),
			zap.Int64("version", t.Version),
			zap.Error(err))
		onDone(t.Token, 0, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err))
		return
	}
	onDone(t.Token, written, nil)
}

func (d *Downloader) fetch(ctx context.Context, t port.Transfer, onProgress port.ProgressFunc) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= d.config.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(d.config.RetryBackoff):
			}
		}
		written, err := d.attempt(ctx, t, onProgress)
		if err == nil {
			return written, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err
		// Whatever made it to disk is kept for the next attempt.
		d.markResumable(t)
		d.logger.Debug("transfer attempt failed",
			zap.String("artifact", t.RemoteName),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return 0, lastErr
}

func (d *Downloader) attempt(ctx context.Context, t port.Transfer, onProgress port.ProgressFunc) (int64, error) {
	attemptCtx := ctx
	if d.config.Timeout > 0 {
		var cancelAttempt context.CancelFunc
		attemptCtx, cancelAttempt = context.WithTimeout(ctx, d.config.Timeout)
		defer cancelAttempt()
	}

	// A partial file from an earlier attempt is continued only when its
	// resume marker is present; anything else starts over.
	var offset int64
	if info, err := os.Stat(t.TempDest); err == nil {
		if _, err := os.Stat(t.ResumeMark); err == nil && (t.Size <= 0 || info.Size() < t.Size) {
			offset = info.Size()
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, d.artifactURL(t), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", t.RemoteName, err)
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		// Server honored the range; append to the partial file.
	case resp.StatusCode == http.StatusOK:
		offset = 0
	default:
		return 0, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, t.RemoteName)
	}

	if err := os.MkdirAll(filepath.Dir(t.TempDest), 0o755); err != nil {
		return 0, fmt.Errorf("create version dir: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(t.TempDest, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open temp file: %w", err)
	}

	reader := &progressReader{
		reader:  resp.Body,
		total:   offset,
		limiter: ratelimiter.New(d.config.ProgressInterval),
		report:  func(total int64) { onProgress(t.Token, total) },
	}
	copied, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(t.TempDest), err)
	}

	total := offset + copied
	// The coalesced reports may have skipped the last bytes; land exactly
	// on the final count before promotion.
	onProgress(t.Token, total)

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err := os.Rename(t.TempDest, t.Dest); err != nil {
		return 0, fmt.Errorf("promote %s: %w", filepath.Base(t.Dest), err)
	}
	_ = os.Remove(t.ResumeMark)

	d.logger.Info("artifact fetched",
		zap.String("artifact", t.RemoteName),
		zap.Int64("version", t.Version),
		zap.Int64("bytes", total),
		zap.Bool("resumed", offset > 0))
	return total, nil
}

func (d *Downloader) artifactURL(t port.Transfer) string {
	base := strings.TrimSuffix(d.config.BaseURL, "/")
	return fmt.Sprintf("%s/%d/%s", base, t.Version, url.PathEscape(t.RemoteName))
}

// markResumable flags the partial file as continuable. Empty partials are
// not worth resuming.
func (d *Downloader) markResumable(t port.Transfer) {
	info, err := os.Stat(t.TempDest)
	if err != nil || info.Size() == 0 {
		return
	}
	if err := os.WriteFile(t.ResumeMark, nil, 0o644); err != nil {
		d.logger.Warn("write resume marker failed",
			zap.String("path", t.ResumeMark),
			zap.Error(err))
	}
}

// unpromote removes an artifact that reached its final path before the
// cancel took effect. Safe to call unconditionally: transfers are only
// started for parts absent from the registry, so the path can hold
// nothing but this transfer's own output.
func (d *Downloader) unpromote(t port.Transfer) {
	if err := os.Remove(t.Dest); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove cancelled artifact failed",
			zap.String("path", t.Dest),
			zap.Error(err))
	}
}

func (d *Downloader) cleanup(t port.Transfer) {
	if err := os.Remove(t.TempDest); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove cancelled transfer file failed",
			zap.String("path", t.TempDest),
			zap.Error(err))
	}
	_ = os.Remove(t.ResumeMark)
	d.logger.Debug("transfer cancelled",
		zap.String("artifact", t.RemoteName),
		zap.Int64("version", t.Version))
}

func (d *Downloader) release(token uuid.UUID) {
	d.mu.Lock()
	delete(d.cancel, token)
	d.mu.Unlock()
}

// progressReader reports the running byte total as the body streams
// through it, at most once per limiter interval.
type progressReader struct {
	reader  io.Reader
	total   int64
	limiter *ratelimiter.Limiter
	report  func(total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.total += int64(n)
		if allowed, _ := r.limiter.Allow(); allowed {
			r.report(r.total)
		}
	}
	return n, err
}
